package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CosmoTheDev/painscan/internal/database"
	"github.com/CosmoTheDev/painscan/models"
)

// SQLStore keeps records in scan_records and their logs in scan_record_logs.
// An update is one transaction: a conditional UPDATE that only matches a
// record still scanning, then the log INSERTs. A finished record therefore
// cannot be reopened or gain log rows, even from another process.
type SQLStore struct {
	db database.DB
	mu sync.Mutex
}

type recordRow struct {
	ID            string         `db:"id"`
	RepositoryURL string         `db:"repository_url"`
	Status        string         `db:"status"`
	FindingsJSON  string         `db:"findings_json"`
	StatsJSON     sql.NullString `db:"stats_json"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

type logRow struct {
	ID      int64  `db:"id"`
	ScanID  string `db:"scan_id"`
	TS      string `db:"ts"`
	Phase   string `db:"phase"`
	Message string `db:"message"`
}

// NewSQLStore wraps an already-migrated database.
func NewSQLStore(db database.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Create(ctx context.Context, rec models.ScanRecord) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getRow(ctx, rec.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, rec.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	findings, err := json.Marshal(nonNilFindings(rec.Findings))
	if err != nil {
		return fmt.Errorf("encoding findings: %w", err)
	}
	row := recordRow{
		ID:            rec.ID,
		RepositoryURL: rec.RepositoryURL,
		Status:        string(rec.Status),
		FindingsJSON:  string(findings),
		CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if rec.Stats != nil {
		raw, err := json.Marshal(rec.Stats)
		if err != nil {
			return fmt.Errorf("encoding stats: %w", err)
		}
		row.StatsJSON = sql.NullString{String: string(raw), Valid: true}
	}
	return s.db.InTx(ctx, func(tx database.DB) error {
		if _, err := tx.Insert(ctx, "scan_records", row); err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("%w: %s", ErrExists, rec.ID)
			}
			return fmt.Errorf("inserting scan record: %w", err)
		}
		return insertLogs(ctx, tx, rec.ID, rec.Logs)
	})
}

func (s *SQLStore) Get(ctx context.Context, id string) (models.ScanRecord, error) {
	row, err := s.getRow(ctx, id)
	if err != nil {
		return models.ScanRecord{}, err
	}
	return s.assemble(ctx, row)
}

func (s *SQLStore) Update(ctx context.Context, id string, p Patch) (models.ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.getRow(ctx, id)
	if err != nil {
		return models.ScanRecord{}, err
	}
	if models.ScanStatus(row.Status).IsTerminal() {
		return models.ScanRecord{}, fmt.Errorf("%w: %s", ErrImmutable, id)
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}
	if p.Findings != nil {
		raw, err := json.Marshal(nonNilFindings(*p.Findings))
		if err != nil {
			return models.ScanRecord{}, fmt.Errorf("encoding findings: %w", err)
		}
		sets = append(sets, "findings_json = ?")
		args = append(args, string(raw))
	}
	if p.Stats != nil {
		raw, err := json.Marshal(p.Stats)
		if err != nil {
			return models.ScanRecord{}, fmt.Errorf("encoding stats: %w", err)
		}
		sets = append(sets, "stats_json = ?")
		args = append(args, string(raw))
	}
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	args = append(args, id, string(models.StatusScanning))

	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	query := fmt.Sprintf("UPDATE scan_records SET %s WHERE id = ? AND status = ?", strings.Join(sets, ", "))
	err = s.db.InTx(ctx, func(tx database.DB) error {
		n, err := tx.ExecAffected(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("updating scan record %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrImmutable, id)
		}
		return insertLogs(ctx, tx, id, p.AppendLogs)
	})
	if err != nil {
		return models.ScanRecord{}, err
	}

	row, err = s.getRow(ctx, id)
	if err != nil {
		return models.ScanRecord{}, err
	}
	return s.assemble(ctx, row)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.InTx(ctx, func(tx database.DB) error {
		n, err := tx.ExecAffected(ctx, `DELETE FROM scan_records WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting scan record %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := tx.Exec(ctx, `DELETE FROM scan_record_logs WHERE scan_id = ?`, id); err != nil {
			return fmt.Errorf("deleting logs for %s: %w", id, err)
		}
		return nil
	})
}

func (s *SQLStore) ListIDs(ctx context.Context) ([]string, error) {
	var rows []struct {
		ID string `db:"id"`
	}
	if err := s.db.Select(ctx, &rows, `SELECT id FROM scan_records ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("listing scan records: %w", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) getRow(ctx context.Context, id string) (recordRow, error) {
	var row recordRow
	err := s.db.Get(ctx, &row,
		`SELECT id, repository_url, status, findings_json, stats_json, created_at, updated_at
		 FROM scan_records WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return row, fmt.Errorf("loading scan record %s: %w", id, err)
	}
	return row, nil
}

func (s *SQLStore) assemble(ctx context.Context, row recordRow) (models.ScanRecord, error) {
	rec := models.ScanRecord{
		ID:            row.ID,
		RepositoryURL: row.RepositoryURL,
		Status:        models.ScanStatus(row.Status),
		Findings:      []models.EnrichedFinding{},
		Logs:          []models.LogEntry{},
	}
	if t, err := time.Parse(time.RFC3339Nano, row.CreatedAt); err == nil {
		rec.CreatedAt = t
	}
	if err := json.Unmarshal([]byte(row.FindingsJSON), &rec.Findings); err != nil {
		return rec, fmt.Errorf("decoding findings for %s: %w", row.ID, err)
	}
	if row.StatsJSON.Valid && row.StatsJSON.String != "" {
		var st models.Stats
		if err := json.Unmarshal([]byte(row.StatsJSON.String), &st); err != nil {
			return rec, fmt.Errorf("decoding stats for %s: %w", row.ID, err)
		}
		rec.Stats = &st
	}

	var logs []logRow
	if err := s.db.Select(ctx, &logs,
		`SELECT id, scan_id, ts, phase, message FROM scan_record_logs WHERE scan_id = ? ORDER BY id`, row.ID); err != nil {
		return rec, fmt.Errorf("loading logs for %s: %w", row.ID, err)
	}
	for _, l := range logs {
		ts, _ := time.Parse(time.RFC3339Nano, l.TS)
		rec.Logs = append(rec.Logs, models.LogEntry{Timestamp: ts, Phase: l.Phase, Message: l.Message})
	}
	return rec, nil
}

func insertLogs(ctx context.Context, db database.DB, id string, entries []models.LogEntry) error {
	for _, e := range entries {
		_, err := db.Insert(ctx, "scan_record_logs", logRow{
			ScanID:  id,
			TS:      e.Timestamp.UTC().Format(time.RFC3339Nano),
			Phase:   e.Phase,
			Message: e.Message,
		})
		if err != nil {
			return fmt.Errorf("appending log for %s: %w", id, err)
		}
	}
	return nil
}

func nonNilFindings(f []models.EnrichedFinding) []models.EnrichedFinding {
	if f == nil {
		return []models.EnrichedFinding{}
	}
	return f
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate entry")
}
