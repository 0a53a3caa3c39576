// Package store persists scan records. Every read-modify-write cycle is
// serialized inside the store, so concurrent pipeline writes and HTTP reads
// never observe a torn record.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/database"
	"github.com/CosmoTheDev/painscan/models"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("scan record not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("scan record already exists")
	// ErrImmutable is returned when patching a record that already finished.
	ErrImmutable = errors.New("scan record is finished and can no longer change")
)

// Store is the persistence port for scan records.
type Store interface {
	Create(ctx context.Context, rec models.ScanRecord) error
	Get(ctx context.Context, id string) (models.ScanRecord, error)
	// Update shallow-merges p into the record and returns the result.
	Update(ctx context.Context, id string, p Patch) (models.ScanRecord, error)
	Delete(ctx context.Context, id string) error
	ListIDs(ctx context.Context) ([]string, error)
	Close() error
}

// Patch is a partial record update. Nil fields are left unchanged.
// AppendLogs is appended atomically with the rest of the patch, so two
// concurrent appends can never overwrite each other.
type Patch struct {
	Status     *models.ScanStatus
	Findings   *[]models.EnrichedFinding
	Stats      *models.Stats
	AppendLogs []models.LogEntry
}

// IsEmpty reports whether applying p would change nothing.
func (p Patch) IsEmpty() bool {
	return p.Status == nil && p.Findings == nil && p.Stats == nil && len(p.AppendLogs) == 0
}

// StatusPatch is shorthand for a patch that only moves the status.
func StatusPatch(s models.ScanStatus) Patch {
	return Patch{Status: &s}
}

// apply merges p into rec following the record lifecycle rules.
func apply(rec *models.ScanRecord, p Patch) error {
	if rec.Status.IsTerminal() {
		return ErrImmutable
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Findings != nil {
		rec.Findings = append([]models.EnrichedFinding{}, (*p.Findings)...)
	}
	if p.Stats != nil {
		st := *p.Stats
		rec.Stats = &st
	}
	rec.Logs = append(rec.Logs, p.AppendLogs...)
	return nil
}

func validateNew(rec models.ScanRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("scan record id is required")
	}
	if rec.Status == "" {
		return fmt.Errorf("scan record %s has no status", rec.ID)
	}
	return nil
}

// New opens the store selected by cfg.Store.Driver.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "file", "":
		return NewFileStore(cfg.Store.Path)
	case "sqlite", "mysql":
		dbCfg := cfg.Database
		dbCfg.Driver = cfg.Store.Driver
		db, err := database.New(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return NewSQLStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q (supported: file, sqlite, mysql)", cfg.Store.Driver)
	}
}
