package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/repository"
	"github.com/CosmoTheDev/painscan/models"
)

const (
	maxFileBytes = 1 << 20
	sniffBytes   = 8000
)

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true, "build": true,
	"target": true, ".venv": true, "venv": true, "__pycache__": true, "third_party": true,
	".next": true, ".idea": true, ".vscode": true, "coverage": true, "bower_components": true,
}

// source resolves repository URLs to checkouts and caches their metadata.
type source struct {
	checkouts CheckoutSource
	languages repository.LanguageSource

	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	cache map[string]cachedMetadata
}

type cachedMetadata struct {
	meta    models.RepoMetadata
	expires time.Time
}

func newSource(deps Deps, cfg config.AnalyzerConfig) *source {
	ttl := time.Duration(cfg.MetadataTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &source{
		checkouts: deps.Checkouts,
		languages: deps.Languages,
		ttl:       ttl,
		now:       time.Now,
		cache:     make(map[string]cachedMetadata),
	}
}

// withCheckout runs fn against a checkout of repoURL. If the checkout turns
// out to have vanished underneath fn it is discarded and fn runs once more on
// a fresh clone.
func (s *source) withCheckout(ctx context.Context, op, repoURL string, fn func(repository.RepoRef, string) error) error {
	ref, err := repository.ParseRepoURL(repoURL)
	if err != nil {
		return classify(op, err)
	}
	if s.checkouts == nil {
		return &Error{Kind: KindInternal, Op: op, Err: errors.New("no checkout source configured")}
	}
	for attempt := 0; attempt < 2; attempt++ {
		co, err := s.checkouts.Acquire(ctx, ref)
		if err != nil {
			return classify(op, err)
		}
		err = fn(ref, co.Path)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) || attempt == 1 {
			return classify(op, err)
		}
		slog.Warn("Checkout disappeared during analysis, re-cloning", "repo", ref.FullName(), "error", err)
		if ferr := s.checkouts.Forget(ref); ferr != nil {
			return classify(op, ferr)
		}
	}
	return nil
}

// Metadata implements the shared half of Analyzer.
func (s *source) Metadata(ctx context.Context, repoURL string) (models.RepoMetadata, error) {
	ref, err := repository.ParseRepoURL(repoURL)
	if err != nil {
		return models.RepoMetadata{}, classify("metadata", err)
	}
	key := ref.Key()
	s.mu.Lock()
	if c, ok := s.cache[key]; ok && s.now().Before(c.expires) {
		s.mu.Unlock()
		return c.meta, nil
	}
	s.mu.Unlock()

	var meta models.RepoMetadata
	err = s.withCheckout(ctx, "metadata", repoURL, func(ref repository.RepoRef, root string) error {
		m, err := computeMetadata(ctx, root)
		if err != nil {
			return err
		}
		if s.languages != nil {
			hostLangs, err := s.languages.Languages(ctx, ref)
			if err != nil {
				// Local detection stands on its own.
				slog.Debug("Host language lookup failed", "repo", ref.FullName(), "error", err)
			} else {
				m.Languages = mergeLanguages(hostLangs, m.Languages)
			}
		}
		meta = m
		return nil
	})
	if err != nil {
		return models.RepoMetadata{}, err
	}

	s.mu.Lock()
	s.cache[key] = cachedMetadata{meta: meta, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return meta, nil
}

// sourceFile is one analysable file in a checkout.
type sourceFile struct {
	Rel      string // slash-separated, relative to the checkout root
	Abs      string
	Size     int64
	Language string
}

// walkSources visits analysable files in lexical order.
func walkSources(ctx context.Context, root string, fn func(sourceFile) error) error {
	if _, err := os.Stat(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || isGenerated(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 || info.Size() > maxFileBytes {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(sourceFile{
			Rel:      filepath.ToSlash(rel),
			Abs:      path,
			Size:     info.Size(),
			Language: languageFor(d.Name()),
		})
	})
}

func isGenerated(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".min.js") ||
		strings.HasSuffix(lower, ".min.css") ||
		strings.HasSuffix(lower, ".pb.go") ||
		strings.HasSuffix(lower, "_generated.go") ||
		lower == "package-lock.json" || lower == "yarn.lock" || lower == "go.sum"
}

// readLines returns the file's lines, or nil for binary content.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sniff := data
	if len(sniff) > sniffBytes {
		sniff = sniff[:sniffBytes]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return nil, nil
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxFileBytes)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
