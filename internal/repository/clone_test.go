package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fakeClone(calls *atomic.Int32) cloneFunc {
	return func(_ context.Context, _, dir, _ string) (string, error) {
		calls.Add(1)
		if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
			return "", err
		}
		return "abc123", nil
	}
}

func testRef() RepoRef {
	return RepoRef{Provider: "github", Host: "github.com", Owner: "acme", Name: "widgets"}
}

func TestCheckoutsReuseFreshCheckout(t *testing.T) {
	var clones, refreshes atomic.Int32
	c := NewCheckouts(t.TempDir(), time.Minute, nil)
	c.clone = fakeClone(&clones)
	c.refresh = func(context.Context, string, string) (string, error) {
		refreshes.Add(1)
		return "abc123", nil
	}

	first, err := c.Acquire(context.Background(), testRef())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := c.Acquire(context.Background(), testRef())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first.Path != second.Path || second.Commit != "abc123" {
		t.Fatalf("checkouts differ: %+v %+v", first, second)
	}
	if clones.Load() != 1 || refreshes.Load() != 0 {
		t.Fatalf("clones=%d refreshes=%d, want 1/0", clones.Load(), refreshes.Load())
	}
}

func TestCheckoutsRecloneStaleCheckout(t *testing.T) {
	root := t.TempDir()
	ref := testRef()
	stale := filepath.Join(root, ref.Key())
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stale, "junk"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var clones atomic.Int32
	c := NewCheckouts(root, time.Minute, nil)
	c.clone = fakeClone(&clones)
	c.refresh = func(context.Context, string, string) (string, error) {
		return "", errors.New("repository does not exist")
	}

	co, err := c.Acquire(context.Background(), ref)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if clones.Load() != 1 {
		t.Fatalf("clones = %d, want 1", clones.Load())
	}
	if _, err := os.Stat(filepath.Join(co.Path, "junk")); !os.IsNotExist(err) {
		t.Fatalf("stale content survived: %v", err)
	}
}

func TestCheckoutsRefreshAfterFreshWindow(t *testing.T) {
	var clones, refreshes atomic.Int32
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCheckouts(t.TempDir(), time.Minute, nil)
	c.now = func() time.Time { return now }
	c.clone = fakeClone(&clones)
	c.refresh = func(context.Context, string, string) (string, error) {
		refreshes.Add(1)
		return "def456", nil
	}

	if _, err := c.Acquire(context.Background(), testRef()); err != nil {
		t.Fatal(err)
	}
	now = now.Add(10 * time.Minute)
	co, err := c.Acquire(context.Background(), testRef())
	if err != nil {
		t.Fatal(err)
	}
	if refreshes.Load() != 1 || co.Commit != "def456" {
		t.Fatalf("refreshes=%d commit=%s", refreshes.Load(), co.Commit)
	}
}

func TestCheckoutsCloneFailureLeavesNothingBehind(t *testing.T) {
	root := t.TempDir()
	c := NewCheckouts(root, time.Minute, nil)
	c.clone = func(_ context.Context, _, dir, _ string) (string, error) {
		_ = os.MkdirAll(dir, 0o755)
		return "", errors.New("network unreachable")
	}
	if _, err := c.Acquire(context.Background(), testRef()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(filepath.Join(root, testRef().Key())); !os.IsNotExist(err) {
		t.Fatalf("partial checkout left behind: %v", err)
	}
}

func TestCheckoutsSerialisesSameRepository(t *testing.T) {
	var clones atomic.Int32
	c := NewCheckouts(t.TempDir(), time.Minute, nil)
	c.clone = fakeClone(&clones)
	c.refresh = func(context.Context, string, string) (string, error) { return "abc123", nil }

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Acquire(context.Background(), testRef()); err != nil {
				t.Errorf("Acquire: %v", err)
			}
		}()
	}
	wg.Wait()
	if clones.Load() != 1 {
		t.Fatalf("clones = %d, want 1", clones.Load())
	}
}
