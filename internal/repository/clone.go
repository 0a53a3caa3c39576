package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Checkout is a local working copy ready for analysis.
type Checkout struct {
	Path   string
	Commit string
}

// cloneFunc performs a fresh shallow clone into dir.
type cloneFunc func(ctx context.Context, url, dir, token string) (string, error)

// refreshFunc brings an existing checkout up to date and returns HEAD.
type refreshFunc func(ctx context.Context, dir, token string) (string, error)

// Checkouts caches shallow clones under a root directory. A checkout is
// reused between phases and scans of the same repository; a checkout that
// cannot be opened or refreshed is discarded and cloned again.
type Checkouts struct {
	root    string
	timeout time.Duration
	fresh   time.Duration
	token   func(provider string) string

	clone   cloneFunc
	refresh refreshFunc
	now     func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	synced map[string]checkoutState
}

type checkoutState struct {
	at     time.Time
	commit string
}

// NewCheckouts creates a checkout cache rooted at root. token maps a
// provider name to the credential used for cloning ("" for anonymous).
func NewCheckouts(root string, timeout time.Duration, token func(provider string) string) *Checkouts {
	if token == nil {
		token = func(string) string { return "" }
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Checkouts{
		root:    root,
		timeout: timeout,
		fresh:   5 * time.Minute,
		token:   token,
		clone:   gitClone,
		refresh: gitRefresh,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
		synced:  make(map[string]checkoutState),
	}
}

func (c *Checkouts) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// Acquire returns an up-to-date checkout of ref, cloning it when needed.
// Concurrent calls for the same repository are serialised.
func (c *Checkouts) Acquire(ctx context.Context, ref RepoRef) (Checkout, error) {
	key := ref.Key()
	l := c.lockFor(key)
	l.Lock()
	defer l.Unlock()

	dir := filepath.Join(c.root, key)
	token := c.token(ref.Provider)

	c.mu.Lock()
	st, seen := c.synced[key]
	c.mu.Unlock()
	if seen && c.now().Sub(st.at) < c.fresh {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return Checkout{Path: dir, Commit: st.commit}, nil
		}
	}

	if _, err := os.Stat(dir); err == nil {
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		commit, err := c.refresh(opCtx, dir, token)
		cancel()
		if err == nil {
			c.markSynced(key, commit)
			return Checkout{Path: dir, Commit: commit}, nil
		}
		if ctx.Err() != nil {
			return Checkout{}, ctx.Err()
		}
		slog.Warn("Discarding stale checkout", "repo", ref.FullName(), "path", dir, "error", err)
		if err := os.RemoveAll(dir); err != nil {
			return Checkout{}, fmt.Errorf("removing stale checkout %s: %w", dir, err)
		}
	}

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return Checkout{}, fmt.Errorf("creating checkout cache: %w", err)
	}
	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	slog.Debug("Cloning repository", "url", ref.URL(), "depth", 1, "dest", dir)
	commit, err := c.clone(opCtx, ref.URL(), dir, token)
	if err != nil {
		_ = os.RemoveAll(dir)
		return Checkout{}, classifyGitError(ref, err)
	}
	c.markSynced(key, commit)
	return Checkout{Path: dir, Commit: commit}, nil
}

// Forget drops the cached checkout for ref so the next Acquire clones again.
func (c *Checkouts) Forget(ref RepoRef) error {
	key := ref.Key()
	l := c.lockFor(key)
	l.Lock()
	defer l.Unlock()
	c.mu.Lock()
	delete(c.synced, key)
	c.mu.Unlock()
	return os.RemoveAll(filepath.Join(c.root, key))
}

func (c *Checkouts) markSynced(key, commit string) {
	c.mu.Lock()
	c.synced[key] = checkoutState{at: c.now(), commit: commit}
	c.mu.Unlock()
}

func authFor(token string) *githttp.BasicAuth {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "painscan", Password: token}
}

func gitClone(ctx context.Context, url, dir, token string) (string, error) {
	opts := &gogit.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	}
	if auth := authFor(token); auth != nil {
		opts.Auth = auth
	}
	repo, err := gogit.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func gitRefresh(ctx context.Context, dir, token string) (string, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("opening checkout: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	opts := &gogit.PullOptions{Depth: 1, Force: true, SingleBranch: true}
	if auth := authFor(token); auth != nil {
		opts.Auth = auth
	}
	if err := wt.PullContext(ctx, opts); err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("pulling: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func classifyGitError(ref RepoRef, err error) error {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return fmt.Errorf("cloning %s: %w", ref.URL(), ErrNotFound)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		// Hosts answer 401 for private or missing repositories when anonymous.
		return fmt.Errorf("cloning %s: %w: %v", ref.URL(), ErrNotFound, err)
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return fmt.Errorf("cloning %s: repository is empty: %w", ref.URL(), err)
	default:
		return fmt.Errorf("cloning %s: %w", ref.URL(), err)
	}
}
