package repository

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/hashicorp/go-retryablehttp"
)

// LanguageSource reports the language breakdown a hosting platform holds
// for a repository.
type LanguageSource interface {
	Languages(ctx context.Context, ref RepoRef) (map[string]float64, error)
}

// Hosts routes metadata calls to the right platform client, creating one
// client per host on first use.
type Hosts struct {
	cfg  config.GitConfig
	base *http.Client

	mu      sync.Mutex
	clients map[string]LanguageSource
}

// NewHosts returns a Hosts backed by a retrying HTTP client.
func NewHosts(cfg config.GitConfig) *Hosts {
	return &Hosts{cfg: cfg, base: newRetryingClient(), clients: make(map[string]LanguageSource)}
}

func newRetryingClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			slog.Debug("Retrying host API request", "url", req.URL.String(), "attempt", attempt)
		}
	}
	hc := rc.StandardClient()
	hc.Timeout = 30 * time.Second
	return hc
}

// Languages implements LanguageSource.
func (h *Hosts) Languages(ctx context.Context, ref RepoRef) (map[string]float64, error) {
	client, err := h.clientFor(ref)
	if err != nil {
		return nil, err
	}
	return client.Languages(ctx, ref)
}

func (h *Hosts) clientFor(ref RepoRef) (LanguageSource, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := ref.Provider + "|" + ref.Host
	if c, ok := h.clients[key]; ok {
		return c, nil
	}

	var (
		c   LanguageSource
		err error
	)
	switch ref.Provider {
	case "github":
		gc := config.GitHubConfig{Host: ref.Host}
		for _, g := range h.cfg.GitHub {
			if hostMatches(g.Host, ref.Host, "github.com") {
				gc.Token = g.Token
				break
			}
		}
		c, err = NewGitHub(gc, h.base)
	case "gitlab":
		gc := config.GitLabConfig{Host: ref.Host}
		for _, g := range h.cfg.GitLab {
			if hostMatches(g.Host, ref.Host, "gitlab.com") {
				gc.Token = g.Token
				break
			}
		}
		c, err = NewGitLab(gc, h.base)
	default:
		err = fmt.Errorf("%w: unsupported provider %q", ErrInvalidURL, ref.Provider)
	}
	if err != nil {
		return nil, err
	}
	h.clients[key] = c
	return c, nil
}

func hostMatches(configured, actual, def string) bool {
	if configured == "" {
		configured = def
	}
	return configured == actual
}
