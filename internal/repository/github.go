package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/CosmoTheDev/painscan/internal/config"
	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// GitHubClient answers metadata questions for GitHub and GitHub Enterprise.
type GitHubClient struct {
	client *gogithub.Client
	host   string
}

// NewGitHub creates a GitHubClient. base carries retries; the token (when
// set) is layered on top with oauth2.
func NewGitHub(cfg config.GitHubConfig, base *http.Client) (*GitHubClient, error) {
	hc := base
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		hc = oauth2.NewClient(ctx, ts)
	}
	client := gogithub.NewClient(hc)

	host := cfg.Host
	if host == "" {
		host = "github.com"
	}
	// Support GitHub Enterprise by overriding the base URL.
	if host != "github.com" {
		apiBase := fmt.Sprintf("https://%s/api/v3/", host)
		upload := fmt.Sprintf("https://%s/api/uploads/", host)
		var err error
		client, err = client.WithEnterpriseURLs(apiBase, upload)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub enterprise URLs: %w", err)
		}
	}
	return &GitHubClient{client: client, host: host}, nil
}

// Languages returns bytes of code per language as reported by GitHub.
func (g *GitHubClient) Languages(ctx context.Context, ref RepoRef) (map[string]float64, error) {
	langs, _, err := g.client.Repositories.ListLanguages(ctx, ref.Owner, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("listing GitHub languages for %s: %w", ref.FullName(), classifyGitHubError(err))
	}
	out := make(map[string]float64, len(langs))
	for name, n := range langs {
		out[name] = float64(n)
	}
	return out, nil
}

func classifyGitHubError(err error) error {
	var rl *gogithub.RateLimitError
	var abuse *gogithub.AbuseRateLimitError
	if errors.As(err, &rl) || errors.As(err, &abuse) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	var resp *gogithub.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil {
		return classifyStatus(resp.Response.StatusCode, err)
	}
	return err
}

func classifyStatus(code int, err error) error {
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case http.StatusForbidden, http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	default:
		return err
	}
}
