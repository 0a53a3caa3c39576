package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/CosmoTheDev/painscan/internal/config"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// GitLabClient answers metadata questions for GitLab (cloud and self-hosted).
type GitLabClient struct {
	client *gitlab.Client
	host   string
}

// NewGitLab creates a GitLabClient from the given configuration.
func NewGitLab(cfg config.GitLabConfig, base *http.Client) (*GitLabClient, error) {
	opts := []gitlab.ClientOptionFunc{gitlab.WithHTTPClient(base)}
	host := cfg.Host
	if host == "" {
		host = "gitlab.com"
	}
	if host != "gitlab.com" {
		opts = append(opts, gitlab.WithBaseURL(fmt.Sprintf("https://%s/api/v4/", host)))
	}

	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GitLab client: %w", err)
	}
	return &GitLabClient{client: client, host: host}, nil
}

// Languages returns the percentage of code per language as reported by GitLab.
func (g *GitLabClient) Languages(ctx context.Context, ref RepoRef) (map[string]float64, error) {
	langs, _, err := g.client.Projects.GetProjectLanguages(ref.FullName(), gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("listing GitLab languages for %s: %w", ref.FullName(), classifyGitLabError(err))
	}
	out := make(map[string]float64)
	if langs != nil {
		for name, pct := range *langs {
			out[name] = float64(pct)
		}
	}
	return out, nil
}

func classifyGitLabError(err error) error {
	var resp *gitlab.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil {
		return classifyStatus(resp.Response.StatusCode, err)
	}
	return err
}
