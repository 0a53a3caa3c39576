package repository

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/CosmoTheDev/painscan/internal/config"
)

var (
	// ErrInvalidURL rejects anything that is not a repository-host URL.
	ErrInvalidURL = errors.New("invalid repository URL")
	// ErrNotFound means the host says the repository does not exist (or is private).
	ErrNotFound = errors.New("repository not found")
	// ErrAuth means the host rejected the configured credentials.
	ErrAuth = errors.New("repository host rejected credentials")
	// ErrRateLimited means the host API quota is exhausted.
	ErrRateLimited = errors.New("repository host rate limit exceeded")
)

var segmentRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// RepoRef identifies a repository on a hosting platform.
type RepoRef struct {
	Provider string // "github" | "gitlab"
	Host     string
	Owner    string // GitLab owners may contain subgroups ("group/sub")
	Name     string
}

// URL is the canonical HTTPS clone URL.
func (r RepoRef) URL() string {
	return fmt.Sprintf("https://%s/%s/%s", r.Host, r.Owner, r.Name)
}

// FullName is "owner/name".
func (r RepoRef) FullName() string { return r.Owner + "/" + r.Name }

// Key is a filesystem-safe identifier for caches.
func (r RepoRef) Key() string {
	return strings.NewReplacer("/", "__", ":", "_").Replace(r.Host + "/" + r.Owner + "/" + r.Name)
}

// DetectProvider infers the hosting platform from a repository URL.
func DetectProvider(repoURL string) (string, error) {
	lower := strings.ToLower(repoURL)
	switch {
	case strings.Contains(lower, "github.com"), strings.Contains(lower, "github."):
		return "github", nil
	case strings.Contains(lower, "gitlab.com"), strings.Contains(lower, "gitlab."):
		return "gitlab", nil
	default:
		return "", fmt.Errorf("%w: cannot detect provider from %q (supported: GitHub, GitLab)", ErrInvalidURL, repoURL)
	}
}

// ParseRepoURL validates raw and returns the repository it points to.
// Browser URLs such as https://github.com/o/r/tree/main are accepted and
// trimmed to the repository root.
func ParseRepoURL(raw string) (RepoRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RepoRef{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return RepoRef{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return RepoRef{}, fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.User != nil {
		return RepoRef{}, fmt.Errorf("%w: credentials are not allowed in the URL", ErrInvalidURL)
	}
	host := strings.ToLower(u.Hostname())
	provider, err := DetectProvider(host)
	if err != nil {
		return RepoRef{}, err
	}

	path := strings.Trim(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s == "-" || s == "tree" || s == "blob" {
			break
		}
		if s != "" {
			segs = append(segs, s)
		}
	}
	if provider == "github" && len(segs) > 2 {
		segs = segs[:2]
	}
	if len(segs) < 2 {
		return RepoRef{}, fmt.Errorf("%w: expected https://%s/<owner>/<repo>", ErrInvalidURL, host)
	}
	for _, s := range segs {
		if !segmentRe.MatchString(s) || s == "." || s == ".." {
			return RepoRef{}, fmt.Errorf("%w: bad path segment %q", ErrInvalidURL, s)
		}
	}

	return RepoRef{
		Provider: provider,
		Host:     host,
		Owner:    strings.Join(segs[:len(segs)-1], "/"),
		Name:     strings.TrimSuffix(segs[len(segs)-1], ".git"),
	}, nil
}

// TokenForProvider returns the first configured token for provider, if any.
func TokenForProvider(cfg config.GitConfig, provider string) string {
	switch provider {
	case "github":
		for _, g := range cfg.GitHub {
			if g.Token != "" {
				return g.Token
			}
		}
	case "gitlab":
		for _, g := range cfg.GitLab {
			if g.Token != "" {
				return g.Token
			}
		}
	}
	return ""
}
