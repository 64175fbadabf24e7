// Package enrich fetches optional post-quality inputs: repository metadata
// (topics, description, homepage) from the GitHub API and AI-condensed
// commit summaries from Gemini. Every failure in this package is
// non-fatal; callers fall back to unenriched composition.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/commitcast/commitcast/internal/domain"
)

// GitHubClient fetches repository metadata from the GitHub REST API.
type GitHubClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewGitHubClient returns a client; token may be empty for anonymous access.
func NewGitHubClient(token string) *GitHubClient {
	return &GitHubClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.github.com",
		token:      token,
	}
}

type repoResponse struct {
	Description string   `json:"description"`
	Homepage    string   `json:"homepage"`
	Topics      []string `json:"topics"`
}

// RepoMetadata fetches topics, description and homepage for "owner/repo".
// Errors are returned for the caller to log; the post proceeds without
// enrichment either way.
func (c *GitHubClient) RepoMetadata(ctx context.Context, repo string) (*domain.RepoEnrichment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/repos/"+repo, nil)
	if err != nil {
		return nil, fmt.Errorf("build repo request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch repo metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github api returned %d for %s", resp.StatusCode, repo)
	}

	var out repoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode repo metadata: %w", err)
	}
	return &domain.RepoEnrichment{
		Description: out.Description,
		Homepage:    out.Homepage,
		Topics:      out.Topics,
	}, nil
}

// Fetch wraps RepoMetadata with the failure-tolerant contract used by the
// orchestrator: any error is logged at debug level and nil is returned.
func (c *GitHubClient) Fetch(ctx context.Context, repo string) *domain.RepoEnrichment {
	if repo == "" {
		return nil
	}
	meta, err := c.RepoMetadata(ctx, repo)
	if err != nil {
		log.Debug().Err(err).Str("repo", repo).Msg("repo enrichment unavailable")
		return nil
	}
	return meta
}
