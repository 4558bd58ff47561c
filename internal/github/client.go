package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMissingSHA is returned when the commit endpoint responds with valid JSON
// that lacks the sha field.
var ErrMissingSHA = errors.New("commit response missing sha field")

// userAgent identifies ghsyncd to the API; GitHub rejects requests without one.
const userAgent = "ghsyncd (+https://github.com/schaermu/ghsyncd)"

// Bounded timeouts so a stalled transfer cannot wedge a sync cycle. Archive
// downloads get a longer budget than the small commit-info request.
const (
	apiTimeout     = 30 * time.Second
	archiveTimeout = 5 * time.Minute
)

// maxCommitBody caps the commit-info response; the endpoint returns a few KB.
const maxCommitBody = 1 << 20

// Fetcher resolves branch heads and downloads branch snapshot archives
type Fetcher interface {
	// LatestCommit returns the SHA of the branch head
	LatestCommit(ctx context.Context, owner, repo, branch string) (string, error)
	// DownloadArchive returns the zip archive of the branch tree
	DownloadArchive(ctx context.Context, owner, repo, branch string) ([]byte, error)
}

// Client implements Fetcher against the GitHub REST API
type Client struct {
	apiBaseURL string
	webBaseURL string
	token      string
	api        *http.Client
	web        *http.Client
}

// NewClient creates a new GitHub client. token may be empty for anonymous
// access. Base URLs default to the public GitHub hosts when empty.
func NewClient(apiBaseURL, webBaseURL, token string) *Client {
	if apiBaseURL == "" {
		apiBaseURL = "https://api.github.com"
	}
	if webBaseURL == "" {
		webBaseURL = "https://github.com"
	}
	return &Client{
		apiBaseURL: strings.TrimSuffix(apiBaseURL, "/"),
		webBaseURL: strings.TrimSuffix(webBaseURL, "/"),
		token:      token,
		api:        &http.Client{Timeout: apiTimeout},
		web:        &http.Client{Timeout: archiveTimeout},
	}
}

// LatestCommit resolves the SHA of the branch head via the commit-info endpoint
func (c *Client) LatestCommit(ctx context.Context, owner, repo, branch string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/commits/%s", c.apiBaseURL, owner, repo, branch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build commit request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.api.Do(req)
	if err != nil {
		return "", fmt.Errorf("commit lookup failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("commit lookup for %s/%s@%s returned %s", owner, repo, branch, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCommitBody))
	if err != nil {
		return "", fmt.Errorf("failed to read commit response: %w", err)
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(body, &commit); err != nil {
		return "", fmt.Errorf("failed to parse commit response: %w", err)
	}
	if commit.SHA == "" {
		return "", fmt.Errorf("%w for %s/%s@%s", ErrMissingSHA, owner, repo, branch)
	}

	return commit.SHA, nil
}

// DownloadArchive fetches the zip snapshot of the branch tree. The whole body
// is buffered in memory; branch archives for content mirroring stay small.
func (c *Client) DownloadArchive(ctx context.Context, owner, repo, branch string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/archive/refs/heads/%s.zip", c.webBaseURL, owner, repo, branch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build archive request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.web.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive download failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("archive download for %s/%s@%s returned %s", owner, repo, branch, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("archive download for %s/%s@%s returned an empty body", owner, repo, branch)
	}

	return data, nil
}
