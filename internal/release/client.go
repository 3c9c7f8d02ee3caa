package release

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lucasew/mise-gettext-builder/internal/config"
	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

var (
	// ErrNothingToPublish reports a publish attempt with zero successful
	// artifacts. No release is created in that case.
	ErrNothingToPublish = errors.New("nothing to publish")

	// ErrPublishFailed reports a release hosting API failure
	ErrPublishFailed = errors.New("publish failed")
)

// Release is a published release on the hosting service
type Release struct {
	ID      int64   `json:"id"`
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	Body    string  `json:"body,omitempty"`
	Draft   bool    `json:"draft"`
	Assets  []Asset `json:"assets"`
}

// Asset is a file attached to a release
type Asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// HasAsset reports whether the release already carries an asset name
func (r *Release) HasAsset(name string) bool {
	for _, a := range r.Assets {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Client talks to the GitHub releases REST API. All calls go through a
// shared rate limiter so a large backlog does not trip secondary rate
// limits.
type Client struct {
	cfg        config.ReleaseConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewClient builds a release API client from configuration
func NewClient(cfg config.ReleaseConfig) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), 3),
		logger:     logger.NewLogger("release"),
	}
}

// do sends one API request with auth and rate limiting applied
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	return c.httpClient.Do(req)
}

func (c *Client) apiURL(format string, args ...any) string {
	return strings.TrimSuffix(c.cfg.APIURL, "/") + fmt.Sprintf(format, args...)
}

func (c *Client) repoPath() string {
	return fmt.Sprintf("/repos/%s/%s", c.cfg.Owner, c.cfg.Repo)
}

// ListReleases pages through every release of the repository
func (c *Client) ListReleases(ctx context.Context) ([]Release, error) {
	var all []Release

	for page := 1; ; page++ {
		u := c.apiURL("%s/releases?per_page=100&page=%d", c.repoPath(), page)
		resp, err := c.do(ctx, http.MethodGet, u, nil, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list releases: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return nil, fmt.Errorf("release listing returned status %d", resp.StatusCode)
		}

		var batch []Release
		err = json.NewDecoder(resp.Body).Decode(&batch)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode release listing: %w", err)
		}

		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

// ListTags returns the tag of every existing release
func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	releases, err := c.ListReleases(ctx)
	if err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(releases))
	for _, r := range releases {
		tags = append(tags, r.TagName)
	}
	return tags, nil
}

// GetReleaseByTag fetches one release, returning nil without error when
// the tag has no release yet.
func (c *Client) GetReleaseByTag(ctx context.Context, tag string) (*Release, error) {
	u := c.apiURL("%s/releases/tags/%s", c.repoPath(), url.PathEscape(tag))
	resp, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release %s: %w", tag, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("release lookup for %s returned status %d", tag, resp.StatusCode)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("failed to decode release %s: %w", tag, err)
	}
	return &rel, nil
}

// CreateRelease creates a new release for a tag
func (c *Client) CreateRelease(ctx context.Context, tag, name, body string) (*Release, error) {
	payload, err := json.Marshal(map[string]any{
		"tag_name": tag,
		"name":     name,
		"body":     body,
		"draft":    c.cfg.Draft,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode release payload: %w", err)
	}

	u := c.apiURL("%s/releases", c.repoPath())
	resp, err := c.do(ctx, http.MethodPost, u, bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to create release %s: %w", tag, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("release creation for %s returned status %d: %s", tag, resp.StatusCode, msg)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("failed to decode created release %s: %w", tag, err)
	}

	c.logger.WithFields(logger.Fields{
		"tag": tag,
		"id":  rel.ID,
	}).Info("Created release")
	return &rel, nil
}

// UploadAsset attaches a file to a release under the given asset name
func (c *Client) UploadAsset(ctx context.Context, releaseID int64, name, path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat asset %s: %w", path, err)
	}

	u := fmt.Sprintf("%s/repos/%s/%s/releases/%d/assets?name=%s",
		strings.TrimSuffix(c.cfg.UploadURL, "/"), c.cfg.Owner, c.cfg.Repo, releaseID, url.QueryEscape(name))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, f)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/gzip")
	req.ContentLength = stat.Size()
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload asset %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("asset upload %s returned status %d: %s", name, resp.StatusCode, msg)
	}

	var asset Asset
	if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
		return nil, fmt.Errorf("failed to decode uploaded asset %s: %w", name, err)
	}

	c.logger.WithFields(logger.Fields{
		"asset": name,
		"bytes": stat.Size(),
	}).Info("Uploaded asset")
	return &asset, nil
}

// DeleteAsset removes an existing asset, used by the overwrite policy
func (c *Client) DeleteAsset(ctx context.Context, assetID int64) error {
	u := c.apiURL("%s/releases/assets/%d", c.repoPath(), assetID)
	resp, err := c.do(ctx, http.MethodDelete, u, nil, "")
	if err != nil {
		return fmt.Errorf("failed to delete asset %d: %w", assetID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("asset deletion %d returned status %d", assetID, resp.StatusCode)
	}
	return nil
}
