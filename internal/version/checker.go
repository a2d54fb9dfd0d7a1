// Package version compares the running build against the latest GitHub release.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// Owner and Repo locate the release feed.
	Owner = "lukaszraczylo"
	Repo  = "lolcaproxy"

	defaultAPIBase = "https://api.github.com"
	requestTimeout = 5 * time.Second
)

// ReleaseInfo is the subset of a GitHub release we read.
type ReleaseInfo struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Name    string `json:"name"`
}

// UpdateInfo describes a newer release.
type UpdateInfo struct {
	CurrentVersion string
	LatestVersion  string
	ReleaseURL     string
	ReleaseName    string
}

// Checker queries the releases API.
type Checker struct {
	owner   string
	repo    string
	current string
	apiBase string
	client  *http.Client
}

// Option configures a Checker.
type Option func(*Checker)

// WithAPIBase points the checker at another API root.
func WithAPIBase(base string) Option {
	return func(c *Checker) {
		c.apiBase = strings.TrimSuffix(base, "/")
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Checker) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewChecker creates a version checker for owner/repo.
func NewChecker(owner, repo, currentVersion string, opts ...Option) *Checker {
	c := &Checker{
		owner:   owner,
		repo:    repo,
		current: normalizeVersion(currentVersion),
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check reports a newer release, or nil when the build is current. Builds
// without a numeric version never report updates.
func (c *Checker) Check(ctx context.Context) (*UpdateInfo, error) {
	if !isRelease(c.current) {
		return nil, nil
	}

	release, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}

	latest := normalizeVersion(release.TagName)
	if !isNewerVersion(latest, c.current) {
		return nil, nil
	}
	return &UpdateInfo{
		CurrentVersion: c.current,
		LatestVersion:  latest,
		ReleaseURL:     release.HTMLURL,
		ReleaseName:    release.Name,
	}, nil
}

// CheckForUpdate is Check with errors dropped, for background notices.
func (c *Checker) CheckForUpdate(ctx context.Context) *UpdateInfo {
	info, err := c.Check(ctx)
	if err != nil {
		return nil
	}
	return info
}

// Latest fetches the latest release.
func (c *Checker) Latest(ctx context.Context) (*ReleaseInfo, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.apiBase, c.owner, c.repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", Repo+"-version-checker")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release ReleaseInfo
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to decode release: %w", err)
	}

	return &release, nil
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	v = strings.TrimPrefix(v, "V")
	return v
}

func isRelease(v string) bool {
	return v != "" && v[0] >= '0' && v[0] <= '9'
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	latestParts := parseVersion(latest)
	currentParts := parseVersion(current)

	for i := 0; i < len(latestParts) && i < len(currentParts); i++ {
		if latestParts[i] > currentParts[i] {
			return true
		}
		if latestParts[i] < currentParts[i] {
			return false
		}
	}

	// 1.0.1 > 1.0
	return len(latestParts) > len(currentParts)
}

// parseVersion splits a version into numeric parts, ignoring any
// pre-release or build suffix.
func parseVersion(v string) []int {
	if idx := strings.IndexAny(v, "-+"); idx != -1 {
		v = v[:idx]
	}

	parts := strings.Split(v, ".")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		num, _ := strconv.Atoi(p)
		result = append(result, num)
	}
	return result
}

// FormatUpdateMessage formats a user-facing update notice.
func (u *UpdateInfo) FormatUpdateMessage() string {
	return fmt.Sprintf("New version available: %s (current: %s) - %s",
		u.LatestVersion, u.CurrentVersion, u.ReleaseURL)
}
