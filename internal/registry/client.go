// Package registry talks to a remote tool registry over HTTP and implements
// locator.Fetcher on top of it.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/nupi-ai/tool/internal/constants"
	"github.com/nupi-ai/tool/internal/locator"
	"github.com/nupi-ai/tool/internal/reference"
	"github.com/nupi-ai/tool/internal/validate"
	"github.com/nupi-ai/tool/internal/version"
)

const (
	apiPrefix = "/api/v1"

	maxMetadataSize = 10 * 1024 * 1024  // 10 MB
	maxBundleSize   = 500 * 1024 * 1024 // 500 MB
	maxErrorBody    = 4 * 1024
)

// VersionInfo describes a published version of an artifact.
type VersionInfo struct {
	Version        string `json:"version"`
	BundleSize     int64  `json:"bundle_size,omitempty"`
	BundleChecksum string `json:"bundle_checksum,omitempty"`
}

// Artifact is the registry's view of a tool.
type Artifact struct {
	Namespace      string       `json:"namespace"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	LatestVersion  *VersionInfo `json:"latest_version,omitempty"`
	TotalDownloads int64        `json:"total_downloads"`
}

// SearchResult is one hit returned by Search.
type SearchResult struct {
	Namespace      string `json:"namespace"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	LatestVersion  string `json:"latest_version,omitempty"`
	TotalDownloads int64  `json:"total_downloads"`
}

// APIError is returned for any non-2xx response other than 404 on lookups.
type APIError struct {
	Operation string
	Status    int
	Body      string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry %s failed: HTTP %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("registry %s failed: HTTP %d: %s", e.Operation, e.Status, e.Body)
}

// Client is a registry HTTP client. The zero value is not usable; call New.
type Client struct {
	baseURL string
	token   string
	tempDir string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTempDir sets where bundle downloads are staged before verification.
func WithTempDir(dir string) Option {
	return func(c *Client) { c.tempDir = dir }
}

// New creates a client for the registry at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("registry URL is required")
	}
	if err := validate.HTTPURL(baseURL); err != nil {
		return nil, fmt.Errorf("invalid registry URL: %w", err)
	}
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				// Block redirects to non-HTTP(S) schemes (SSRF prevention)
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return fmt.Errorf("redirect to disallowed scheme: %s", req.URL.Scheme)
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the registry base URL.
func (c *Client) URL() string { return c.baseURL }

// HasAuth reports whether a token is configured.
func (c *Client) HasAuth() bool { return c.token != "" }

// Artifact fetches artifact details. It returns (nil, nil) when the
// registry does not know the tool.
func (c *Client) Artifact(ctx context.Context, namespace, name string) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RegistryMetadataTimeout)
	defer cancel()

	var a Artifact
	found, err := c.getJSON(ctx, "fetch artifact", artifactPath(namespace, name), &a)
	if err != nil || !found {
		return nil, err
	}
	return &a, nil
}

// Versions lists every published version of a tool. A tool unknown to the
// registry has no versions.
func (c *Client) Versions(ctx context.Context, namespace, name string) ([]VersionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RegistryMetadataTimeout)
	defer cancel()

	var resp struct {
		Data []VersionInfo `json:"data"`
	}
	if _, err := c.getJSON(ctx, "list versions", artifactPath(namespace, name)+"/versions", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Search queries the registry for tools matching query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RegistryMetadataTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("plugin_type", "tool")
	q.Set("page", "1")
	q.Set("per_page", strconv.Itoa(limit))

	var resp struct {
		Data []struct {
			Artifact struct {
				Namespace      string `json:"namespace"`
				Name           string `json:"name"`
				Description    string `json:"description"`
				LatestVersion  string `json:"latest_version"`
				TotalDownloads int64  `json:"total_downloads"`
			} `json:"artifact"`
		} `json:"data"`
	}
	found, err := c.getJSON(ctx, "search", apiPrefix+"/search?"+q.Encode(), &resp)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &APIError{Operation: "search", Status: http.StatusNotFound}
	}

	results := make([]SearchResult, 0, len(resp.Data))
	for _, item := range resp.Data {
		a := item.Artifact
		results = append(results, SearchResult{
			Namespace:      a.Namespace,
			Name:           a.Name,
			Description:    a.Description,
			LatestVersion:  a.LatestVersion,
			TotalDownloads: a.TotalDownloads,
		})
	}
	return results, nil
}

// MatchingVersion returns the highest published version satisfying ref's
// requirement, or the latest version when ref has none. It returns nil
// when nothing qualifies.
func (c *Client) MatchingVersion(ctx context.Context, ref reference.PluginRef) (*VersionInfo, error) {
	if !ref.HasVersion() {
		a, err := c.Artifact(ctx, ref.Namespace(), ref.Name())
		if err != nil || a == nil {
			return nil, err
		}
		return a.LatestVersion, nil
	}

	versions, err := c.Versions(ctx, ref.Namespace(), ref.Name())
	if err != nil {
		return nil, err
	}
	var (
		best    *VersionInfo
		bestVer *semver.Version
	)
	for i := range versions {
		v, err := semver.NewVersion(versions[i].Version)
		if err != nil || !ref.Matches(v) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = &versions[i], v
		}
	}
	return best, nil
}

// FetchTool implements locator.Fetcher. References without a namespace
// cannot be fetched and report not found.
func (c *Client) FetchTool(ctx context.Context, ref reference.PluginRef) (*locator.FetchedBundle, error) {
	if !ref.HasNamespace() {
		return nil, nil
	}
	info, err := c.MatchingVersion(ctx, ref)
	if err != nil || info == nil {
		return nil, err
	}

	data, err := c.Download(ctx, ref.Namespace(), ref.Name(), info.Version, info.BundleChecksum)
	if err != nil || data == nil {
		return nil, err
	}
	return &locator.FetchedBundle{Data: data, Version: info.Version}, nil
}

// Download retrieves the bundle for an exact version. When checksum is
// non-empty the payload must match it. It returns (nil, nil) on 404.
func (c *Client) Download(ctx context.Context, namespace, name, ver, checksum string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RegistryDownloadTimeout)
	defer cancel()

	path := artifactPath(namespace, name) + "/versions/" + url.PathEscape(ver) + "/download"
	resp, err := c.do(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s@%s: %w", namespace, name, ver, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("download", resp)
	}

	tmp, err := downloadToTemp(resp.Body, c.tempDir)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s@%s: %w", namespace, name, ver, err)
	}
	defer tmp.remove()

	if err := verifySHA256(tmp.path, checksum); err != nil {
		if !errors.Is(err, errNoChecksum) {
			return nil, fmt.Errorf("verify %s/%s@%s: %w", namespace, name, ver, err)
		}
		log.Printf("[Registry] WARNING: no checksum published for %s/%s@%s, skipping verification", namespace, name, ver)
	}
	return tmp.read()
}

func artifactPath(namespace, name string) string {
	return apiPrefix + "/artifacts/" + url.PathEscape(namespace) + "/" + url.PathEscape(name)
}

// getJSON decodes a 200 response into out. A 404 yields (false, nil).
func (c *Client) getJSON(ctx context.Context, op, path string, out any) (bool, error) {
	resp, err := c.do(ctx, path)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, apiError(op, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize+1))
	if err != nil {
		return false, fmt.Errorf("%s: read response body: %w", op, err)
	}
	if int64(len(data)) > maxMetadataSize {
		return false, fmt.Errorf("%s: response exceeds maximum size (%d bytes)", op, maxMetadataSize)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return true, nil
}

func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		Operation: op,
		Status:    resp.StatusCode,
		Body:      strings.TrimSpace(string(body)),
	}
}

// Ensure the client satisfies the locator port.
var _ locator.Fetcher = (*Client)(nil)

