// Package hub resolves pretrained model artifacts by name from an external
// model repository, caching downloads on local disk.
//
// Artifacts are fetched over HTTP using the repository's resolve convention
// and stored under the cache directory, so a warm container never touches the
// network again for the same model revision.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment variable honored as a cache location override.
const envCacheDir = "CACHE_DIR"

// Cache layout and download settings.
const (
	appName               = "csm-api"
	modelsDirName         = "models"
	tmpDir                = "/tmp"
	dotCache              = ".cache"
	partialSuffix         = ".partial"
	defaultDirPermissions = 0o750
	filePermissions       = 0o600
	defaultTimeout        = 10 * time.Minute
)

// Resolve URL convention of the model repository.
const resolveFormat = "%s/%s/resolve/main/%s"

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

// Static errors.
var (
	ErrModelNameEmpty    = errors.New("model name cannot be empty")
	ErrArtifactNameEmpty = errors.New("artifact name cannot be empty")
	ErrArtifactNotFound  = errors.New("artifact not found on hub")
)

// Client downloads model artifacts from a hub and caches them locally.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	cacheDir   string
}

// New creates a hub client. An empty cacheDir falls back to CACHE_DIR, then
// to a per-user cache directory. An empty token disables authentication,
// which is sufficient for public models.
func New(baseURL, token, cacheDir string) *Client {
	if cacheDir == "" {
		cacheDir = defaultCacheDir()
	}

	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		token:    token,
		cacheDir: cacheDir,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// CacheDir returns the directory artifacts are cached under.
func (c *Client) CacheDir() string {
	return c.cacheDir
}

// FetchArtifact returns the local path of a model artifact, downloading it
// from the hub on a cache miss. modelName follows the hub's owner/repo form.
func (c *Client) FetchArtifact(ctx context.Context, modelName, artifactName string) (string, error) {
	if modelName == "" {
		return "", ErrModelNameEmpty
	}

	if artifactName == "" {
		return "", ErrArtifactNameEmpty
	}

	localPath := filepath.Join(c.cacheDir, modelsDirName, modelName, artifactName)

	_, statErr := os.Stat(localPath)
	if statErr == nil {
		return localPath, nil
	}

	if !os.IsNotExist(statErr) {
		return "", fmt.Errorf("error checking cached artifact %q: %w", localPath, statErr)
	}

	downloadErr := c.download(ctx, modelName, artifactName, localPath)
	if downloadErr != nil {
		return "", downloadErr
	}

	return localPath, nil
}

// ReadArtifact fetches an artifact and returns its content. Intended for
// small configuration artifacts, not multi-gigabyte weights.
func (c *Client) ReadArtifact(ctx context.Context, modelName, artifactName string) ([]byte, error) {
	localPath, err := c.FetchArtifact(ctx, modelName, artifactName)
	if err != nil {
		return nil, err
	}

	data, readErr := os.ReadFile(localPath)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read cached artifact %q: %w", localPath, readErr)
	}

	return data, nil
}

// download streams an artifact to disk via a partial file, renaming only
// after the full body has been written so a killed container never leaves a
// truncated artifact behind in the cache.
func (c *Client) download(ctx context.Context, modelName, artifactName, localPath string) error {
	url := fmt.Sprintf(resolveFormat, c.baseURL, modelName, artifactName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	if c.token != "" {
		req.Header.Set(headerAuthorization, bearerPrefix+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download artifact from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, modelName, artifactName)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("hub returned status %s for %s: %s", resp.Status, url, string(body))
	}

	return writeViaPartial(localPath, resp.Body)
}

func writeViaPartial(localPath string, body io.Reader) error {
	dirErr := os.MkdirAll(filepath.Dir(localPath), defaultDirPermissions)
	if dirErr != nil {
		return fmt.Errorf("failed to create cache directory for %q: %w", localPath, dirErr)
	}

	partialPath := localPath + partialSuffix

	file, createErr := os.OpenFile(partialPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermissions)
	if createErr != nil {
		return fmt.Errorf("failed to create partial file %q: %w", partialPath, createErr)
	}

	_, copyErr := io.Copy(file, body)
	closeErr := file.Close()

	if copyErr != nil {
		_ = os.Remove(partialPath)

		return fmt.Errorf("failed to write artifact %q: %w", partialPath, copyErr)
	}

	if closeErr != nil {
		_ = os.Remove(partialPath)

		return fmt.Errorf("failed to close partial file %q: %w", partialPath, closeErr)
	}

	renameErr := os.Rename(partialPath, localPath)
	if renameErr != nil {
		return fmt.Errorf("failed to finalize artifact %q: %w", localPath, renameErr)
	}

	return nil
}

// defaultCacheDir returns the cache directory, honoring CACHE_DIR and
// falling back to a standard user-based location.
func defaultCacheDir() string {
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(tmpDir, appName, "cache")
	}

	return filepath.Join(homeDir, dotCache, appName)
}
