// Package hub_test tests model artifact resolution and caching.
package hub_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/book-expert/csm-api/internal/tts/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModelName = "acme/test-voice"

// newHubServer serves a single artifact at the hub resolve path and counts
// how many times it was hit.
func newHubServer(t *testing.T, artifactName string, content []byte, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, request *http.Request) {
			expectedPath := "/" + testModelName + "/resolve/main/" + artifactName
			if request.URL.Path != expectedPath {
				responseWriter.WriteHeader(http.StatusNotFound)

				return
			}

			hits.Add(1)

			_, err := responseWriter.Write(content)
			if err != nil {
				t.Errorf("failed to write artifact body: %v", err)
			}
		},
	))
}

func TestFetchArtifactDownloadsAndCaches(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	content := []byte(`{"sample_rate": 24000}`)
	server := newHubServer(t, "config.json", content, &hits)
	defer server.Close()

	client := hub.New(server.URL, "", t.TempDir())

	localPath, err := client.FetchArtifact(context.Background(), testModelName, "config.json")
	require.NoError(t, err)

	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	// Second fetch must be served from the cache.
	secondPath, err := client.FetchArtifact(context.Background(), testModelName, "config.json")
	require.NoError(t, err)
	assert.Equal(t, localPath, secondPath)
	assert.Equal(t, int64(1), hits.Load(), "cache hit must not touch the hub")
}

func TestFetchArtifactReportsMissingArtifact(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	server := newHubServer(t, "config.json", nil, &hits)
	defer server.Close()

	client := hub.New(server.URL, "", t.TempDir())

	_, err := client.FetchArtifact(context.Background(), testModelName, "missing.onnx")
	require.ErrorIs(t, err, hub.ErrArtifactNotFound)
}

func TestFetchArtifactValidatesInputs(t *testing.T) {
	t.Parallel()

	client := hub.New("http://127.0.0.1:0", "", t.TempDir())

	_, err := client.FetchArtifact(context.Background(), "", "config.json")
	require.ErrorIs(t, err, hub.ErrModelNameEmpty)

	_, err = client.FetchArtifact(context.Background(), testModelName, "")
	require.ErrorIs(t, err, hub.ErrArtifactNameEmpty)
}

func TestFetchArtifactSendsBearerToken(t *testing.T) {
	t.Parallel()

	gotAuth := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, request *http.Request) {
			gotAuth <- request.Header.Get("Authorization")

			_, _ = responseWriter.Write([]byte("weights"))
		},
	))
	defer server.Close()

	client := hub.New(server.URL, "hf_secret", t.TempDir())

	_, err := client.FetchArtifact(context.Background(), testModelName, "model.onnx")
	require.NoError(t, err)
	assert.Equal(t, "Bearer hf_secret", <-gotAuth)
}

func TestReadArtifactReturnsContent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	content := []byte(`[1, 2, 3]`)
	server := newHubServer(t, "indexer.json", content, &hits)
	defer server.Close()

	client := hub.New(server.URL, "", t.TempDir())

	data, err := client.ReadArtifact(context.Background(), testModelName, "indexer.json")
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestFetchArtifactLeavesNoPartialFileOnFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, _ *http.Request) {
			responseWriter.WriteHeader(http.StatusInternalServerError)
		},
	))
	defer server.Close()

	cacheDir := t.TempDir()
	client := hub.New(server.URL, "", cacheDir)

	_, err := client.FetchArtifact(context.Background(), testModelName, "model.onnx")
	require.Error(t, err)

	entries, globErr := filepath.Glob(filepath.Join(cacheDir, "models", testModelName, "*"))
	require.NoError(t, globErr)
	assert.Empty(t, entries)
}
