// Package server_test tests the HTTP endpoints against a mock model.
package server_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/book-expert/csm-api/internal/core"
	"github.com/book-expert/csm-api/internal/server"
	"github.com/book-expert/csm-api/internal/tts"
	"github.com/book-expert/logger"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockSynthesis = errors.New("mock synthesis error")

// mockSynthesizer is a mock implementation of the core.Synthesizer interface.
type mockSynthesizer struct {
	ready          bool
	synthesisFails bool
}

func (m *mockSynthesizer) Synthesize(_ context.Context, _ core.SynthesisRequest) (*core.SynthesisResult, error) {
	if m.synthesisFails {
		return nil, errMockSynthesis
	}

	return &core.SynthesisResult{
		Samples:    []float32{0.0, 0.5, -0.5, 0.25},
		SampleRate: 22050,
	}, nil
}

func (m *mockSynthesizer) Ready() bool {
	return m.ready
}

func (m *mockSynthesizer) ModelName() string {
	return "acme/test-voice"
}

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	lg, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = lg.Close()
	})

	return lg
}

// newTestServer wires the full handler and middleware chain around a mock
// model, matching the production composition.
func newTestServer(t *testing.T, mock *mockSynthesizer, apiKey string) *httptest.Server {
	t.Helper()

	log := createTestLogger(t)
	generator := tts.NewGenerator(mock, tts.GeneratorOptions{
		MaxTextLength:      500,
		DefaultTemperature: 0.7,
	}, log)

	mux := http.NewServeMux()
	handler := server.NewHandler(generator, apiKey != "", log)
	handler.Register(mux)

	chain := server.Chain(
		server.RecoveryMiddleware(log),
		server.LoggingMiddleware(log),
		server.BodyLimitMiddleware(1<<20),
		server.AuthMiddleware(apiKey),
	)

	testServer := httptest.NewServer(chain(mux))
	t.Cleanup(testServer.Close)

	return testServer
}

func getJSON(t *testing.T, url string, target any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)

	defer resp.Body.Close()

	err = json.NewDecoder(resp.Body).Decode(target)
	require.NoError(t, err)

	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = resp.Body.Close()
	})

	return resp
}

func TestRootReportsServiceInfo(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, &mockSynthesizer{ready: true}, "")

	var body map[string]any

	status := getJSON(t, testServer.URL+"/", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "csm-api", body["service"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, false, body["auth_enabled"])
}

func TestHealthReflectsModelState(t *testing.T) {
	t.Parallel()

	loaded := newTestServer(t, &mockSynthesizer{ready: true}, "")

	var healthy map[string]any

	status := getJSON(t, loaded.URL+"/health", &healthy)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", healthy["status"])
	assert.Equal(t, "acme/test-voice", healthy["model"])

	unloaded := newTestServer(t, &mockSynthesizer{ready: false}, "")

	var unhealthy map[string]any

	status = getJSON(t, unloaded.URL+"/health", &unhealthy)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", unhealthy["status"])
	assert.Equal(t, "model not loaded", unhealthy["message"])
}

func TestPingAlwaysAnswers(t *testing.T) {
	t.Parallel()

	// Model unloaded AND auth configured: the liveness probe must still pass.
	testServer := newTestServer(t, &mockSynthesizer{ready: false}, "secret")

	var body map[string]string

	status := getJSON(t, testServer.URL+"/ping", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestGenerateReturnsWAVStream(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, &mockSynthesizer{ready: true}, "")

	resp := postJSON(t, testServer.URL+"/generate", `{"text": "hello", "temperature": 0.7}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	var audioData bytes.Buffer

	_, err := audioData.ReadFrom(resp.Body)
	require.NoError(t, err)

	decoder := wav.NewDecoder(bytes.NewReader(audioData.Bytes()))
	assert.True(t, decoder.IsValidFile(), "response body must be a valid WAV stream")
}

func TestGenerateRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, &mockSynthesizer{ready: true}, "")

	testCases := []struct {
		name string
		body string
	}{
		{name: "empty text", body: `{"text": ""}`},
		{name: "temperature out of range", body: `{"text": "hi", "temperature": 3.0}`},
		{name: "malformed JSON", body: `{"text": `},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			resp := postJSON(t, testServer.URL+"/generate", testCase.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGenerateReportsModelNotLoaded(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, &mockSynthesizer{ready: false}, "")

	resp := postJSON(t, testServer.URL+"/generate", `{"text": "hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGenerateReportsSynthesisFailure(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, &mockSynthesizer{ready: true, synthesisFails: true}, "")

	resp := postJSON(t, testServer.URL+"/generate", `{"text": "hello"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var errorBody server.ErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorBody)
	require.NoError(t, err)
	assert.Contains(t, errorBody.Detail, "error generating audio")
}

func TestRunReturnsBase64AudioEnvelope(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, &mockSynthesizer{ready: true}, "")

	resp := postJSON(t, testServer.URL+"/run",
		`{"input": {"text": "envelope test", "temperature": 0.7}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var jobResp server.JobResponse

	err := json.NewDecoder(resp.Body).Decode(&jobResp)
	require.NoError(t, err)
	require.Empty(t, jobResp.Error)
	require.NotNil(t, jobResp.Output)

	assert.Equal(t, "wav", jobResp.Output.AudioFormat)
	assert.Equal(t, "envelope test", jobResp.Output.Text)

	audioData, err := base64.StdEncoding.DecodeString(jobResp.Output.AudioBase64)
	require.NoError(t, err)

	decoder := wav.NewDecoder(bytes.NewReader(audioData))
	assert.True(t, decoder.IsValidFile(), "decoded payload must be a valid WAV stream")
}

func TestRunReportsErrorsInBand(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		mock          *mockSynthesizer
		body          string
		errorContains string
	}{
		{
			name:          "missing text",
			mock:          &mockSynthesizer{ready: true},
			body:          `{"input": {}}`,
			errorContains: "no text provided",
		},
		{
			name:          "malformed envelope",
			mock:          &mockSynthesizer{ready: true},
			body:          `{"input": `,
			errorContains: "invalid job envelope",
		},
		{
			name:          "synthesis failure",
			mock:          &mockSynthesizer{ready: true, synthesisFails: true},
			body:          `{"input": {"text": "hi"}}`,
			errorContains: "mock synthesis error",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			testServer := newTestServer(t, testCase.mock, "")

			resp := postJSON(t, testServer.URL+"/run", testCase.body)
			require.Equal(t, http.StatusOK, resp.StatusCode,
				"job envelope errors are reported in-band with HTTP 200")

			var jobResp server.JobResponse

			err := json.NewDecoder(resp.Body).Decode(&jobResp)
			require.NoError(t, err)
			assert.Nil(t, jobResp.Output)
			assert.Contains(t, jobResp.Error, testCase.errorContains)
		})
	}
}

func TestAuthGatesEndpointsExceptPing(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, &mockSynthesizer{ready: true}, "secret")

	// Missing key.
	resp, err := http.Get(testServer.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong key.
	req, err := http.NewRequest(http.MethodGet, testServer.URL+"/health", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "wrong")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct key.
	req, err = http.NewRequest(http.MethodGet, testServer.URL+"/health", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNoAuthConfiguredAllowsAllRequests(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, &mockSynthesizer{ready: true}, "")

	resp, err := http.Get(testServer.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
