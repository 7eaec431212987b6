// csm-client is a manual smoke-test tool: it issues HTTP requests against a
// running csm-api instance and saves any generated audio to disk.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Flag descriptions.
const (
	flagURLDesc     = "Base URL of the csm-api instance"
	flagAPIKeyDesc  = "Value for the X-API-Key header (optional)"
	flagTextDesc    = "Text to convert to speech"
	flagOutputDesc  = "Output file path for the /generate response (.wav)"
	flagRunDesc     = "Also exercise the /run job-envelope endpoint"
	flagHealthDesc  = "Check service health and exit"
	flagTimeoutDesc = "Request timeout for generation endpoints"
)

// Defaults.
const (
	defaultBaseURL    = "http://localhost:8000"
	defaultText       = "Hello, this is a test of the text-to-speech API."
	defaultOutputFile = "test_output.wav"
	runOutputFile     = "test_output_run.wav"
	defaultTimeout    = 120 * time.Second
	probeTimeout      = 10 * time.Second
	filePermissions   = 0o600
)

// HTTP headers.
const (
	headerAPIKey      = "X-API-Key"
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Static errors.
var (
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrJobFailed        = errors.New("job envelope reported an error")
	ErrEmptyAudio       = errors.New("received empty audio data")
)

// generatePayload is the request body for the direct endpoint; the same
// shape nests under "input" in the job envelope.
type generatePayload struct {
	Text        string  `json:"text"`
	Temperature float64 `json:"temperature"`
}

type jobEnvelope struct {
	Input generatePayload `json:"input"`
}

type jobResult struct {
	Output *struct {
		AudioBase64 string `json:"audio_base64"`
		AudioFormat string `json:"audio_format"`
	} `json:"output"`
	Error string `json:"error"`
}

// apiClient issues smoke-test requests against one instance.
type apiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newAPIClient(baseURL, apiKey string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// probe issues a GET and returns the raw JSON body.
func (c *apiClient) probe(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w from %s: %s: %s",
			ErrUnexpectedStatus, path, resp.Status, string(body))
	}

	return string(bytes.TrimSpace(body)), nil
}

// generate calls the direct REST endpoint and returns the WAV bytes.
func (c *apiClient) generate(ctx context.Context, text string, temperature float64) ([]byte, error) {
	body, err := json.Marshal(generatePayload{Text: text, Temperature: temperature})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)

		return nil, fmt.Errorf("%w from /generate: %s: %s",
			ErrUnexpectedStatus, resp.Status, string(detail))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// runJob calls the job-envelope endpoint and returns the decoded WAV bytes.
func (c *apiClient) runJob(ctx context.Context, text string, temperature float64) ([]byte, error) {
	body, err := json.Marshal(jobEnvelope{
		Input: generatePayload{Text: text, Temperature: temperature},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run request failed: %w", err)
	}
	defer resp.Body.Close()

	var result jobResult

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode job response: %w", err)
	}

	if result.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, result.Error)
	}

	if result.Output == nil || result.Output.AudioBase64 == "" {
		return nil, ErrEmptyAudio
	}

	audioData, err := base64.StdEncoding.DecodeString(result.Output.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}

	return audioData, nil
}

func (c *apiClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(headerAPIKey, c.apiKey)
	}
}

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	url        string
	apiKey     string
	text       string
	output     string
	runJob     bool
	healthOnly bool
	timeout    time.Duration
}

func parseFlags() *appFlags {
	flags := &appFlags{}

	flag.StringVar(&flags.url, "url", defaultBaseURL, flagURLDesc)
	flag.StringVar(&flags.apiKey, "api-key", "", flagAPIKeyDesc)
	flag.StringVar(&flags.text, "text", defaultText, flagTextDesc)
	flag.StringVar(&flags.output, "output", defaultOutputFile, flagOutputDesc)
	flag.BoolVar(&flags.runJob, "run", false, flagRunDesc)
	flag.BoolVar(&flags.healthOnly, "health", false, flagHealthDesc)
	flag.DurationVar(&flags.timeout, "timeout", defaultTimeout, flagTimeoutDesc)
	flag.Parse()

	return flags
}

func runProbes(ctx context.Context, client *apiClient) error {
	for _, path := range []string{"/ping", "/health", "/"} {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)

		body, err := client.probe(probeCtx, path)

		cancel()

		if err != nil {
			return err
		}

		fmt.Printf("%s: %s\n", path, body)
	}

	return nil
}

func runSmokeTest(ctx context.Context, client *apiClient, flags *appFlags) error {
	err := runProbes(ctx, client)
	if err != nil {
		return err
	}

	if flags.healthOnly {
		return nil
	}

	fmt.Printf("Generating audio for: %q\n", flags.text)

	audioData, err := client.generate(ctx, flags.text, 0)
	if err != nil {
		return err
	}

	err = os.WriteFile(flags.output, audioData, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", flags.output, err)
	}

	fmt.Printf("Saved %d bytes to %s\n", len(audioData), flags.output)

	if !flags.runJob {
		return nil
	}

	audioData, err = client.runJob(ctx, flags.text, 0)
	if err != nil {
		return err
	}

	err = os.WriteFile(runOutputFile, audioData, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", runOutputFile, err)
	}

	fmt.Printf("Saved %d bytes to %s (job envelope)\n", len(audioData), runOutputFile)

	return nil
}

func main() {
	flags := parseFlags()
	client := newAPIClient(flags.url, flags.apiKey, flags.timeout)

	err := runSmokeTest(context.Background(), client, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Smoke test failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Smoke test complete.")
}
