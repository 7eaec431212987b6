// Package server exposes the generation pipeline over HTTP: the direct REST
// endpoint, the serverless job-envelope endpoint, and the probe endpoints the
// deployment platform relies on.
package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/book-expert/logger"

	"github.com/book-expert/csm-api/internal/core"
	"github.com/book-expert/csm-api/internal/tts"
	"github.com/book-expert/csm-api/internal/tts/text"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "csm-api"

// Route paths.
const (
	PathRoot     = "/"
	PathHealth   = "/health"
	PathPing     = "/ping"
	PathGenerate = "/generate"
	PathRun      = "/run"
)

// HTTP headers and content types.
const (
	headerContentType        = "Content-Type"
	headerContentDisposition = "Content-Disposition"
	contentTypeJSON          = "application/json"
	contentTypeWAV           = "audio/wav"
	wavAttachment            = `attachment; filename=generated_audio.wav`
)

// Machine-readable error codes for structured error responses.
const (
	codeInvalidRequest = "invalid_request"
	codeModelNotLoaded = "model_not_loaded"
	codeSynthesisError = "synthesis_error"
)

// Job envelope audio format identifier.
const audioFormatWAV = "wav"

// ErrNoInputText is reported in-band by the job-envelope endpoint.
var ErrNoInputText = errors.New("no text provided in input")

// GenerateRequest is the JSON payload of the direct REST endpoint.
type GenerateRequest struct {
	// Text is the input to convert to speech.
	Text string `json:"text"`

	// Language optionally selects the target language code.
	Language string `json:"language,omitempty"`

	// Temperature controls generation randomness; zero selects the
	// configured default.
	Temperature float64 `json:"temperature,omitempty"`
}

// ErrorResponse is the structured JSON error body.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// JobRequest is the serverless platform's request envelope.
type JobRequest struct {
	Input GenerateRequest `json:"input"`
}

// JobOutput is the payload of a successful job response.
type JobOutput struct {
	AudioBase64 string `json:"audio_base64"`
	AudioFormat string `json:"audio_format"`
	Text        string `json:"text"`
}

// JobResponse is the serverless platform's response envelope. Errors are
// reported in-band through the Error field with HTTP 200, per the platform
// convention.
type JobResponse struct {
	Output *JobOutput `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// rootResponse is the service info body of the root endpoint.
type rootResponse struct {
	Service     string `json:"service"`
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	AuthEnabled bool   `json:"auth_enabled"`
}

// healthResponse is the body of the health endpoint.
type healthResponse struct {
	Status  string `json:"status"`
	Model   string `json:"model,omitempty"`
	Message string `json:"message,omitempty"`
}

// Handler serves the API endpoints on top of the generation pipeline.
type Handler struct {
	generator   *tts.Generator
	authEnabled bool
	log         *logger.Logger
}

// NewHandler creates the endpoint handler.
func NewHandler(generator *tts.Generator, authEnabled bool, log *logger.Logger) *Handler {
	return &Handler{
		generator:   generator,
		authEnabled: authEnabled,
		log:         log,
	}
}

// Register wires the endpoints into the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+PathRoot+"{$}", h.handleRoot)
	mux.HandleFunc("GET "+PathHealth, h.handleHealth)
	mux.HandleFunc("GET "+PathPing, h.handlePing)
	mux.HandleFunc("POST "+PathGenerate, h.handleGenerate)
	mux.HandleFunc("POST "+PathRun, h.handleRun)
}

func (h *Handler) handleRoot(responseWriter http.ResponseWriter, _ *http.Request) {
	writeJSON(responseWriter, http.StatusOK, rootResponse{
		Service:     ServiceName,
		Status:      "running",
		ModelLoaded: h.generator.Ready(),
		AuthEnabled: h.authEnabled,
	})
}

// handleHealth reports model readiness. The deployment platform keeps new
// instances out of rotation until this returns 200.
func (h *Handler) handleHealth(responseWriter http.ResponseWriter, _ *http.Request) {
	if !h.generator.Ready() {
		writeJSON(responseWriter, http.StatusServiceUnavailable, healthResponse{
			Status:  "unhealthy",
			Message: "model not loaded",
		})

		return
	}

	writeJSON(responseWriter, http.StatusOK, healthResponse{
		Status: "healthy",
		Model:  h.generator.ModelName(),
	})
}

// handlePing is the liveness probe. It answers regardless of model state and
// is never authenticated.
func (h *Handler) handlePing(responseWriter http.ResponseWriter, _ *http.Request) {
	writeJSON(responseWriter, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGenerate is the direct REST endpoint: JSON request in, WAV stream out.
func (h *Handler) handleGenerate(responseWriter http.ResponseWriter, request *http.Request) {
	var generateReq GenerateRequest

	err := json.NewDecoder(request.Body).Decode(&generateReq)
	if err != nil {
		writeError(responseWriter, http.StatusBadRequest,
			fmt.Sprintf("invalid request body: %v", err), codeInvalidRequest)

		return
	}

	wavData, err := h.generator.GenerateWAV(request.Context(), core.SynthesisRequest{
		Text:        generateReq.Text,
		Language:    generateReq.Language,
		Temperature: generateReq.Temperature,
	})
	if err != nil {
		h.writeGenerationError(responseWriter, err)

		return
	}

	responseWriter.Header().Set(headerContentType, contentTypeWAV)
	responseWriter.Header().Set(headerContentDisposition, wavAttachment)
	responseWriter.WriteHeader(http.StatusOK)

	_, writeErr := responseWriter.Write(wavData)
	if writeErr != nil {
		h.log.Warn("Failed to stream audio response: %v", writeErr)
	}
}

// handleRun is the serverless job-envelope endpoint. It shares the exact
// generation pipeline with the direct endpoint and only differs in framing.
func (h *Handler) handleRun(responseWriter http.ResponseWriter, request *http.Request) {
	var jobReq JobRequest

	err := json.NewDecoder(request.Body).Decode(&jobReq)
	if err != nil {
		writeJSON(responseWriter, http.StatusOK, JobResponse{
			Error: fmt.Sprintf("invalid job envelope: %v", err),
		})

		return
	}

	if jobReq.Input.Text == "" {
		writeJSON(responseWriter, http.StatusOK, JobResponse{Error: ErrNoInputText.Error()})

		return
	}

	wavData, err := h.generator.GenerateWAV(request.Context(), core.SynthesisRequest{
		Text:        jobReq.Input.Text,
		Language:    jobReq.Input.Language,
		Temperature: jobReq.Input.Temperature,
	})
	if err != nil {
		h.log.Error("Job envelope generation failed: %v", err)
		writeJSON(responseWriter, http.StatusOK, JobResponse{Error: err.Error()})

		return
	}

	writeJSON(responseWriter, http.StatusOK, JobResponse{
		Output: &JobOutput{
			AudioBase64: base64.StdEncoding.EncodeToString(wavData),
			AudioFormat: audioFormatWAV,
			Text:        jobReq.Input.Text,
		},
	})
}

// writeGenerationError maps pipeline errors onto HTTP status codes: model
// readiness to 503, request contract violations to 400, everything else 500.
func (h *Handler) writeGenerationError(responseWriter http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tts.ErrModelNotLoaded):
		writeError(responseWriter, http.StatusServiceUnavailable,
			"model not loaded, check server logs", codeModelNotLoaded)
	case errors.Is(err, text.ErrTextEmpty),
		errors.Is(err, text.ErrTextTooLong),
		errors.Is(err, text.ErrTemperatureRange):
		writeError(responseWriter, http.StatusBadRequest, err.Error(), codeInvalidRequest)
	default:
		h.log.Error("Error generating audio: %v", err)
		writeError(responseWriter, http.StatusInternalServerError,
			fmt.Sprintf("error generating audio: %v", err), codeSynthesisError)
	}
}

func writeJSON(responseWriter http.ResponseWriter, status int, body any) {
	responseWriter.Header().Set(headerContentType, contentTypeJSON)
	responseWriter.WriteHeader(status)

	_ = json.NewEncoder(responseWriter).Encode(body)
}

func writeError(responseWriter http.ResponseWriter, status int, detail, code string) {
	writeJSON(responseWriter, status, ErrorResponse{
		Detail:    detail,
		ErrorCode: code,
	})
}
