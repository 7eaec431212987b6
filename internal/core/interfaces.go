// Package core defines the core business logic and interfaces for the csm-api service.
package core

import "context"

// SynthesisRequest holds the parameters for a single speech generation job.
// This allows for per-request customization of the synthesized output.
type SynthesisRequest struct {
	// Text is the input to convert to speech. Must be non-empty and within
	// the configured length limit.
	Text string

	// Language optionally selects the target language code (e.g. "en").
	// An empty value leaves the choice to the model.
	Language string

	// Temperature controls randomness in generation, valid range [0.0, 2.0].
	Temperature float64
}

// SynthesisResult holds the raw model output before audio post-processing.
type SynthesisResult struct {
	// Samples is the mono waveform produced by the model. Values may fall
	// outside [-1, 1] and must be normalized before encoding.
	Samples []float32

	// SampleRate is the rate the model generated Samples at, in Hz.
	SampleRate int
}

// Synthesizer defines the interface for a loaded text-to-speech model.
type Synthesizer interface {
	// Synthesize runs the model on the given request and returns the raw
	// waveform. It must only be called after the model reports ready.
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)

	// Ready reports whether the model has been loaded into memory.
	Ready() bool

	// ModelName returns the hub name of the loaded model.
	ModelName() string
}

// SpeechGenerator defines the transport-facing generation pipeline: request
// in, encoded WAV byte stream out.
type SpeechGenerator interface {
	GenerateWAV(ctx context.Context, req SynthesisRequest) ([]byte, error)
}

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
