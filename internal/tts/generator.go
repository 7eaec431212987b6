package tts

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/csm-api/internal/core"
	"github.com/book-expert/csm-api/internal/tts/audio"
	"github.com/book-expert/csm-api/internal/tts/text"
)

// GeneratorOptions configures the generation pipeline.
type GeneratorOptions struct {
	// MaxTextLength bounds accepted request text, in characters.
	MaxTextLength int

	// DefaultTemperature is applied when a request leaves temperature unset.
	DefaultTemperature float64

	// OutputSampleRate resamples the output when non-zero and different
	// from the model's native rate.
	OutputSampleRate int
}

// Generator is the per-request pipeline shared by every transport adapter:
// validate text, invoke the processor and model, post-process the waveform,
// and encode it as WAV.
type Generator struct {
	synthesizer core.Synthesizer
	opts        GeneratorOptions
	log         *logger.Logger
}

// NewGenerator creates a generator around a synthesizer.
func NewGenerator(synthesizer core.Synthesizer, opts GeneratorOptions, log *logger.Logger) *Generator {
	return &Generator{
		synthesizer: synthesizer,
		opts:        opts,
		log:         log,
	}
}

// Ready reports whether the underlying model can serve requests.
func (g *Generator) Ready() bool {
	return g.synthesizer.Ready()
}

// ModelName returns the hub name of the underlying model.
func (g *Generator) ModelName() string {
	return g.synthesizer.ModelName()
}

// GenerateWAV validates the request, synthesizes speech, and returns an
// encoded WAV byte stream.
func (g *Generator) GenerateWAV(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	if !g.synthesizer.Ready() {
		return nil, ErrModelNotLoaded
	}

	validatedReq, err := g.validate(req)
	if err != nil {
		return nil, err
	}

	g.log.Info("Generating audio for text: %s", truncateForLog(validatedReq.Text))

	result, err := g.synthesizer.Synthesize(ctx, validatedReq)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	samples := audio.PeakNormalize(result.Samples)
	outputRate := result.SampleRate

	if g.opts.OutputSampleRate > 0 && g.opts.OutputSampleRate != result.SampleRate {
		samples, err = audio.Resample(samples, result.SampleRate, g.opts.OutputSampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to resample output: %w", err)
		}

		outputRate = g.opts.OutputSampleRate
	}

	wavData, err := audio.EncodeWAV(samples, outputRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode WAV output: %w", err)
	}

	g.log.Info("Generated %d bytes of audio at %d Hz", len(wavData), outputRate)

	return wavData, nil
}

// validate applies the request contract and fills defaults. The returned
// request carries the temperature that will actually be used.
func (g *Generator) validate(req core.SynthesisRequest) (core.SynthesisRequest, error) {
	err := text.ValidateText(req.Text, g.opts.MaxTextLength)
	if err != nil {
		return core.SynthesisRequest{}, err
	}

	if req.Temperature == 0 {
		req.Temperature = g.opts.DefaultTemperature
	}

	err = text.ValidateTemperature(req.Temperature)
	if err != nil {
		return core.SynthesisRequest{}, err
	}

	return req, nil
}

const logTextLimit = 50

func truncateForLog(value string) string {
	runes := []rune(value)
	if len(runes) <= logTextLimit {
		return value
	}

	return string(runes[:logTextLimit]) + "..."
}
