// Package tts wraps the pretrained text-to-speech model: artifact
// resolution, one-time loading, inference, and the generation pipeline that
// turns request text into a WAV byte stream.
package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/book-expert/logger"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/book-expert/csm-api/internal/core"
	"github.com/book-expert/csm-api/internal/tts/hub"
	"github.com/book-expert/csm-api/internal/tts/text"
)

// Artifact names the engine resolves from the model hub.
const (
	artifactModel           = "model.onnx"
	artifactProcessorConfig = "processor_config.json"
	artifactIndexer         = "unicode_indexer.json"
)

// Graph tensor names the engine recognizes. The set of inputs actually fed
// is decided once at load time from the graph metadata, never per request.
const (
	inputTokenIDs    = "input_ids"
	inputTemperature = "temperature"
)

// Devices accepted by EngineOptions.
const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

const fallbackSampleRate = 22050

// Static errors.
var (
	ErrModelNotLoaded     = errors.New("model not loaded")
	ErrNoTokens           = errors.New("text produced no tokens")
	ErrMissingTokensInput = errors.New("model graph has no token IDs input")
	ErrNoModelOutput      = errors.New("model produced no output")
	ErrUnsupportedDevice  = errors.New("unsupported device")
)

// EngineOptions configures the model engine.
type EngineOptions struct {
	// ModelName is the hub name of the model, in owner/repo form.
	ModelName string

	// Device selects the execution provider, DeviceCPU or DeviceCUDA.
	Device string

	// LibraryPath optionally points at the ONNX runtime shared library.
	LibraryPath string

	// FallbackSampleRate is used when no artifact declares a rate.
	FallbackSampleRate int
}

// processorConfig is the shape of the hub's processor configuration
// artifact. Only the fields the engine consumes are declared.
type processorConfig struct {
	SampleRate   int `json:"sample_rate"`
	SamplingRate int `json:"sampling_rate"`
}

// Engine implements core.Synthesizer on top of an ONNX session. It is safe
// for concurrent use; inference calls are serialized on the session.
type Engine struct {
	opts      EngineOptions
	hubClient *hub.Client
	log       *logger.Logger

	ready atomic.Bool

	runMu           sync.Mutex
	session         *ort.DynamicAdvancedSession
	processor       *text.Processor
	feedTemperature bool
	sampleRate      int
}

// NewEngine creates an engine that resolves artifacts through the given hub
// client. The model is not loaded until Load is called.
func NewEngine(opts EngineOptions, hubClient *hub.Client, log *logger.Logger) *Engine {
	if opts.FallbackSampleRate == 0 {
		opts.FallbackSampleRate = fallbackSampleRate
	}

	return &Engine{
		opts:      opts,
		hubClient: hubClient,
		log:       log,
	}
}

// ModelName returns the hub name of the model.
func (e *Engine) ModelName() string {
	return e.opts.ModelName
}

// Ready reports whether Load has completed successfully.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Load resolves the model artifacts, initializes the ONNX runtime, and opens
// the inference session. It inspects the graph's input names once so that
// per-request code never has to guess at the model's parameter surface.
func (e *Engine) Load(ctx context.Context) error {
	e.log.Info("Loading model %s on %s", e.opts.ModelName, e.opts.Device)

	processor, err := e.loadProcessor(ctx)
	if err != nil {
		return err
	}

	sampleRate, err := e.resolveSampleRate(ctx)
	if err != nil {
		return err
	}

	modelPath, err := e.hubClient.FetchArtifact(ctx, e.opts.ModelName, artifactModel)
	if err != nil {
		return fmt.Errorf("failed to fetch model weights: %w", err)
	}

	err = initializeRuntime(e.opts.LibraryPath)
	if err != nil {
		return err
	}

	inputNames, outputNames, err := inspectGraph(modelPath)
	if err != nil {
		return err
	}

	session, err := e.openSession(modelPath, inputNames, outputNames)
	if err != nil {
		return err
	}

	e.runMu.Lock()
	e.session = session
	e.processor = processor
	e.sampleRate = sampleRate
	e.feedTemperature = containsName(inputNames, inputTemperature)
	e.runMu.Unlock()

	e.ready.Store(true)

	e.log.Info("Model %s loaded (sample rate %d Hz, temperature input: %t)",
		e.opts.ModelName, sampleRate, e.feedTemperature)

	return nil
}

// Synthesize runs the model on the request text and returns the raw mono
// waveform at the model's native sample rate.
func (e *Engine) Synthesize(ctx context.Context, req core.SynthesisRequest) (*core.SynthesisResult, error) {
	if !e.ready.Load() {
		return nil, ErrModelNotLoaded
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("synthesis aborted: %w", ctx.Err())
	}

	tokenIDs := e.processor.Encode(req.Text)
	if len(tokenIDs) == 0 {
		return nil, ErrNoTokens
	}

	tokenTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(tokenIDs))), tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create token tensor: %w", err)
	}
	defer tokenTensor.Destroy()

	inputs := []ort.Value{tokenTensor}

	if e.feedTemperature {
		temperatureTensor, tensorErr := ort.NewTensor(
			ort.NewShape(1), []float32{float32(req.Temperature)},
		)
		if tensorErr != nil {
			return nil, fmt.Errorf("failed to create temperature tensor: %w", tensorErr)
		}
		defer temperatureTensor.Destroy()

		inputs = append(inputs, temperatureTensor)
	}

	samples, err := e.run(inputs)
	if err != nil {
		return nil, err
	}

	return &core.SynthesisResult{
		Samples:    samples,
		SampleRate: e.sampleRate,
	}, nil
}

// Close releases the session and the runtime environment.
func (e *Engine) Close() error {
	e.ready.Store(false)

	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.session != nil {
		err := e.session.Destroy()
		e.session = nil

		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}

	err := ort.DestroyEnvironment()
	if err != nil {
		return fmt.Errorf("failed to destroy runtime environment: %w", err)
	}

	return nil
}

func (e *Engine) loadProcessor(ctx context.Context) (*text.Processor, error) {
	indexerData, err := e.hubClient.ReadArtifact(ctx, e.opts.ModelName, artifactIndexer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch indexer artifact: %w", err)
	}

	processor, err := text.NewProcessorFromJSON(indexerData)
	if err != nil {
		return nil, fmt.Errorf("failed to build processor: %w", err)
	}

	return processor, nil
}

// resolveSampleRate reads the processor configuration artifact. Published
// models disagree on the field name, so both spellings are accepted before
// falling back to the configured default.
func (e *Engine) resolveSampleRate(ctx context.Context) (int, error) {
	configData, err := e.hubClient.ReadArtifact(ctx, e.opts.ModelName, artifactProcessorConfig)
	if err != nil {
		if errors.Is(err, hub.ErrArtifactNotFound) {
			e.log.Warn("Model %s publishes no processor config, using %d Hz",
				e.opts.ModelName, e.opts.FallbackSampleRate)

			return e.opts.FallbackSampleRate, nil
		}

		return 0, fmt.Errorf("failed to fetch processor config: %w", err)
	}

	return sampleRateFromConfig(configData, e.opts.FallbackSampleRate)
}

func (e *Engine) openSession(modelPath string, inputNames, outputNames []string) (*ort.DynamicAdvancedSession, error) {
	options, err := sessionOptionsForDevice(e.opts.Device)
	if err != nil {
		return nil, err
	}

	if options != nil {
		defer options.Destroy()
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open inference session: %w", err)
	}

	return session, nil
}

func (e *Engine) run(inputs []ort.Value) ([]float32, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	outputs := make([]ort.Value, 1)

	err := e.session.Run(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	waveTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok || waveTensor == nil {
		return nil, ErrNoModelOutput
	}
	defer waveTensor.Destroy()

	// The tensor memory is owned by the runtime; copy before Destroy.
	data := waveTensor.GetData()
	samples := make([]float32, len(data))
	copy(samples, data)

	return samples, nil
}

// inspectGraph reads the model's input and output names once. The token IDs
// input is mandatory; everything else is optional and fed only when present.
func inspectGraph(modelPath string) (inputNames []string, outputNames []string, err error) {
	inputInfo, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to inspect model graph: %w", err)
	}

	hasTokens := false
	hasTemperature := false

	for _, info := range inputInfo {
		switch info.Name {
		case inputTokenIDs:
			hasTokens = true
		case inputTemperature:
			hasTemperature = true
		}
	}

	if !hasTokens {
		return nil, nil, ErrMissingTokensInput
	}

	// Feeding order must match the declared name order.
	inputNames = []string{inputTokenIDs}
	if hasTemperature {
		inputNames = append(inputNames, inputTemperature)
	}

	if len(outputInfo) == 0 {
		return nil, nil, ErrNoModelOutput
	}

	// Only the waveform output is consumed.
	outputNames = []string{outputInfo[0].Name}

	return inputNames, outputNames, nil
}

func initializeRuntime(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}

	err := ort.InitializeEnvironment()
	if err != nil {
		return fmt.Errorf("failed to initialize onnx runtime: %w", err)
	}

	return nil
}

func sessionOptionsForDevice(device string) (*ort.SessionOptions, error) {
	switch device {
	case DeviceCPU, "":
		return nil, nil
	case DeviceCUDA:
		options, err := ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create session options: %w", err)
		}

		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()

			return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
		}
		defer cudaOptions.Destroy()

		err = options.AppendExecutionProviderCUDA(cudaOptions)
		if err != nil {
			options.Destroy()

			return nil, fmt.Errorf("failed to enable CUDA execution provider: %w", err)
		}

		return options, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDevice, device)
	}
}

// sampleRateFromConfig extracts the sample rate from a processor config
// artifact, accepting both published field spellings.
func sampleRateFromConfig(configData []byte, fallback int) (int, error) {
	var parsed processorConfig

	err := json.Unmarshal(configData, &parsed)
	if err != nil {
		return 0, fmt.Errorf("failed to parse processor config: %w", err)
	}

	if parsed.SampleRate > 0 {
		return parsed.SampleRate, nil
	}

	if parsed.SamplingRate > 0 {
		return parsed.SamplingRate, nil
	}

	return fallback, nil
}

func containsName(names []string, target string) bool {
	for _, name := range names {
		if name == target {
			return true
		}
	}

	return false
}
