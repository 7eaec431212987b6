package tts

import (
	"context"
	"testing"

	"github.com/book-expert/csm-api/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRateFromConfig(t *testing.T) {
	t.Parallel()

	rate, err := sampleRateFromConfig([]byte(`{"sample_rate": 24000}`), 22050)
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)

	rate, err = sampleRateFromConfig([]byte(`{"sampling_rate": 16000}`), 22050)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)

	// Both spellings present: sample_rate wins.
	rate, err = sampleRateFromConfig([]byte(`{"sample_rate": 24000, "sampling_rate": 16000}`), 22050)
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)

	rate, err = sampleRateFromConfig([]byte(`{}`), 22050)
	require.NoError(t, err)
	assert.Equal(t, 22050, rate)

	_, err = sampleRateFromConfig([]byte(`not json`), 22050)
	require.Error(t, err)
}

func TestSynthesizeBeforeLoadReportsModelNotLoaded(t *testing.T) {
	t.Parallel()

	engine := NewEngine(EngineOptions{ModelName: "acme/test-voice"}, nil, nil)

	_, err := engine.Synthesize(context.Background(), core.SynthesisRequest{Text: "hi"})
	require.ErrorIs(t, err, ErrModelNotLoaded)
	assert.False(t, engine.Ready())
	assert.Equal(t, "acme/test-voice", engine.ModelName())
}

func TestNewEngineAppliesFallbackSampleRate(t *testing.T) {
	t.Parallel()

	engine := NewEngine(EngineOptions{}, nil, nil)
	assert.Equal(t, fallbackSampleRate, engine.opts.FallbackSampleRate)
}

func TestSessionOptionsForDeviceRejectsUnknownDevice(t *testing.T) {
	t.Parallel()

	_, err := sessionOptionsForDevice("tpu")
	require.ErrorIs(t, err, ErrUnsupportedDevice)
}

func TestSessionOptionsForDeviceCPUNeedsNoOptions(t *testing.T) {
	t.Parallel()

	options, err := sessionOptionsForDevice(DeviceCPU)
	require.NoError(t, err)
	assert.Nil(t, options)
}

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncateForLog("short"))

	long := make([]rune, 80)
	for i := range long {
		long[i] = 'a'
	}

	truncated := truncateForLog(string(long))
	assert.Len(t, []rune(truncated), logTextLimit+3)
}
