// Package audio_test tests the WAV post-processing pipeline.
package audio_test

import (
	"bytes"
	"testing"

	"github.com/book-expert/csm-api/internal/tts/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeakNormalizeScalesDownOnlyWhenPeakExceedsOne(t *testing.T) {
	t.Parallel()

	// Peak 4.0 must scale everything by 0.25.
	scaled := audio.PeakNormalize([]float32{4.0, -2.0, 1.0})
	assert.InDelta(t, 1.0, scaled[0], 1e-6)
	assert.InDelta(t, -0.5, scaled[1], 1e-6)
	assert.InDelta(t, 0.25, scaled[2], 1e-6)

	// Already-normalized audio must pass through untouched.
	untouched := audio.PeakNormalize([]float32{0.5, -0.25})
	assert.InDelta(t, 0.5, untouched[0], 1e-6)
	assert.InDelta(t, -0.25, untouched[1], 1e-6)
}

func TestResampleHalvesSampleCount(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 44100)
	for i := range samples {
		samples[i] = float32(i) / 44100
	}

	resampled, err := audio.Resample(samples, 44100, 22050)
	require.NoError(t, err)
	assert.Equal(t, 22050, len(resampled))
}

func TestResampleIdentityWhenRatesMatch(t *testing.T) {
	t.Parallel()

	samples := []float32{0.1, 0.2, 0.3}

	resampled, err := audio.Resample(samples, 22050, 22050)
	require.NoError(t, err)
	assert.Equal(t, samples, resampled)
}

func TestResampleRejectsInvalidRates(t *testing.T) {
	t.Parallel()

	_, err := audio.Resample([]float32{0.1}, 0, 22050)
	require.ErrorIs(t, err, audio.ErrInvalidSampleRate)

	_, err = audio.Resample([]float32{0.1}, 22050, -1)
	require.ErrorIs(t, err, audio.ErrInvalidSampleRate)
}

func TestEncodeWAVProducesDecodableMonoPCM(t *testing.T) {
	t.Parallel()

	samples := []float32{0.0, 0.5, -0.5, 1.0, -1.0}

	data, err := audio.EncodeWAV(samples, 22050)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoder := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, decoder.IsValidFile(), "encoded stream must be a valid WAV file")

	decoded, err := decoder.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, 22050, decoded.Format.SampleRate)
	assert.Equal(t, 1, decoded.Format.NumChannels)
	assert.Equal(t, len(samples), len(decoded.Data))
	assert.Equal(t, 0, decoded.Data[0])
	assert.Equal(t, 32767, decoded.Data[3])
}

func TestEncodeWAVRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	_, err := audio.EncodeWAV(nil, 22050)
	require.ErrorIs(t, err, audio.ErrNoSamples)
}

func TestEncodeWAVRejectsInvalidSampleRate(t *testing.T) {
	t.Parallel()

	_, err := audio.EncodeWAV([]float32{0.1}, 0)
	require.ErrorIs(t, err, audio.ErrInvalidSampleRate)
}
