// Package audio post-processes raw model output into a WAV byte stream.
//
// The pipeline mirrors the service contract: flatten to mono, peak-normalize
// into [-1, 1], optionally resample to the configured output rate, then
// encode as 16-bit PCM WAV.
package audio

import (
	"errors"
	"fmt"
	"math"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM encoding parameters for the WAV output.
const (
	BitDepth    = 16
	NumChannels = 1
	wavFormat   = 1 // PCM
)

const maxInt16 = 32767

// Static errors.
var (
	ErrNoSamples         = errors.New("no audio samples to encode")
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
)

// PeakNormalize scales samples into [-1, 1]. Models disagree on output
// ranges: some emit normalized waveforms, others raw values. Scaling is only
// applied when the peak exceeds 1, and every sample is clipped afterwards.
// The input slice is modified in place and returned.
func PeakNormalize(samples []float32) []float32 {
	var peak float32

	for _, sample := range samples {
		abs := float32(math.Abs(float64(sample)))
		if abs > peak {
			peak = abs
		}
	}

	scale := float32(1.0)
	if peak > 1.0 {
		scale = 1.0 / peak
	}

	for i, sample := range samples {
		scaled := sample * scale
		if scaled > 1.0 {
			scaled = 1.0
		} else if scaled < -1.0 {
			scaled = -1.0
		}

		samples[i] = scaled
	}

	return samples
}

// Resample converts samples from one rate to another using linear
// interpolation. It returns the input unchanged when the rates already match.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("%w: from %d to %d", ErrInvalidSampleRate, fromRate, toRate)
	}

	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}

	ratio := float64(fromRate) / float64(toRate)
	outputLen := int(float64(len(samples)) / ratio)

	if outputLen == 0 {
		outputLen = 1
	}

	resampled := make([]float32, outputLen)

	for i := range resampled {
		position := float64(i) * ratio
		index := int(position)
		fraction := float32(position - float64(index))

		if index >= len(samples)-1 {
			resampled[i] = samples[len(samples)-1]

			continue
		}

		resampled[i] = samples[index]*(1-fraction) + samples[index+1]*fraction
	}

	return resampled, nil
}

// EncodeWAV encodes normalized mono samples as a 16-bit PCM WAV byte stream.
// Samples are expected to already be within [-1, 1]; values outside are
// clipped during quantization.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}

	intData := make([]int, len(samples))
	for i, sample := range samples {
		quantized := int(math.Round(float64(sample) * maxInt16))
		if quantized > maxInt16 {
			quantized = maxInt16
		} else if quantized < -maxInt16-1 {
			quantized = -maxInt16 - 1
		}

		intData[i] = quantized
	}

	var buffer seekableBuffer

	encoder := wav.NewEncoder(&buffer, sampleRate, BitDepth, NumChannels, wavFormat)
	intBuffer := &gaudio.IntBuffer{
		Data:           intData,
		Format:         &gaudio.Format{SampleRate: sampleRate, NumChannels: NumChannels},
		SourceBitDepth: BitDepth,
	}

	err := encoder.Write(intBuffer)
	if err != nil {
		return nil, fmt.Errorf("failed to write WAV data: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to finalize WAV stream: %w", err)
	}

	return buffer.Bytes(), nil
}

// seekableBuffer adapts bytes.Buffer to io.WriteSeeker so the WAV encoder can
// rewrite the header sizes on Close without touching the filesystem.
type seekableBuffer struct {
	data     []byte
	position int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	end := b.position + len(p)
	if end > len(b.data) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}

	copy(b.data[b.position:end], p)
	b.position = end

	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var target int64

	switch whence {
	case 0: // io.SeekStart
		target = offset
	case 1: // io.SeekCurrent
		target = int64(b.position) + offset
	case 2: // io.SeekEnd
		target = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid seek whence: %d", whence)
	}

	if target < 0 {
		return 0, errors.New("negative seek position")
	}

	b.position = int(target)

	return target, nil
}

// Bytes returns the encoded stream.
func (b *seekableBuffer) Bytes() []byte {
	return b.data
}
