// Package wavio reads and writes WAV files at the pipeline boundary and
// converts between the on-disk int16 PCM representation and the float32
// samples the rest of the module works with. Multi-channel input is downmixed
// to mono; output is always 16-bit mono.
package wavio

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadMono decodes a WAV file into mono float32 samples in [-1, 1] and
// returns them with the file's sample rate. Stereo and multi-channel files
// are downmixed by averaging.
func ReadMono(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("wavio: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("wavio: %s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("wavio: decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, fmt.Errorf("wavio: %s has no channel layout", path)
	}

	channels := buf.Format.NumChannels
	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	scale := float64(int64(1) << (bitDepth - 1))
	if scale <= 0 {
		return nil, 0, fmt.Errorf("wavio: %s has unsupported bit depth %d", path, bitDepth)
	}

	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum int64
		for c := 0; c < channels; c++ {
			sum += int64(buf.Data[i*channels+c])
		}
		out[i] = float32(float64(sum) / float64(channels) / scale)
	}
	return out, buf.Format.SampleRate, nil
}

// WriteMono encodes mono float32 samples as a 16-bit PCM WAV file. Samples
// outside [-1, 1] are clamped.
func WriteMono(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavio: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = int(FloatToPCM16(s))
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("wavio: encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("wavio: finish %s: %w", path, err)
	}
	return f.Close()
}

// FloatToPCM16 converts one float32 sample to int16, clamping to full scale.
func FloatToPCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}

// PCM16ToFloat converts one int16 sample to float32 in [-1, 1).
func PCM16ToFloat(s int16) float32 {
	return float32(s) / 32768
}

// EncodePCM16 packs float32 samples into little-endian int16 bytes, the wire
// format the inference engines speak.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToPCM16(s)))
	}
	return out
}

// DecodePCM16 unpacks little-endian int16 bytes into float32 samples. A
// trailing odd byte is an error.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("wavio: odd byte count %d in PCM16 data", len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = PCM16ToFloat(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return out, nil
}
