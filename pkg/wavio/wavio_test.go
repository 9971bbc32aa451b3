package wavio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func sine(n int, freq float64, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.5 * float32(math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tone.wav")
	samples := sine(16000, 440, 16000)
	if err := WriteMono(path, samples, 16000); err != nil {
		t.Fatalf("WriteMono: %v", err)
	}

	got, rate, err := ReadMono(path)
	if err != nil {
		t.Fatalf("ReadMono: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if len(got) != len(samples) {
		t.Fatalf("length = %d, want %d", len(got), len(samples))
	}
	// 16-bit quantisation allows one LSB of error.
	for i := range samples {
		if diff := math.Abs(float64(got[i] - samples[i])); diff > 1.0/32000 {
			t.Fatalf("sample %d differs by %g", i, diff)
		}
	}
}

func TestReadMonoDownmixesStereo(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, 8000, 16, 2, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 8000},
		SourceBitDepth: 16,
		// Left 1000, right 3000: the mono mix must average to 2000.
		Data: []int{1000, 3000, 1000, 3000, 1000, 3000},
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	got, rate, err := ReadMono(path)
	if err != nil {
		t.Fatalf("ReadMono: %v", err)
	}
	if rate != 8000 {
		t.Fatalf("sample rate = %d, want 8000", rate)
	}
	if len(got) != 3 {
		t.Fatalf("frames = %d, want 3", len(got))
	}
	want := float32(2000) / 32768
	for i, s := range got {
		if math.Abs(float64(s-want)) > 1e-6 {
			t.Fatalf("frame %d = %g, want %g", i, s, want)
		}
	}
}

func TestReadMonoRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(path, []byte("not a wav file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := ReadMono(path); err == nil {
		t.Fatal("ReadMono on garbage succeeded, want error")
	}
}

func TestWriteMonoClampsOutOfRange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hot.wav")
	if err := WriteMono(path, []float32{2.0, -2.0, 0}, 16000); err != nil {
		t.Fatalf("WriteMono: %v", err)
	}
	got, _, err := ReadMono(path)
	if err != nil {
		t.Fatalf("ReadMono: %v", err)
	}
	if got[0] < 0.99 || got[1] > -0.99 {
		t.Fatalf("clamped samples = %v", got)
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	t.Parallel()

	samples := sine(1000, 200, 8000)
	data := EncodePCM16(samples)
	if len(data) != 2000 {
		t.Fatalf("encoded %d bytes, want 2000", len(data))
	}
	got, err := DecodePCM16(data)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	for i := range samples {
		if diff := math.Abs(float64(got[i] - samples[i])); diff > 1.0/32000 {
			t.Fatalf("sample %d differs by %g", i, diff)
		}
	}

	if _, err := DecodePCM16([]byte{1, 2, 3}); err == nil {
		t.Fatal("DecodePCM16 with odd length succeeded, want error")
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	t.Run("same rate is a no-op", func(t *testing.T) {
		t.Parallel()
		in := sine(100, 440, 16000)
		if out := Resample(in, 16000, 16000); &out[0] != &in[0] {
			t.Fatal("same-rate resample copied the buffer")
		}
	})

	t.Run("downsample halves the length", func(t *testing.T) {
		t.Parallel()
		in := sine(32000, 440, 32000)
		out := Resample(in, 32000, 16000)
		if len(out) != 16000 {
			t.Fatalf("length = %d, want 16000", len(out))
		}
	})

	t.Run("upsample preserves a constant signal", func(t *testing.T) {
		t.Parallel()
		in := make([]float32, 1000)
		for i := range in {
			in[i] = 0.25
		}
		out := Resample(in, 8000, 16000)
		if len(out) != 2000 {
			t.Fatalf("length = %d, want 2000", len(out))
		}
		for i, s := range out {
			if math.Abs(float64(s-0.25)) > 1e-6 {
				t.Fatalf("sample %d = %g, want 0.25", i, s)
			}
		}
	})
}
