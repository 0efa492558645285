package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/capa/pkg/audio"
	"github.com/MrWong99/capa/pkg/media"
)

func TestMonoToStereo(t *testing.T) {
	got := audio.MonoToStereo([]float32{0.1, 0.2, 0.3})
	want := []float32{0.1, 0.1, 0.2, 0.2, 0.3, 0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	got := audio.StereoToMono([]float32{0.1, 0.3, -0.1, -0.3})
	want := []float32{0.2, -0.2}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRemix_QuadToStereoMapsChannels(t *testing.T) {
	quad := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	got := audio.Remix(quad, 4, 2)
	want := []float32{1, 2, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResample_SameRateIsNoop(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 1, 48000, 48000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return the input slice")
	}
}

func TestResample_Upsample(t *testing.T) {
	in := make([]float32, 160)
	out := audio.Resample(in, 1, 16000, 48000)
	if len(out) != 480 {
		t.Errorf("upsample 16k→48k: got %d samples, want 480", len(out))
	}
}

func TestResample_StereoDownsampleKeepsChannels(t *testing.T) {
	in := make([]float32, 0, 960)
	for range 480 {
		in = append(in, 0.5, -0.5)
	}
	out := audio.Resample(in, 2, 48000, 16000)
	if len(out) != 320 {
		t.Fatalf("got %d samples, want 320", len(out))
	}
	for i := 0; i < len(out); i += 2 {
		if out[i] != 0.5 || out[i+1] != -0.5 {
			t.Fatalf("frame %d: got L=%v R=%v, want 0.5/-0.5", i/2, out[i], out[i+1])
		}
	}
}

func TestConverter_MatchingFormatPassesThrough(t *testing.T) {
	conv := audio.Converter{Target: media.Format{SampleRate: 48000, Channels: 2}}
	in := []float32{0.1, 0.2}
	out := conv.Convert(in, media.Format{SampleRate: 48000, Channels: 2})
	if &out[0] != &in[0] {
		t.Error("matching format should not allocate")
	}
}

func TestConverter_MonoToStereo(t *testing.T) {
	conv := audio.Converter{Target: media.Format{SampleRate: 48000, Channels: 2}}
	out := conv.Convert([]float32{0.25, 0.5}, media.Format{SampleRate: 48000, Channels: 1})
	if len(out) != 4 {
		t.Fatalf("got %d samples, want 4", len(out))
	}
	if out[2] != 0.5 || out[3] != 0.5 {
		t.Errorf("second frame = %v/%v, want 0.5/0.5", out[2], out[3])
	}
}
