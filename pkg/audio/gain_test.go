package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/capa/pkg/audio"
	"github.com/MrWong99/capa/pkg/media"
)

func TestMixConfig_GainLinear(t *testing.T) {
	cfg := audio.MixConfig{MicrophoneGainDB: 6, SystemGainDB: -6, SafeMixLimiter: true}

	if got := cfg.GainLinear(audio.RoleMicrophone); math.Abs(got-1.9952623) > 0.001 {
		t.Errorf("microphone +6 dB = %v, want ≈1.995", got)
	}
	if got := cfg.GainLinear(audio.RoleSystem); math.Abs(got-0.5011872) > 0.001 {
		t.Errorf("system -6 dB = %v, want ≈0.501", got)
	}
	if got := cfg.GainLinear(audio.RoleUnknown); got != 1.0 {
		t.Errorf("unknown role = %v, want 1.0", got)
	}

	var zero audio.MixConfig
	if got := zero.GainLinear(audio.RoleMicrophone); got != 1.0 {
		t.Errorf("default microphone = %v, want 1.0", got)
	}
	if got := zero.GainLinear(audio.RoleSystem); got != 1.0 {
		t.Errorf("default system = %v, want 1.0", got)
	}
}

func TestDBToLinear(t *testing.T) {
	for _, db := range []float64{-60, -20, -6, 0, 3, 6, 12} {
		want := math.Pow(10, db/20)
		if got := audio.DBToLinear(db); math.Abs(got-want) > 1e-12 {
			t.Errorf("DBToLinear(%v) = %v, want %v", db, got, want)
		}
	}
}

func TestSoftLimit_TwoHotSourcesStayBelowFullScale(t *testing.T) {
	a, _ := audio.Decode(sineBlock(1024, 2, 0.9), media.EncodingFloat32)
	b, _ := audio.Decode(sineBlock(1024, 2, 0.9), media.EncodingFloat32)

	master := make([]float32, len(a))
	audio.Accumulate(master, a, 1)
	audio.Accumulate(master, b, 1)
	if raw := audio.PeakOf(master); !raw.Clipped {
		t.Fatalf("raw sum peak %.2f dB should clip for this test to be meaningful", raw.DB)
	}

	audio.SoftLimit(master)
	p := audio.PeakOf(master)
	if p.Clipped {
		t.Error("limited master is clipped")
	}
	if p.DB > -0.5 {
		t.Errorf("limited master peak = %.2f dBFS, want <= -0.5", p.DB)
	}
}

func TestSoftLimit_IdentityBelowKnee(t *testing.T) {
	in := []float32{0, 0.1, -0.5, audio.LimiterKnee, -audio.LimiterKnee}
	out := append([]float32(nil), in...)
	audio.SoftLimit(out)
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d changed: %v → %v", i, in[i], out[i])
		}
	}
}

func TestSoftLimit_MonotonicAboveKnee(t *testing.T) {
	prev := float32(audio.LimiterKnee)
	for x := float32(0.76); x < 4; x += 0.05 {
		s := []float32{x}
		audio.SoftLimit(s)
		if s[0] < prev {
			t.Fatalf("limiter not monotonic at %v: %v < %v", x, s[0], prev)
		}
		if s[0] >= 1 {
			t.Fatalf("limiter output %v reached full scale for input %v", s[0], x)
		}
		prev = s[0]
	}
}

func TestGainStage_PerTrackGainDifference(t *testing.T) {
	f := media.Format{Codec: "A_PCM/FLOAT/IEEE", SampleRate: 48000, Channels: 2, Encoding: media.EncodingFloat32}
	cfg := audio.MixConfig{MicrophoneGainDB: 6, SystemGainDB: 0}

	mic, err := audio.NewGainStage(cfg.GainDB(audio.RoleMicrophone), f)
	if err != nil {
		t.Fatalf("NewGainStage: %v", err)
	}
	sys, err := audio.NewGainStage(cfg.GainDB(audio.RoleSystem), f)
	if err != nil {
		t.Fatalf("NewGainStage: %v", err)
	}

	in := media.Sample{Data: sineBlock(1024, 2, 0.25)}
	micOut, err := mic.Apply(in)
	if err != nil {
		t.Fatalf("mic Apply: %v", err)
	}
	sysOut, err := sys.Apply(in)
	if err != nil {
		t.Fatalf("sys Apply: %v", err)
	}

	micPeak, _ := audio.MeasurePeak(micOut[0].Data, f.Encoding)
	sysPeak, _ := audio.MeasurePeak(sysOut[0].Data, f.Encoding)
	if micPeak.Clipped || sysPeak.Clipped {
		t.Fatal("neither track should clip")
	}
	if diff := micPeak.DB - sysPeak.DB; diff <= 4.5 {
		t.Errorf("peak difference = %.2f dB, want > 4.5", diff)
	}
}

func TestGainStage_RejectsCompressedAudio(t *testing.T) {
	_, err := audio.NewGainStage(3, media.Format{Codec: "A_OPUS", SampleRate: 48000, Channels: 2})
	if err == nil {
		t.Fatal("expected error for non-PCM format")
	}
}

func TestMeterStage_ReportsAndPassesThrough(t *testing.T) {
	f := media.Format{SampleRate: 48000, Channels: 1, Encoding: media.EncodingFloat32}
	var got []audio.Peak
	stage := audio.NewMeterStage(f, func(p audio.Peak) { got = append(got, p) })

	in := media.Sample{PTS: 5, Data: sineBlock(256, 1, 0.5)}
	out, err := stage.Apply(in)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out) != 1 || out[0].PTS != in.PTS || len(out[0].Data) != len(in.Data) {
		t.Errorf("sample not passed through unchanged: %+v", out)
	}

	if _, err := stage.Apply(media.Sample{}); err != nil {
		t.Fatalf("empty block should be skipped, got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d readings, want 1", len(got))
	}
	if math.Abs(got[0].DB+6) > 0.1 {
		t.Errorf("reading = %.2f dB, want ≈-6", got[0].DB)
	}
}
