package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/capa/pkg/audio"
)

func TestMeters_UpdateSmoothAndZero(t *testing.T) {
	m := audio.NewMeters()

	if _, ok := m.Level(audio.RoleMicrophone); ok {
		t.Fatal("fresh meters should have no reading")
	}

	m.Update(audio.RoleMicrophone, audio.Peak{DB: -10})
	lvl, ok := m.Level(audio.RoleMicrophone)
	if !ok || lvl.DB != -10 || lvl.Clipped {
		t.Fatalf("first reading = %+v (ok=%v), want -10 dB unclipped", lvl, ok)
	}

	m.Update(audio.RoleMicrophone, audio.Peak{DB: 0, Clipped: true})
	lvl, _ = m.Level(audio.RoleMicrophone)
	if math.Abs(lvl.DB-(-8)) > 1e-9 {
		t.Errorf("smoothed reading = %v, want -8", lvl.DB)
	}
	if !lvl.Clipped {
		t.Error("clip flag should follow the latest reading")
	}

	if _, ok := m.Level(audio.RoleSystem); ok {
		t.Error("system meter should be untouched")
	}

	m.Zero()
	if _, ok := m.Level(audio.RoleMicrophone); ok {
		t.Error("Zero should clear readings")
	}
}

func TestMeters_ClampsRange(t *testing.T) {
	m := audio.NewMeters()
	m.Update(audio.RoleSystem, audio.Peak{DB: -180})
	if lvl, _ := m.Level(audio.RoleSystem); lvl.DB != -80 {
		t.Errorf("floor clamp = %v, want -80", lvl.DB)
	}

	m.Zero()
	m.Update(audio.RoleSystem, audio.Peak{DB: 3})
	if lvl, _ := m.Level(audio.RoleSystem); lvl.DB != 0 {
		t.Errorf("ceiling clamp = %v, want 0", lvl.DB)
	}
}
