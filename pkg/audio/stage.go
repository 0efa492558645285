package audio

import (
	"errors"
	"fmt"

	"github.com/MrWong99/capa/pkg/media"
)

// GainStage scales every PCM block of a track by a fixed gain. It is used as a
// pipe transform when a source track is rewritten with its role's gain.
type GainStage struct {
	format media.Format
	gain   float64
}

// NewGainStage returns a stage applying gainDB to samples of format f.
// f must describe PCM audio.
func NewGainStage(gainDB float64, f media.Format) (*GainStage, error) {
	if !f.IsPCM() {
		return nil, fmt.Errorf("audio: gain stage needs PCM, got codec %q: %w", f.Codec, ErrUnsupportedEncoding)
	}
	return &GainStage{format: f, gain: DBToLinear(gainDB)}, nil
}

// Gain returns the linear gain factor.
func (g *GainStage) Gain() float64 { return g.gain }

// Apply returns s with its samples scaled. Empty blocks pass through.
func (g *GainStage) Apply(s media.Sample) ([]media.Sample, error) {
	if g.gain == 1 || len(s.Data) == 0 {
		return []media.Sample{s}, nil
	}
	samples, err := Decode(s.Data, g.format.Encoding)
	if err != nil {
		return nil, fmt.Errorf("audio: gain stage: %w", err)
	}
	ApplyGain(samples, g.gain)
	data, err := Encode(samples, g.format.Encoding)
	if err != nil {
		return nil, fmt.Errorf("audio: gain stage: %w", err)
	}
	s.Data = data
	return []media.Sample{s}, nil
}

// Flush has nothing buffered.
func (g *GainStage) Flush() ([]media.Sample, error) { return nil, nil }

// MeterStage measures the peak of every block flowing through a pipe and
// hands it to a callback. Samples pass through unchanged; blocks that carry
// no decodable PCM are skipped.
type MeterStage struct {
	format media.Format
	onPeak func(Peak)
}

// NewMeterStage returns a stage reporting block peaks of format f to onPeak.
func NewMeterStage(f media.Format, onPeak func(Peak)) *MeterStage {
	return &MeterStage{format: f, onPeak: onPeak}
}

// Apply measures s and returns it unchanged.
func (m *MeterStage) Apply(s media.Sample) ([]media.Sample, error) {
	p, err := MeasurePeak(s.Data, m.format.Encoding)
	switch {
	case err == nil:
		m.onPeak(p)
	case errors.Is(err, ErrNoPCM), errors.Is(err, ErrUnsupportedEncoding):
		// No reading for this block.
	default:
		return nil, err
	}
	return []media.Sample{s}, nil
}

// Flush has nothing buffered.
func (m *MeterStage) Flush() ([]media.Sample, error) { return nil, nil }
