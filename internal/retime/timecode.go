package retime

import (
	"time"

	"github.com/MrWong99/capa/pkg/media"
)

// TimecodeAligner snaps timecode samples onto the grid of a retimed video
// track so that each entry starts and ends on a frame boundary of the new
// timeline. Entries that collapse to nothing after snapping are dropped.
type TimecodeAligner struct {
	grid    Grid
	prevEnd time.Duration
	seen    bool
}

// NewTimecodeAligner returns an aligner for g. g must be the grid of the
// video track the timecode belongs to.
func NewTimecodeAligner(g Grid) (*TimecodeAligner, error) {
	if err := ValidateFPS(g.FPS); err != nil {
		return nil, err
	}
	return &TimecodeAligner{grid: g}, nil
}

// Apply snaps one timecode sample to the grid.
func (a *TimecodeAligner) Apply(s media.Sample) ([]media.Sample, error) {
	start := a.grid.Floor(max(s.PTS, a.grid.Start))
	end := start + a.grid.Period()
	if s.Duration > 0 {
		end = a.grid.Ceil(s.End())
	}
	if a.seen && start < a.prevEnd {
		start = a.prevEnd
	}
	if end <= start {
		return nil, nil
	}
	a.seen = true
	a.prevEnd = end

	s.PTS = start
	s.Duration = end - start
	return []media.Sample{s}, nil
}

// Flush has nothing buffered.
func (a *TimecodeAligner) Flush() ([]media.Sample, error) { return nil, nil }
