package retime

import (
	"fmt"
	"time"

	"github.com/MrWong99/capa/pkg/media"
)

// Stats counts how a [Retimer] changed the frame sequence.
type Stats struct {
	// In is the number of source frames consumed.
	In int

	// Out is the number of frames emitted.
	Out int

	// Dropped counts source frames that were never shown because a later
	// frame arrived before the next slot.
	Dropped int

	// Repeated counts emitted frames that repeat the previous slot's frame.
	Repeated int
}

// Retimer resamples a stream of video frames onto a constant-rate grid
// anchored at the first frame. It is a remux transform: feed frames in
// presentation order through Apply and call Flush at end of stream.
type Retimer struct {
	fps   int
	grid  Grid
	next  int64 // next slot to emit
	held  media.Sample
	shown bool // held has been emitted at least once
	init  bool
	stats Stats
}

// NewRetimer returns a retimer producing fps frames per second.
func NewRetimer(fps int) (*Retimer, error) {
	if err := ValidateFPS(fps); err != nil {
		return nil, err
	}
	return &Retimer{fps: fps}, nil
}

// Grid returns the output grid. It is only meaningful after the first frame.
func (r *Retimer) Grid() Grid { return r.grid }

// Stats returns the counters accumulated so far.
func (r *Retimer) Stats() Stats { return r.stats }

// Apply consumes one source frame and returns the slots it closes.
func (r *Retimer) Apply(s media.Sample) ([]media.Sample, error) {
	r.stats.In++
	if !r.init {
		r.init = true
		r.grid = Grid{Start: s.PTS, FPS: r.fps}
		r.held = s
		return nil, nil
	}
	if s.PTS < r.held.PTS {
		return nil, fmt.Errorf("retime: frame at %v precedes frame at %v", s.PTS, r.held.PTS)
	}
	out := r.emitUntil(s.PTS)
	if !r.shown {
		r.stats.Dropped++
	}
	r.held = s
	r.shown = false
	return out, nil
}

// Flush emits the remaining slots of the last frame. The last frame is shown
// until its end, or for one period when its duration is unknown.
func (r *Retimer) Flush() ([]media.Sample, error) {
	if !r.init {
		return nil, nil
	}
	end := r.held.PTS + r.grid.Period()
	if r.held.Duration > 0 {
		end = r.held.End()
	}
	out := r.emitUntil(end)
	if !r.shown {
		r.stats.Dropped++
	}
	return out, nil
}

// emitUntil emits the held frame for every pending slot before t.
func (r *Retimer) emitUntil(t time.Duration) []media.Sample {
	var out []media.Sample
	for ; r.grid.SlotTime(r.next) < t; r.next++ {
		s := r.held
		s.PTS = r.grid.SlotTime(r.next)
		s.Duration = r.grid.SlotDuration(r.next)
		if r.shown {
			r.stats.Repeated++
		}
		r.shown = true
		r.stats.Out++
		out = append(out, s)
	}
	return out
}
