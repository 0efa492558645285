// Package retime converts variable-frame-rate video to a constant frame rate.
//
// The output timeline is a [Grid] of uniformly spaced slots starting at the
// first source frame. Each slot shows the most recent source frame whose
// timestamp is at or before the slot time: frames are held across gaps and
// dropped when several land inside one slot, and a slot never shows a frame
// from its future.
//
// [Schedule] computes that mapping for a known list of timestamps. [Retimer]
// applies it to a stream of samples inside a remux pipe, and
// [TimecodeAligner] snaps an associated timecode track onto the same grid.
package retime

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoFrames is returned when there is nothing to retime.
	ErrNoFrames = errors.New("retime: no frames")

	// ErrInvalidFPS is returned for frame rates outside 1..MaxFPS.
	ErrInvalidFPS = errors.New("retime: invalid frame rate")
)

// MaxFPS is the highest supported output frame rate.
const MaxFPS = 240

// Grid is a constant-rate timeline: slot k is at Start + k/FPS seconds,
// truncated to the nanosecond.
type Grid struct {
	Start time.Duration
	FPS   int
}

// NewGrid validates fps and returns the grid starting at start.
func NewGrid(start time.Duration, fps int) (Grid, error) {
	if err := ValidateFPS(fps); err != nil {
		return Grid{}, err
	}
	return Grid{Start: start, FPS: fps}, nil
}

// ValidateFPS reports whether fps is a supported output frame rate.
func ValidateFPS(fps int) error {
	if fps < 1 || fps > MaxFPS {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidFPS, fps, MaxFPS)
	}
	return nil
}

// Period returns the nominal slot spacing.
func (g Grid) Period() time.Duration {
	return time.Second / time.Duration(g.FPS)
}

// SlotTime returns the time of slot k.
func (g Grid) SlotTime(k int64) time.Duration {
	return g.Start + time.Duration(floorDiv(k*int64(time.Second), int64(g.FPS)))
}

// SlotDuration returns the exact length of slot k. Slots differ by at most
// one nanosecond from [Grid.Period].
func (g Grid) SlotDuration(k int64) time.Duration {
	return g.SlotTime(k+1) - g.SlotTime(k)
}

// Index returns the index of the last slot at or before t.
func (g Grid) Index(t time.Duration) int64 {
	k := floorDiv(int64(t-g.Start)*int64(g.FPS), int64(time.Second))
	// SlotTime truncates, so the estimate can be one slot short.
	for g.SlotTime(k+1) <= t {
		k++
	}
	for g.SlotTime(k) > t {
		k--
	}
	return k
}

// Floor returns the time of the last slot at or before t.
func (g Grid) Floor(t time.Duration) time.Duration {
	return g.SlotTime(g.Index(t))
}

// Ceil returns the time of the first slot at or after t.
func (g Grid) Ceil(t time.Duration) time.Duration {
	k := g.Index(t)
	if g.SlotTime(k) == t {
		return t
	}
	return g.SlotTime(k + 1)
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
