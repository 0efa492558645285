package retime

import (
	"fmt"
	"time"
)

// Slot is one output frame of a constant-rate schedule.
type Slot struct {
	// Time is the slot's presentation time.
	Time time.Duration

	// Source is the index of the source frame shown in this slot.
	Source int
}

// Schedule maps source frame timestamps onto a grid of fps slots starting at
// pts[0]. pts must be sorted ascending. end is where the last source frame
// stops being shown; when it is not after the last timestamp, the last frame
// is shown for one output period.
//
// The result covers [pts[0], end): slot times are strictly increasing with
// uniform spacing, and every slot shows the latest frame at or before it.
func Schedule(pts []time.Duration, end time.Duration, fps int) ([]Slot, error) {
	if len(pts) == 0 {
		return nil, ErrNoFrames
	}
	g, err := NewGrid(pts[0], fps)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(pts); i++ {
		if pts[i] < pts[i-1] {
			return nil, fmt.Errorf("retime: timestamps not sorted at index %d", i)
		}
	}

	last := pts[len(pts)-1]
	if end <= last {
		end = last + g.Period()
	}

	var slots []Slot
	src := 0
	for k := int64(0); ; k++ {
		t := g.SlotTime(k)
		if t >= end {
			break
		}
		for src+1 < len(pts) && pts[src+1] <= t {
			src++
		}
		slots = append(slots, Slot{Time: t, Source: src})
	}
	return slots, nil
}
