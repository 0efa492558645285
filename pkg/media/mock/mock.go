// Package mock provides in-memory implementations of the [media.Source],
// [media.TrackReader], [media.Sink] and [media.TrackWriter] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. The sink records every track, sample
// and lifecycle call so that tests can assert on them, and both sides expose
// exported fields that inject failures.
//
// Typical usage:
//
//	src := mock.NewSource(
//	    mock.Track{Info: media.TrackInfo{Kind: media.KindAudio}, Samples: blocks},
//	)
//	sink := &mock.Sink{StartErr: errBoom}
//	err := remux.Run(ctx, plan)
package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/capa/pkg/media"
)

// Compile-time interface assertions.
var (
	_ media.Source      = (*Source)(nil)
	_ media.TrackReader = (*Reader)(nil)
	_ media.Sink        = (*Sink)(nil)
	_ media.TrackWriter = (*Writer)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Track is one track of a mock [Source].
type Track struct {
	Info    media.TrackInfo
	Samples []media.Sample

	// FailAfter, when FailErr is set, makes readers of this track return
	// FailErr once FailAfter samples have been read.
	FailAfter int
	FailErr   error
}

// Source is a mock [media.Source] serving tracks from memory.
type Source struct {
	mu     sync.Mutex
	tracks []Track
	err    error
	closed bool

	// CallCountOpenTrack records how many readers were handed out.
	CallCountOpenTrack int
}

// NewSource returns a source holding tracks. Tracks with a zero ID are
// numbered by position starting at 1.
func NewSource(tracks ...Track) *Source {
	s := &Source{}
	for i, t := range tracks {
		if t.Info.ID == 0 {
			t.Info.ID = i + 1
		}
		s.tracks = append(s.tracks, t)
	}
	return s
}

// Tracks implements [media.Source].
func (s *Source) Tracks(kind media.Kind) []media.TrackInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []media.TrackInfo
	for _, t := range s.tracks {
		if t.Info.Kind == kind {
			out = append(out, t.Info)
		}
	}
	return out
}

// OpenTrack implements [media.Source].
func (s *Source) OpenTrack(id int) (media.TrackReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpenTrack++
	for _, t := range s.tracks {
		if t.Info.ID == id {
			r := NewReader(t.Samples...)
			r.failAfter, r.failErr = t.FailAfter, t.FailErr
			return r, nil
		}
	}
	return nil, fmt.Errorf("mock: track %d: %w", id, media.ErrUnknownTrack)
}

// SetErr puts the source into a failed state reported by [Source.Err].
func (s *Source) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Err implements [media.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [media.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reader is a mock [media.TrackReader] over a fixed slice of samples.
type Reader struct {
	mu        sync.Mutex
	samples   []media.Sample
	pos       int
	failAfter int
	failErr   error
}

// NewReader returns a reader yielding samples in order, then io.EOF.
func NewReader(samples ...media.Sample) *Reader {
	return &Reader{samples: samples}
}

// ReadSample implements [media.TrackReader].
func (r *Reader) ReadSample(ctx context.Context) (media.Sample, error) {
	if err := ctx.Err(); err != nil {
		return media.Sample{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil && r.pos >= r.failAfter {
		return media.Sample{}, r.failErr
	}
	if r.pos >= len(r.samples) {
		return media.Sample{}, io.EOF
	}
	s := r.samples[r.pos]
	r.pos++
	return s, nil
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// WriteFailure makes writes to one destination track fail.
type WriteFailure struct {
	// Track is the index of the destination track, in AddTrack order.
	Track int

	// After is the number of samples accepted before writes fail.
	After int

	Err error
}

// Sink is a mock [media.Sink] recording everything written to it.
// Set the exported failure fields before use; inspect the accessors after.
type Sink struct {
	mu sync.Mutex

	// RejectKinds makes AddTrack fail with [media.ErrUnsupportedTrack] for
	// the listed kinds.
	RejectKinds []media.Kind

	// StartErr is returned by StartSession.
	StartErr error

	// FinalizeErr is returned by Finalize.
	FinalizeErr error

	// FailWrites, when non-nil, injects a write failure.
	FailWrites *WriteFailure

	writers      []*Writer
	associations [][2]int
	started      bool
	anchor       time.Duration
	err          error

	// CallCountFinalize and CallCountAbort record lifecycle calls.
	CallCountFinalize int
	CallCountAbort    int
}

// AddTrack implements [media.Sink].
func (s *Sink) AddTrack(spec media.TrackSpec) (media.TrackWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, media.ErrSessionStarted
	}
	if slices.Contains(s.RejectKinds, spec.Kind) {
		return nil, fmt.Errorf("mock: %s track: %w", spec.Kind, media.ErrUnsupportedTrack)
	}
	w := &Writer{sink: s, index: len(s.writers), spec: spec}
	s.writers = append(s.writers, w)
	return w, nil
}

// Associate implements [media.Sink].
func (s *Sink) Associate(video, timecode media.TrackWriter) error {
	v, ok1 := video.(*Writer)
	tc, ok2 := timecode.(*Writer)
	if !ok1 || !ok2 || v.sink != s || tc.sink != s {
		return errors.New("mock: associate: writer does not belong to this sink")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.associations = append(s.associations, [2]int{v.index, tc.index})
	return nil
}

// StartSession implements [media.Sink].
func (s *Sink) StartSession(anchor time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		return s.StartErr
	}
	if s.started {
		return media.ErrSessionStarted
	}
	s.started = true
	s.anchor = anchor
	return nil
}

// Finalize implements [media.Sink]. It fails if any track was not marked
// finished.
func (s *Sink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFinalize++
	if s.FinalizeErr != nil {
		return s.FinalizeErr
	}
	for _, w := range s.writers {
		if w.finishCount == 0 {
			return fmt.Errorf("mock: finalize: track %d not finished", w.index)
		}
	}
	return ctx.Err()
}

// Abort implements [media.Sink].
func (s *Sink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountAbort++
	return nil
}

// SetErr puts the sink into a failed state reported by [Sink.Err].
func (s *Sink) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Err implements [media.Sink].
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Started reports whether a session was started and its anchor.
func (s *Sink) Started() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor, s.started
}

// Writers returns the destination tracks in AddTrack order.
func (s *Sink) Writers() []*Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.writers)
}

// Associations returns the declared (video, timecode) pairs as track indices.
func (s *Sink) Associations() [][2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.associations)
}

// Writer is a mock [media.TrackWriter].
type Writer struct {
	sink  *Sink
	index int
	spec  media.TrackSpec

	samples     []media.Sample
	finishCount int
}

// WaitReady implements [media.TrackWriter]. It is always ready unless ctx is
// done.
func (w *Writer) WaitReady(ctx context.Context) error {
	return ctx.Err()
}

// WriteSample implements [media.TrackWriter].
func (w *Writer) WriteSample(smp media.Sample) error {
	s := w.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.finishCount > 0 {
		return media.ErrFinished
	}
	if !s.started {
		return media.ErrSessionNotStarted
	}
	if f := s.FailWrites; f != nil && f.Track == w.index && len(w.samples) >= f.After {
		return f.Err
	}
	w.samples = append(w.samples, smp)
	return nil
}

// MarkFinished implements [media.TrackWriter]. Every call is counted.
func (w *Writer) MarkFinished() {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	w.finishCount++
}

// Spec returns the spec the track was created with.
func (w *Writer) Spec() media.TrackSpec { return w.spec }

// Samples returns the samples written so far.
func (w *Writer) Samples() []media.Sample {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	return slices.Clone(w.samples)
}

// FinishCount returns how many times MarkFinished was called.
func (w *Writer) FinishCount() int {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	return w.finishCount
}
