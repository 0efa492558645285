package remux

import (
	"fmt"
	"slices"

	"github.com/MrWong99/capa/pkg/media"
)

// Transform rewrites the samples of one pipe between its source and its
// destination. Apply may return zero, one or many samples per input; Flush
// is called once after the source is exhausted and returns whatever the
// transform still holds.
//
// A transform is owned by a single pipe and is never called concurrently.
type Transform interface {
	Apply(s media.Sample) ([]media.Sample, error)
	Flush() ([]media.Sample, error)
}

// Plan is the fixed set of pipes of one multiplex operation. Every
// destination track is created in the sink while the plan is built, so a
// destination that cannot hold a track fails here, before any sample moves.
//
// A Plan is not safe for concurrent use and can be run only once.
type Plan struct {
	sink    media.Sink
	sources []media.Source
	pipes   []*pipe
	used    bool
}

// NewPlan returns an empty plan writing into sink.
func NewPlan(sink media.Sink) *Plan {
	return &Plan{sink: sink}
}

// Len returns the number of pipes.
func (p *Plan) Len() int { return len(p.pipes) }

// Sink returns the destination container.
func (p *Plan) Sink() media.Sink { return p.sink }

// Watch adds src to the containers whose failure state every pipe polls.
// Sources passed to [Plan.AddFrom] are watched automatically.
func (p *Plan) Watch(src media.Source) {
	if !slices.Contains(p.sources, src) {
		p.sources = append(p.sources, src)
	}
}

// Add creates a destination track for spec fed by r through transforms, in
// order. r may be a synthesized source such as a mixer. It returns the pipe
// index used by [Plan.Associate].
func (p *Plan) Add(r media.TrackReader, spec media.TrackSpec, transforms ...Transform) (int, error) {
	if p.used {
		return 0, ErrPlanUsed
	}
	w, err := p.sink.AddTrack(spec)
	if err != nil {
		return 0, fmt.Errorf("remux: add %s track %q: %w", spec.Kind, spec.Title, err)
	}
	name := spec.Title
	if name == "" {
		name = spec.Kind.String()
	}
	idx := len(p.pipes)
	p.pipes = append(p.pipes, &pipe{
		index:      idx,
		name:       name,
		kind:       spec.Kind,
		reader:     r,
		writer:     w,
		transforms: transforms,
	})
	return idx, nil
}

// AddFrom opens track id of src and adds it as a pipe writing a destination
// track described by spec. Use [media.SpecFrom] for a plain passthrough.
func (p *Plan) AddFrom(src media.Source, id int, spec media.TrackSpec, transforms ...Transform) (int, error) {
	if p.used {
		return 0, ErrPlanUsed
	}
	r, err := src.OpenTrack(id)
	if err != nil {
		return 0, fmt.Errorf("remux: open source track %d: %w", id, err)
	}
	idx, err := p.Add(r, spec, transforms...)
	if err != nil {
		return 0, err
	}
	p.Watch(src)
	return idx, nil
}

// Associate declares that pipe timecode carries the timecode of pipe video.
func (p *Plan) Associate(video, timecode int) error {
	if p.used {
		return ErrPlanUsed
	}
	if video < 0 || video >= len(p.pipes) || timecode < 0 || timecode >= len(p.pipes) {
		return fmt.Errorf("remux: associate pipes %d and %d: index out of range", video, timecode)
	}
	v, tc := p.pipes[video], p.pipes[timecode]
	if v.kind != media.KindVideo || tc.kind != media.KindTimecode {
		return fmt.Errorf("remux: associate %s pipe %d with %s pipe %d: want video and timecode", v.kind, video, tc.kind, timecode)
	}
	if err := p.sink.Associate(v.writer, tc.writer); err != nil {
		return fmt.Errorf("remux: associate pipes %d and %d: %w", video, timecode, err)
	}
	return nil
}
