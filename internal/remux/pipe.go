package remux

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/capa/pkg/media"
)

// pipe copies one source track into one destination track. It is owned by a
// single goroutine once the copy phase starts.
type pipe struct {
	index      int
	name       string
	kind       media.Kind
	reader     media.TrackReader
	writer     media.TrackWriter
	transforms []Transform

	pending []media.Sample
	eof     bool

	seed    media.Sample
	seeded  bool
	written int64
}

func (p *pipe) fail(op string, err error) *PipeError {
	return &PipeError{Pipe: p.index, Name: p.name, Op: op, Err: err}
}

// next returns the next transformed sample, or io.EOF once the source and
// every transform are drained.
func (p *pipe) next(ctx context.Context) (media.Sample, error) {
	for len(p.pending) == 0 {
		if p.eof {
			return media.Sample{}, io.EOF
		}
		s, err := p.reader.ReadSample(ctx)
		if errors.Is(err, io.EOF) {
			p.eof = true
			if p.pending, err = p.flush(); err != nil {
				return media.Sample{}, p.fail(OpTransform, err)
			}
			continue
		}
		if err != nil {
			return media.Sample{}, p.fail(OpRead, err)
		}
		if p.pending, err = p.apply(s); err != nil {
			return media.Sample{}, p.fail(OpTransform, err)
		}
	}
	s := p.pending[0]
	p.pending = p.pending[1:]
	return s, nil
}

func (p *pipe) apply(s media.Sample) ([]media.Sample, error) {
	batch := []media.Sample{s}
	for _, t := range p.transforms {
		var out []media.Sample
		for _, in := range batch {
			o, err := t.Apply(in)
			if err != nil {
				return nil, err
			}
			out = append(out, o...)
		}
		batch = out
	}
	return batch, nil
}

// flush drains the transforms in order. What one transform releases on
// Flush still passes through the transforms after it.
func (p *pipe) flush() ([]media.Sample, error) {
	var batch []media.Sample
	for _, t := range p.transforms {
		var out []media.Sample
		for _, in := range batch {
			o, err := t.Apply(in)
			if err != nil {
				return nil, err
			}
			out = append(out, o...)
		}
		tail, err := t.Flush()
		if err != nil {
			return nil, err
		}
		batch = append(out, tail...)
	}
	return batch, nil
}

// readSeed pulls the first sample. An exhausted pipe has no seed.
func (p *pipe) readSeed(ctx context.Context) error {
	s, err := p.next(ctx)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		var pe *PipeError
		if errors.As(err, &pe) && pe.Op == OpRead {
			pe.Op = OpSeed
		}
		return err
	}
	p.seed, p.seeded = s, true
	return nil
}

// copy writes the seed and every following sample until the source is
// exhausted, the context is cancelled, or a watched container fails. The
// destination is marked finished exactly once on every path.
func (p *pipe) copy(ctx context.Context, sink media.Sink, sources []media.Source) error {
	defer p.writer.MarkFinished()

	if !p.seeded {
		return nil
	}
	s := p.seed
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, src := range sources {
			if err := src.Err(); err != nil {
				return p.fail(OpSource, err)
			}
		}
		if err := sink.Err(); err != nil {
			return p.fail(OpSink, err)
		}
		if err := p.writer.WaitReady(ctx); err != nil {
			return err
		}
		if err := p.writer.WriteSample(s); err != nil {
			return p.fail(OpWrite, err)
		}
		p.written++

		var err error
		s, err = p.next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
