// Package postprocess implements capa's file-level post-processing
// operations. Each operation opens a finished recording, builds a
// [remux.Plan] describing the rewritten file and runs it into a temporary
// file next to the target. The target is replaced only when the multiplex
// operation succeeded; on any failure it is left untouched.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/MrWong99/capa/internal/observe"
	"github.com/MrWong99/capa/internal/remux"
	"github.com/MrWong99/capa/pkg/audio"
	"github.com/MrWong99/capa/pkg/media"
	"github.com/MrWong99/capa/pkg/media/mkv"
)

// Processor runs post-processing operations. The zero value is not usable;
// create one with [New].
type Processor struct {
	log     *slog.Logger
	metrics *observe.Metrics
	meters  *audio.Meters
}

// Option is a functional option for [New].
type Option func(*Processor)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithMeters makes the master mix operation feed block peaks of every
// rewritten audio track into m, keyed by capture role. The master track
// itself is not a capture role and is only reported to metrics.
func WithMeters(m *audio.Meters) Option {
	return func(p *Processor) { p.meters = m }
}

// New returns a Processor.
func New(opts ...Option) *Processor {
	p := &Processor{}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// tempPath returns a unique hidden path in the directory of target.
func tempPath(target, operation string) string {
	name := fmt.Sprintf(".capa-%s-%s%s", operation, uuid.NewString(), filepath.Ext(target))
	return filepath.Join(filepath.Dir(target), name)
}

// rewrite runs the plan built by build into a temporary file and swaps it
// over target on success.
func (p *Processor) rewrite(ctx context.Context, target, operation string, build func(*remux.Plan) error) (err error) {
	ctx, span := observe.StartOperation(ctx, operation, target)
	defer func() { observe.EndSpan(span, err) }()

	tmp := tempPath(target, operation)
	sink, err := mkv.Create(tmp)
	if err != nil {
		return fmt.Errorf("postprocess: %s: %w", operation, err)
	}

	plan := remux.NewPlan(sink)
	if err := build(plan); err != nil {
		if abortErr := sink.Abort(); abortErr != nil {
			p.log.Warn("discard temporary file", "path", tmp, "err", abortErr)
		}
		return fmt.Errorf("postprocess: %s: %w", operation, err)
	}

	err = remux.Run(ctx, plan,
		remux.WithLogger(p.log),
		remux.WithMetrics(p.metrics),
		remux.WithOperation(operation),
	)
	if err != nil {
		return fmt.Errorf("postprocess: %s %s: %w", operation, target, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.log.Warn("remove temporary file", "path", tmp, "err", rmErr)
		}
		return fmt.Errorf("postprocess: %s: replace %s: %w", operation, target, err)
	}
	return nil
}

// meterStage returns a transform reporting block peaks of a track with the
// given role, or nil when f carries no PCM.
func (p *Processor) meterStage(ctx context.Context, role string, r audio.Role, f media.Format) remux.Transform {
	if !f.IsPCM() {
		return nil
	}
	return audio.NewMeterStage(f, func(pk audio.Peak) {
		p.metrics.RecordPeak(ctx, role, pk.DB, pk.Clipped)
		if p.meters != nil && r != audio.RoleUnknown {
			p.meters.Update(r, pk)
		}
	})
}

// openSource opens the recording at path for reading.
func openSource(path string) (*mkv.File, error) {
	f, err := mkv.Open(path)
	if err != nil {
		return nil, fmt.Errorf("postprocess: %w", err)
	}
	return f, nil
}

// nonNil drops nil transforms.
func nonNil(ts ...remux.Transform) []remux.Transform {
	out := ts[:0]
	for _, t := range ts {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}
