// Package remux is capa's multiplex pipeline engine. It copies a fixed set of
// tracks from one or more source containers into one new destination
// container, optionally rewriting samples on the way.
//
// A multiplex operation has three phases:
//
//  1. Construction: a [Plan] creates every destination track and declares
//     track associations. Nothing is read yet.
//  2. Seeding: every pipe reads its first sample concurrently. The earliest
//     seed becomes the session anchor that all destination timestamps are
//     relative to.
//  3. Copy: one goroutine per pipe copies samples in source order, waiting on
//     its own destination's readiness. A coordinator collects the outcome of
//     every pipe; the first failure is latched and stops the others.
//
// [Run] finalizes the destination only when every pipe succeeded and aborts
// it otherwise, so a failed operation leaves no partial output behind.
package remux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/capa/internal/observe"
)

// Option is a functional option for [Run].
type Option func(*runner)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) { r.log = l }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *runner) { r.metrics = m }
}

// WithOperation names the operation in logs, spans and metrics. Defaults to
// "remux".
func WithOperation(name string) Option {
	return func(r *runner) { r.operation = name }
}

type runner struct {
	log       *slog.Logger
	metrics   *observe.Metrics
	operation string
}

// pipeDone is the completion message a pipe sends to the coordinator.
type pipeDone struct {
	index int
	err   error
}

// Run executes plan. It returns [ErrNoSamples] when no pipe has a sample,
// an error wrapping [ErrStart] when the session cannot be opened, and a
// *[PipeError] for the first pipe that failed while copying.
//
// Run owns the plan's sink from here on: it calls Finalize on success and
// Abort on any failure.
func Run(ctx context.Context, plan *Plan, opts ...Option) (err error) {
	r := &runner{operation: "remux"}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if plan.used {
		return ErrPlanUsed
	}
	plan.used = true

	ctx, span := observe.StartSpan(ctx, "remux.Run", trace.WithAttributes(
		attribute.String("operation", r.operation),
		attribute.Int("pipes", len(plan.pipes)),
	))
	log := observe.LoggerFrom(ctx, r.log).With("operation", r.operation)
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			var pe *PipeError
			if errors.As(err, &pe) {
				r.metrics.RecordPipeFailure(ctx, pe.Op)
			}
			if abortErr := plan.sink.Abort(); abortErr != nil {
				log.Warn("abort destination", "err", abortErr)
			}
		}
		r.metrics.RecordRemux(ctx, r.operation, status, time.Since(start))
		observe.EndSpan(span, err)
	}()

	anchor, err := seed(ctx, plan.pipes)
	if err == nil {
		if startErr := plan.sink.StartSession(anchor); startErr != nil {
			err = fmt.Errorf("%w: %w", ErrStart, startErr)
		}
	}
	if err != nil {
		for _, p := range plan.pipes {
			p.writer.MarkFinished()
		}
		return err
	}
	log.Debug("session started", "anchor", anchor, "pipes", len(plan.pipes))

	if err := r.copyAll(ctx, plan); err != nil {
		return err
	}

	if err := plan.sink.Finalize(ctx); err != nil {
		return fmt.Errorf("remux: finalize: %w", err)
	}
	for _, p := range plan.pipes {
		r.metrics.RecordSamples(ctx, p.kind.String(), p.written)
	}
	log.Info("remux finished", "pipes", len(plan.pipes), "elapsed", time.Since(start))
	return nil
}

// seed reads the first sample of every pipe concurrently and returns the
// earliest PTS.
func seed(ctx context.Context, pipes []*pipe) (time.Duration, error) {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, p := range pipes {
		eg.Go(func() error { return p.readSeed(egCtx) })
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	var (
		anchor time.Duration
		found  bool
	)
	for _, p := range pipes {
		if p.seeded && (!found || p.seed.PTS < anchor) {
			anchor, found = p.seed.PTS, true
		}
	}
	if !found {
		return 0, ErrNoSamples
	}
	return anchor, nil
}

// copyAll runs every pipe in its own goroutine and waits for all of them.
// The coordinator is the only reader of the completion channel; it latches
// the first failure and cancels the remaining pipes, which then finish
// their destinations without writing more.
func (r *runner) copyAll(ctx context.Context, plan *Plan) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan pipeDone, len(plan.pipes))
	for _, p := range plan.pipes {
		r.metrics.ActivePipes.Add(ctx, 1)
		go func() {
			err := p.copy(ctx, plan.sink, plan.sources)
			r.metrics.ActivePipes.Add(context.WithoutCancel(ctx), -1)
			done <- pipeDone{index: p.index, err: err}
		}()
	}

	result := make(chan error, 1)
	go func() {
		var first error
		for range plan.pipes {
			d := <-done
			if d.err == nil {
				continue
			}
			if first == nil {
				first = d.err
				cancel()
				continue
			}
			r.log.Debug("pipe stopped after failure", "pipe", d.index, "err", d.err)
		}
		result <- first
	}()
	return <-result
}
