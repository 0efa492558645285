// Package mixer synthesizes a master audio track by summing several PCM
// tracks.
//
// A [Mixer] is itself a [media.TrackReader]: the remux engine pulls mixed
// blocks from it exactly like it pulls samples from a container track. Each
// input is decoded, converted to the target rate and channel layout, scaled by
// its role's gain and summed. Inputs that start later than the earliest one
// are padded with silence so that all sources stay aligned on the container
// timeline.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/capa/pkg/audio"
	"github.com/MrWong99/capa/pkg/media"
)

// Compile-time interface assertion.
var _ media.TrackReader = (*Mixer)(nil)

// DefaultBlockFrames is the number of frames per mixed output block.
const DefaultBlockFrames = 1024

// ErrNoInputs is returned by [New] when no inputs are given.
var ErrNoInputs = errors.New("mixer: no inputs")

// Input is one source track contributing to the mix.
type Input struct {
	// Reader yields the track's PCM blocks.
	Reader media.TrackReader

	// Format describes the PCM carried by Reader.
	Format media.Format

	// Role selects the gain applied to this input.
	Role audio.Role
}

// Option configures a [Mixer] during construction.
type Option func(*Mixer)

// WithBlockFrames sets the number of frames per output block.
func WithBlockFrames(n int) Option {
	return func(m *Mixer) {
		if n > 0 {
			m.blockFrames = n
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mixer) {
		if l != nil {
			m.log = l
		}
	}
}

// input is the per-source mixing state.
type input struct {
	Input
	gain float64
	conv *audio.Converter

	// fifo holds converted, not yet mixed samples in the target layout.
	fifo []float32

	// pushed counts target frames placed into fifo since the mix start,
	// silence padding included.
	pushed int64

	eof bool
}

// Mixer sums its inputs into blocks of target-format PCM. It is not safe for
// concurrent use; one pipe owns it.
type Mixer struct {
	inputs      []*input
	target      media.Format
	limit       bool
	blockFrames int
	log         *slog.Logger

	started bool
	start   time.Duration
	emitted int64 // output frames produced so far
}

// New returns a mixer summing inputs into target. Every input and the target
// must describe PCM audio. Gains come from cfg per input role; cfg also
// decides whether the safe mix limiter runs on each output block.
func New(inputs []Input, cfg audio.MixConfig, target media.Format, opts ...Option) (*Mixer, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if !target.IsPCM() {
		return nil, fmt.Errorf("mixer: target format: %w", audio.ErrUnsupportedEncoding)
	}

	m := &Mixer{
		target:      target,
		limit:       cfg.SafeMixLimiter,
		blockFrames: DefaultBlockFrames,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}

	for i, in := range inputs {
		if in.Reader == nil {
			return nil, fmt.Errorf("mixer: input %d: nil reader", i)
		}
		if !in.Format.IsPCM() {
			return nil, fmt.Errorf("mixer: input %d (%s): codec %q: %w", i, in.Role, in.Format.Codec, audio.ErrUnsupportedEncoding)
		}
		m.inputs = append(m.inputs, &input{
			Input: in,
			gain:  cfg.GainLinear(in.Role),
			conv:  &audio.Converter{Target: target},
		})
	}
	return m, nil
}

// Format returns the format of the mixed blocks.
func (m *Mixer) Format() media.Format { return m.target }

// ReadSample returns the next mixed block, or io.EOF once every input is
// exhausted and drained.
func (m *Mixer) ReadSample(ctx context.Context) (media.Sample, error) {
	if !m.started {
		if err := m.prime(ctx); err != nil {
			return media.Sample{}, err
		}
	}

	want := int64(m.blockFrames * m.target.Channels)
	for _, in := range m.inputs {
		for !in.eof && int64(len(in.fifo)) < want {
			if err := m.pull(ctx, in); err != nil {
				return media.Sample{}, err
			}
		}
	}

	ch := m.target.Channels
	frames := 0
	for _, in := range m.inputs {
		frames = max(frames, min(len(in.fifo)/ch, m.blockFrames))
	}
	if frames == 0 {
		return media.Sample{}, io.EOF
	}

	out := make([]float32, frames*ch)
	for _, in := range m.inputs {
		n := min(len(in.fifo), len(out))
		audio.Accumulate(out, in.fifo[:n], in.gain)
		in.fifo = in.fifo[n:]
	}
	if m.limit {
		audio.SoftLimit(out)
	}

	data, err := audio.Encode(out, m.target.Encoding)
	if err != nil {
		return media.Sample{}, fmt.Errorf("mixer: encode: %w", err)
	}

	s := media.Sample{
		PTS:      m.start + m.frameTime(m.emitted),
		Duration: m.frameTime(m.emitted+int64(frames)) - m.frameTime(m.emitted),
		Data:     data,
		Keyframe: true,
	}
	m.emitted += int64(frames)
	return s, nil
}

// prime reads the first block of every input to establish the mix start: the
// earliest first timestamp among all inputs.
func (m *Mixer) prime(ctx context.Context) error {
	m.started = true

	firsts := make([]media.Sample, len(m.inputs))
	found := false
	for i, in := range m.inputs {
		s, err := in.Reader.ReadSample(ctx)
		if errors.Is(err, io.EOF) {
			in.eof = true
			continue
		}
		if err != nil {
			return fmt.Errorf("mixer: read %s input: %w", in.Role, err)
		}
		firsts[i] = s
		if !found || s.PTS < m.start {
			m.start = s.PTS
		}
		found = true
	}
	if !found {
		return io.EOF
	}

	for i, in := range m.inputs {
		if in.eof {
			continue
		}
		if err := m.push(in, firsts[i]); err != nil {
			return err
		}
	}
	return nil
}

// pull reads one block from in and appends it to its fifo.
func (m *Mixer) pull(ctx context.Context, in *input) error {
	s, err := in.Reader.ReadSample(ctx)
	if errors.Is(err, io.EOF) {
		in.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("mixer: read %s input: %w", in.Role, err)
	}
	return m.push(in, s)
}

// push converts s to the target layout and appends it to in's fifo, inserting
// silence when s starts after the end of what was already queued.
func (m *Mixer) push(in *input, s media.Sample) error {
	if len(s.Data) == 0 {
		return nil
	}
	samples, err := audio.Decode(s.Data, in.Format.Encoding)
	if err != nil {
		return fmt.Errorf("mixer: decode %s input: %w", in.Role, err)
	}
	samples = in.conv.Convert(samples, in.Format)

	// A one-frame gap is container timestamp rounding, not missing audio.
	at := m.frameAt(s.PTS - m.start)
	if gap := at - in.pushed; gap > 1 {
		if in.pushed > 0 {
			m.log.Debug("mixer: padding gap in input", "role", in.Role, "frames", gap)
		}
		in.fifo = append(in.fifo, make([]float32, gap*int64(m.target.Channels))...)
		in.pushed += gap
	}

	in.fifo = append(in.fifo, samples...)
	in.pushed += int64(len(samples) / m.target.Channels)
	return nil
}

// frameTime converts a frame offset from the mix start to a duration.
func (m *Mixer) frameTime(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(m.target.SampleRate))
}

// frameAt converts a duration from the mix start to a frame offset, rounded
// down.
func (m *Mixer) frameAt(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d) * int64(m.target.SampleRate) / int64(time.Second)
}
