// Package media defines the contract between capa's post-processing core and a
// container backend.
//
// The core never touches codecs or file formats directly. It drives a backend
// through two narrow pull/push interfaces:
//
//   - [Source]: an opened container for reading; exposes its tracks and hands
//     out one [TrackReader] per track.
//   - [Sink]: a container being written; accepts destination tracks, a session
//     anchor, and one [TrackWriter] per track.
//
// Implementations live in sub-packages (media/mkv for Matroska files,
// media/mock for tests).
package media

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnsupportedTrack is returned by [Sink.AddTrack] when the destination
	// cannot hold a track of the requested kind or format.
	ErrUnsupportedTrack = errors.New("media: unsupported track")

	// ErrFinished is returned when writing to a track that was already marked
	// finished.
	ErrFinished = errors.New("media: track already finished")

	// ErrSessionStarted is returned when the track layout is changed after the
	// write session has begun.
	ErrSessionStarted = errors.New("media: session already started")

	// ErrSessionNotStarted is returned when a sample is written before
	// [Sink.StartSession].
	ErrSessionNotStarted = errors.New("media: session not started")

	// ErrUnknownTrack is returned by [Source.OpenTrack] for an ID the container
	// does not have.
	ErrUnknownTrack = errors.New("media: unknown track")
)

// Kind is the media type of a track.
type Kind int

const (
	KindVideo Kind = iota + 1
	KindAudio
	KindTimecode
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindTimecode:
		return "timecode"
	default:
		return "unknown"
	}
}

// Encoding is the sample representation of interleaved little-endian PCM.
// Compressed audio uses [EncodingNone].
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingFloat32
	EncodingInt16
)

// BytesPerSample returns the size of one sample of one channel, or 0 for
// [EncodingNone].
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingFloat32:
		return 4
	case EncodingInt16:
		return 2
	default:
		return 0
	}
}

// String returns a short name for the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingFloat32:
		return "f32le"
	case EncodingInt16:
		return "s16le"
	default:
		return "none"
	}
}

// Format is a track's format descriptor. Destination tracks receive the
// source's Format as a hint so the output can be written without re-encoding.
type Format struct {
	// Codec is the container-level codec identifier (e.g. "A_PCM/FLOAT/IEEE").
	Codec string

	// CodecPrivate carries codec initialisation data, if any.
	CodecPrivate []byte

	// SampleRate and Channels describe audio tracks.
	SampleRate int
	Channels   int

	// Encoding is set for uncompressed PCM audio.
	Encoding Encoding

	// Width and Height describe video tracks.
	Width  int
	Height int
}

// IsPCM reports whether samples of this format carry raw interleaved PCM that
// the audio stages can decode.
func (f Format) IsPCM() bool {
	return f.Encoding != EncodingNone && f.SampleRate > 0 && f.Channels > 0
}

// FrameBytes returns the size in bytes of one interleaved PCM frame (one
// sample for every channel), or 0 for non-PCM formats.
func (f Format) FrameBytes() int {
	return f.Encoding.BytesPerSample() * f.Channels
}

// Sample is one decodable unit: a video frame, a block of PCM audio, or a
// timecode record.
type Sample struct {
	// PTS is the presentation timestamp on the container's timeline.
	PTS time.Duration

	// Duration is how long the sample is presented. Zero means unknown.
	Duration time.Duration

	// Data is the sample payload. The core treats it as opaque except for
	// PCM audio.
	Data []byte

	// Keyframe marks samples that can be decoded independently.
	Keyframe bool
}

// End returns PTS + Duration.
func (s Sample) End() time.Duration {
	return s.PTS + s.Duration
}

// TrackInfo describes one track of a [Source].
type TrackInfo struct {
	// ID identifies the track within its container.
	ID int

	Kind  Kind
	Title string

	// Language is the short (ISO 639-2) language code.
	Language string

	// ExtendedLanguage is the BCP 47 language tag.
	ExtendedLanguage string

	Format Format

	// Timecode is the ID of the timecode track associated with this video
	// track, or 0 when there is none.
	Timecode int
}

// TrackSpec describes a destination track to create in a [Sink].
type TrackSpec struct {
	Kind             Kind
	Title            string
	Language         string
	ExtendedLanguage string

	// Format is the format hint carried forward from the source track.
	Format Format
}

// SpecFrom returns a TrackSpec that copies the kind, metadata and format hint
// of a source track.
func SpecFrom(t TrackInfo) TrackSpec {
	return TrackSpec{
		Kind:             t.Kind,
		Title:            t.Title,
		Language:         t.Language,
		ExtendedLanguage: t.ExtendedLanguage,
		Format:           t.Format,
	}
}

// Source is a container opened for reading.
type Source interface {
	// Tracks returns the tracks of the given kind in container order.
	Tracks(kind Kind) []TrackInfo

	// OpenTrack returns a new independent reader positioned at the first
	// sample of track id.
	OpenTrack(id int) (TrackReader, error)

	// Err returns a non-nil error once the source has entered a failed state.
	Err() error

	// Close releases the container.
	Close() error
}

// TrackReader pulls samples of one track in decode order.
type TrackReader interface {
	// ReadSample returns the next sample, or io.EOF once the track is
	// exhausted.
	ReadSample(ctx context.Context) (Sample, error)
}

// Sink is a container opened for sequential writing.
type Sink interface {
	// AddTrack creates a destination track. It returns an error wrapping
	// [ErrUnsupportedTrack] when the container cannot hold spec.
	AddTrack(spec TrackSpec) (TrackWriter, error)

	// Associate declares that timecode carries the timecode for video. Both
	// writers must belong to this sink.
	Associate(video, timecode TrackWriter) error

	// StartSession opens the write session. Written sample timestamps are
	// expressed relative to anchor.
	StartSession(anchor time.Duration) error

	// Finalize flushes and closes the container. It must only be called once
	// every track has been marked finished.
	Finalize(ctx context.Context) error

	// Abort discards everything written so far.
	Abort() error

	// Err returns a non-nil error once the sink has entered a failed state.
	Err() error
}

// TrackWriter pushes samples into one destination track.
type TrackWriter interface {
	// WaitReady blocks until the track can accept more data or ctx is done.
	WaitReady(ctx context.Context) error

	// WriteSample appends s. It fails with [ErrFinished] after MarkFinished.
	WriteSample(s Sample) error

	// MarkFinished declares that no more samples will be written.
	MarkFinished()
}
