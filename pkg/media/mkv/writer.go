package mkv

import (
	"bufio"
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/google/uuid"

	"github.com/MrWong99/capa/pkg/media"
)

// Compile-time interface assertions.
var (
	_ media.Sink        = (*Writer)(nil)
	_ media.TrackWriter = (*trackWriter)(nil)
)

// maxBlockDelta is the largest block timecode offset from its cluster.
const maxBlockDelta = 1<<15 - 1

// Writer is a Matroska file being written.
//
// The header, track list and tags are written by [Writer.StartSession].
// Samples are queued per track and flushed into clusters once every
// unfinished track has reached their timestamp, so clusters stay in
// timestamp order while memory holds only the spread between the fastest
// and the slowest track. [Writer.Finalize] flushes the rest and patches the
// segment size and duration in place.
type Writer struct {
	path string
	file *os.File
	buf  *bufio.Writer
	out  *countingWriter

	mu         sync.Mutex
	ready      *sync.Cond // signalled after a flush, a failure or close
	tracks     []*trackWriter
	assoc      map[*trackWriter]*trackWriter // video -> timecode
	started    bool
	anchor     time.Duration
	err        error
	done       bool // Finalize or Abort was called
	finalized  bool
	writingApp string
	maxQueued  int

	// Layout of the streamed document.
	segmentSize int64 // offset of the segment's 8-byte size field
	segmentData int64 // offset of the first segment child
	durationAt  int64 // offset of the Duration float in the segment info
	end         int64 // ticks
	cur         *cluster
}

// WriterOption configures a [Writer].
type WriterOption func(*Writer)

// WithWritingApp sets the WritingApp element of the segment info.
func WithWritingApp(name string) WriterOption {
	return func(w *Writer) {
		w.writingApp = name
	}
}

// WithMaxQueued sets how many samples a track may queue ahead of the
// slowest track before [media.TrackWriter.WaitReady] blocks. Values below
// one are ignored.
func WithMaxQueued(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.maxQueued = n
		}
	}
}

// Create creates or truncates the file at path and returns a sink writing
// Matroska into it.
func Create(path string, opts ...WriterOption) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("mkv: create: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := &Writer{
		path:       path,
		file:       f,
		buf:        buf,
		out:        &countingWriter{w: buf},
		assoc:      make(map[*trackWriter]*trackWriter),
		writingApp: muxingApp,
		maxQueued:  defaultMaxQueued,
	}
	w.ready = sync.NewCond(&w.mu)
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// defaultMaxQueued is the per-track queue limit without [WithMaxQueued].
const defaultMaxQueued = 256

// Path returns the path being written.
func (w *Writer) Path() string { return w.path }

// AddTrack implements [media.Sink].
func (w *Writer) AddTrack(spec media.TrackSpec) (media.TrackWriter, error) {
	entry, err := entryFor(spec)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil, media.ErrSessionStarted
	}
	if w.done {
		return nil, errWriterClosed
	}

	n := uint64(len(w.tracks) + 1)
	entry.TrackNumber = n
	entry.TrackUID = n
	t := &trackWriter{w: w, entry: entry, spec: spec}
	w.tracks = append(w.tracks, t)
	return t, nil
}

var errWriterClosed = errors.New("mkv: writer closed")

// entryFor builds the track entry for spec, rejecting specs Matroska cannot
// hold.
func entryFor(spec media.TrackSpec) (trackEntry, error) {
	e := trackEntry{
		Name:         spec.Title,
		Language:     spec.Language,
		CodecID:      spec.Format.Codec,
		CodecPrivate: spec.Format.CodecPrivate,
	}
	switch spec.Kind {
	case media.KindVideo:
		if e.CodecID == "" {
			return e, fmt.Errorf("mkv: video track without codec: %w", media.ErrUnsupportedTrack)
		}
		e.TrackType = trackTypeVideo
		e.Video = &video{
			PixelWidth:  uint64(spec.Format.Width),
			PixelHeight: uint64(spec.Format.Height),
		}
	case media.KindAudio:
		f := spec.Format
		if f.SampleRate <= 0 || f.Channels <= 0 {
			return e, fmt.Errorf("mkv: audio track needs sample rate and channels: %w", media.ErrUnsupportedTrack)
		}
		if e.CodecID == "" {
			switch f.Encoding {
			case media.EncodingFloat32:
				e.CodecID = codecPCMFloat
			case media.EncodingInt16:
				e.CodecID = codecPCMInt
			default:
				return e, fmt.Errorf("mkv: audio track without codec: %w", media.ErrUnsupportedTrack)
			}
		}
		e.TrackType = trackTypeAudio
		e.Audio = &audio{
			SamplingFrequency: float64(f.SampleRate),
			Channels:          uint64(f.Channels),
			BitDepth:          uint64(f.Encoding.BytesPerSample() * 8),
		}
	case media.KindTimecode:
		e.TrackType = trackTypeMetadata
		e.CodecID = codecTimecode
	default:
		return e, fmt.Errorf("mkv: %s track: %w", spec.Kind, media.ErrUnsupportedTrack)
	}
	return e, nil
}

// Associate implements [media.Sink].
func (w *Writer) Associate(video, timecode media.TrackWriter) error {
	v, ok1 := video.(*trackWriter)
	tc, ok2 := timecode.(*trackWriter)
	if !ok1 || !ok2 || v.w != w || tc.w != w {
		return errors.New("mkv: associate: track does not belong to this writer")
	}
	if v.entry.TrackType != trackTypeVideo || tc.entry.CodecID != codecTimecode {
		return fmt.Errorf("mkv: associate: need a video and a timecode track: %w", media.ErrUnsupportedTrack)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return media.ErrSessionStarted
	}
	w.assoc[v] = tc
	return nil
}

// StartSession implements [media.Sink]. The file header, track list and
// tags are written here.
func (w *Writer) StartSession(anchor time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return media.ErrSessionStarted
	}
	if w.done {
		return errWriterClosed
	}
	w.started = true
	w.anchor = anchor
	if err := w.writeHead(); err != nil {
		w.failLocked(err)
		return err
	}
	return nil
}

// writeHead writes everything ahead of the first cluster and records where
// the segment size and duration live. Caller holds w.mu.
func (w *Writer) writeHead() error {
	head := headerElement{Header: ebmlHeader{
		EBMLVersion:            1,
		EBMLReadVersion:        1,
		EBMLMaxIDLength:        4,
		EBMLMaxSizeLength:      8,
		EBMLDocType:            docType,
		EBMLDocTypeVersion:     docTypeVersion,
		EBMLDocTypeReadVersion: 2,
	}}
	if err := ebml.Marshal(&head, w.out); err != nil {
		return w.writeErr(err)
	}
	if err := ebml.Marshal(&segmentStart{}, w.out); err != nil {
		return w.writeErr(err)
	}
	w.segmentSize = w.out.n - 8
	w.segmentData = w.out.n

	uid := uuid.New()
	in := infoElement{Info: info{
		TimecodeScale: timecodeScale,
		SegmentUID:    uid[:],
		MuxingApp:     muxingApp,
		WritingApp:    w.writingApp,
	}}
	if err := ebml.Marshal(&in, w.out); err != nil {
		return w.writeErr(err)
	}
	// Duration is the last child of Info, encoded as an 8-byte float.
	w.durationAt = w.out.n - 8

	var tr tracksElement
	var tg []tag
	for _, t := range w.tracks {
		tr.Tracks.TrackEntry = append(tr.Tracks.TrackEntry, t.entry)

		var st []simpleTag
		if t.spec.ExtendedLanguage != "" {
			st = append(st, simpleTag{TagName: tagLanguageIETF, TagString: t.spec.ExtendedLanguage})
		}
		if tc, ok := w.assoc[t]; ok {
			st = append(st, simpleTag{TagName: tagTimecodeTrack, TagString: strconv.FormatUint(tc.entry.TrackNumber, 10)})
		}
		if len(st) > 0 {
			tg = append(tg, tag{
				Targets:   targets{TargetTypeValue: targetTypeTrack, TagTrackUID: []uint64{t.entry.TrackUID}},
				SimpleTag: st,
			})
		}
	}
	if err := ebml.Marshal(&tr, w.out); err != nil {
		return w.writeErr(err)
	}
	if len(tg) > 0 {
		if err := ebml.Marshal(&tagsElement{Tags: tags{Tag: tg}}, w.out); err != nil {
			return w.writeErr(err)
		}
	}
	return nil
}

func (w *Writer) writeErr(err error) error {
	return fmt.Errorf("mkv: write %s: %w", w.path, err)
}

// Err implements [media.Sink].
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// failLocked latches err as the writer's failure and wakes blocked tracks.
// Caller holds w.mu.
func (w *Writer) failLocked(err error) {
	if w.err == nil {
		w.err = err
	}
	w.ready.Broadcast()
}

// Abort implements [media.Sink]. The partial file is removed. Aborting a
// finalized writer does nothing.
func (w *Writer) Abort() error {
	w.mu.Lock()
	if w.finalized {
		w.mu.Unlock()
		return nil
	}
	w.done = true
	w.ready.Broadcast()
	w.mu.Unlock()

	closeErr := w.file.Close()
	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("mkv: abort: %w", err)
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return fmt.Errorf("mkv: abort: %w", closeErr)
	}
	return nil
}

// Finalize implements [media.Sink]. Every track must have been marked
// finished.
func (w *Writer) Finalize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return errWriterClosed
	}
	if !w.started {
		return media.ErrSessionNotStarted
	}
	if w.err != nil {
		return w.err
	}
	for _, t := range w.tracks {
		if !t.finished {
			return fmt.Errorf("mkv: finalize: track %d not finished", t.entry.TrackNumber)
		}
	}
	w.done = true
	w.ready.Broadcast()

	if err := ctx.Err(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.close(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("mkv: close %s: %w", w.path, err)
	}
	w.finalized = true
	return nil
}

// close writes the queued samples and patches the header fields that are
// only known at the end. Caller holds w.mu.
func (w *Writer) close() error {
	if err := w.flushLocked(true); err != nil {
		return err
	}
	if err := w.writeCluster(); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return w.writeErr(err)
	}

	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(w.out.n-w.segmentData))
	size[0] = 0x01
	if _, err := w.file.WriteAt(size[:], w.segmentSize); err != nil {
		return w.writeErr(err)
	}
	var dur [8]byte
	binary.BigEndian.PutUint64(dur[:], math.Float64bits(float64(w.end)))
	if _, err := w.file.WriteAt(dur[:], w.durationAt); err != nil {
		return w.writeErr(err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("mkv: sync %s: %w", w.path, err)
	}
	return nil
}

// pendingBlock is a queued sample tagged with its track and tick offset.
type pendingBlock struct {
	track    *trackWriter
	ticks    int64
	duration uint64
	keyframe bool
	data     []byte
	ref      int64
}

// flushLocked moves every queued block at or below the watermark into
// clusters. The watermark is the lowest last timestamp among unfinished
// tracks; a track that has not written yet holds everything back. With
// all set, every queued block is flushed. Caller holds w.mu.
func (w *Writer) flushLocked(all bool) error {
	mark := int64(math.MaxInt64)
	if !all {
		for _, t := range w.tracks {
			if t.finished {
				continue
			}
			if !t.wrote {
				return nil
			}
			mark = min(mark, t.last)
		}
	}

	var ready []pendingBlock
	for _, t := range w.tracks {
		keep := t.queue[:0]
		for _, b := range t.queue {
			if b.ticks <= mark {
				ready = append(ready, b)
			} else {
				keep = append(keep, b)
			}
		}
		clear(t.queue[len(keep):])
		t.queue = keep
	}
	if len(ready) == 0 {
		return nil
	}
	slices.SortStableFunc(ready, func(a, b pendingBlock) int {
		return cmp.Compare(a.ticks, b.ticks)
	})

	for _, b := range ready {
		if w.cur != nil && (b.ticks < int64(w.cur.Timecode) || b.ticks-int64(w.cur.Timecode) > maxBlockDelta) {
			if err := w.writeCluster(); err != nil {
				return err
			}
		}
		if w.cur == nil {
			w.cur = &cluster{Timecode: uint64(b.ticks)}
		}
		g := blockGroup{
			Block: ebml.Block{
				TrackNumber: b.track.entry.TrackNumber,
				Timecode:    int16(b.ticks - int64(w.cur.Timecode)),
				Keyframe:    b.keyframe,
				Data:        [][]byte{b.data},
			},
			BlockDuration: b.duration,
		}
		if !b.keyframe {
			g.ReferenceBlock = []int64{b.ref}
		}
		w.cur.BlockGroup = append(w.cur.BlockGroup, g)
	}
	return nil
}

// writeCluster writes the open cluster, if any. Caller holds w.mu.
func (w *Writer) writeCluster() error {
	if w.cur == nil {
		return nil
	}
	c := clusterElement{Cluster: *w.cur}
	w.cur = nil
	if err := ebml.Marshal(&c, w.out); err != nil {
		return w.writeErr(err)
	}
	return nil
}

// toTicks converts d to Matroska ticks, rounding to the nearest tick.
func toTicks(d time.Duration) int64 {
	return (int64(d) + timecodeScale/2) / timecodeScale
}

// trackWriter is one destination track of a [Writer]. Its fields are
// guarded by the writer's mutex.
type trackWriter struct {
	w     *Writer
	entry trackEntry
	spec  media.TrackSpec

	queue    []pendingBlock
	last     int64 // highest tick written
	prev     int64 // tick of the previous sample, for ReferenceBlock
	wrote    bool
	finished bool
}

// WaitReady implements [media.TrackWriter]. It blocks while the track has
// more samples queued than the writer allows, which happens when it runs
// ahead of the slowest unfinished track.
func (t *trackWriter) WaitReady(ctx context.Context) error {
	w := t.w
	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.ready.Broadcast()
	})
	defer stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.err != nil {
			return w.err
		}
		if w.done {
			return errWriterClosed
		}
		if t.finished || len(t.queue) < w.maxQueued {
			return nil
		}
		w.ready.Wait()
	}
}

// WriteSample implements [media.TrackWriter]. Timestamps are stored relative
// to the session anchor.
func (t *trackWriter) WriteSample(s media.Sample) error {
	w := t.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return media.ErrSessionNotStarted
	}
	if t.finished {
		return media.ErrFinished
	}
	if w.err != nil {
		return w.err
	}
	if w.done {
		return errWriterClosed
	}
	pts := s.PTS - w.anchor
	if pts < 0 {
		err := fmt.Errorf("mkv: track %d: sample at %v precedes session anchor %v", t.entry.TrackNumber, s.PTS, w.anchor)
		w.failLocked(err)
		return err
	}

	b := pendingBlock{
		track:    t,
		ticks:    toTicks(pts),
		duration: uint64(max(toTicks(s.Duration), 0)),
		keyframe: s.Keyframe,
		data:     s.Data,
	}
	if !b.keyframe {
		b.ref = -1
		if t.wrote && b.ticks > t.prev {
			b.ref = t.prev - b.ticks
		}
	}
	t.prev = b.ticks
	t.last = max(t.last, b.ticks)
	t.wrote = true
	w.end = max(w.end, b.ticks+int64(b.duration))
	t.queue = append(t.queue, b)

	if err := w.flushLocked(false); err != nil {
		w.failLocked(err)
		return err
	}
	w.ready.Broadcast()
	return nil
}

// MarkFinished implements [media.TrackWriter]. A finished track no longer
// holds back the other tracks' samples.
func (t *trackWriter) MarkFinished() {
	w := t.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	if w.started && !w.done && w.err == nil {
		if err := w.flushLocked(false); err != nil {
			w.failLocked(err)
		}
	}
	w.ready.Broadcast()
}

// countingWriter counts the bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
