package mkv

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/at-wat/ebml-go"

	"github.com/MrWong99/capa/pkg/media"
)

// Compile-time interface assertion.
var _ media.Source = (*File)(nil)

// File is a Matroska file opened for reading. Opening indexes the clusters;
// track readers decode them on demand.
type File struct {
	path     string
	r        io.ReaderAt
	closer   io.Closer
	scale    time.Duration
	infos    []media.TrackInfo
	clusters []span

	mu     sync.Mutex
	closed bool
	err    error
}

// span is the byte range of one element, header included.
type span struct {
	off, size int64
}

var errFileClosed = errors.New("mkv: file closed")

// Open parses the header of the Matroska file at path. The file stays open
// until [File.Close].
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mkv: open: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mkv: open: %w", err)
	}
	mf, err := decode(f, st.Size(), path)
	if err != nil {
		f.Close()
		return nil, err
	}
	mf.closer = f
	return mf, nil
}

// Read parses a Matroska document of the given size from r.
func Read(r io.ReaderAt, size int64) (*File, error) {
	return decode(r, size, "")
}

func decode(r io.ReaderAt, size int64, path string) (*File, error) {
	f := &File{path: path, r: r, scale: time.Millisecond}

	seg := span{off: -1}
	for off := int64(0); off < size && seg.off < 0; {
		id, hdr, n, err := readElementHeader(r, off)
		if err != nil {
			return nil, fmt.Errorf("mkv: parse %s: %w", path, err)
		}
		switch id {
		case idEBML:
			if n < 0 {
				return nil, fmt.Errorf("mkv: parse %s: EBML header without size", path)
			}
			var h headerElement
			if err := ebml.Unmarshal(io.NewSectionReader(r, off, hdr+n), &h); err != nil {
				return nil, fmt.Errorf("mkv: parse %s: %w", path, err)
			}
			if dt := h.Header.EBMLDocType; dt != "" && dt != docType && dt != "webm" {
				return nil, fmt.Errorf("mkv: %s: unsupported doc type %q", path, dt)
			}
		case idSegment:
			seg = span{off: off + hdr, size: size - off - hdr}
			if n >= 0 && n < seg.size {
				seg.size = n
			}
			continue
		}
		if n < 0 {
			return nil, fmt.Errorf("mkv: parse %s: element %#x without size", path, id)
		}
		off += hdr + n
	}
	if seg.off < 0 {
		return nil, fmt.Errorf("mkv: parse %s: no segment", path)
	}

	var (
		in  info
		trs []trackEntry
		tg  []tag
	)
	end := seg.off + seg.size
	for off := seg.off; off < end; {
		id, hdr, n, err := readElementHeader(r, off)
		if err != nil {
			return nil, fmt.Errorf("mkv: parse %s: %w", path, err)
		}
		if n < 0 || off+hdr+n > end {
			return nil, fmt.Errorf("mkv: parse %s: element %#x at %d is truncated or unsized", path, id, off)
		}
		el := io.NewSectionReader(r, off, hdr+n)
		switch id {
		case idInfo:
			var e infoElement
			if err := ebml.Unmarshal(el, &e); err != nil {
				return nil, fmt.Errorf("mkv: parse %s: info: %w", path, err)
			}
			in = e.Info
		case idTracks:
			var e tracksElement
			if err := ebml.Unmarshal(el, &e); err != nil {
				return nil, fmt.Errorf("mkv: parse %s: tracks: %w", path, err)
			}
			trs = append(trs, e.Tracks.TrackEntry...)
		case idTags:
			var e tagsElement
			if err := ebml.Unmarshal(el, &e); err != nil {
				return nil, fmt.Errorf("mkv: parse %s: tags: %w", path, err)
			}
			tg = append(tg, e.Tags.Tag...)
		case idCluster:
			f.clusters = append(f.clusters, span{off: off, size: hdr + n})
		}
		off += hdr + n
	}

	if in.TimecodeScale != 0 {
		f.scale = time.Duration(in.TimecodeScale)
	}
	byUID := make(map[uint64]int)
	for _, e := range trs {
		ti, ok := trackInfo(e)
		if !ok {
			continue
		}
		byUID[e.TrackUID] = len(f.infos)
		f.infos = append(f.infos, ti)
	}
	for _, t := range tg {
		for _, uid := range t.Targets.TagTrackUID {
			if i, ok := byUID[uid]; ok {
				applyTags(&f.infos[i], t.SimpleTag)
			}
		}
	}
	return f, nil
}

// readElementHeader reads the ID and data size of the element at off. hdr
// is the length of both; size is -1 when the element has an unknown size.
func readElementHeader(r io.ReaderAt, off int64) (id uint64, hdr, size int64, err error) {
	var b [12]byte
	n, err := r.ReadAt(b[:], off)
	if n == 0 && err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, 0, 0, err
	}
	buf := b[:n]

	idLen, err := vintLen(buf, 4)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("element id at %d: %w", off, err)
	}
	for _, c := range buf[:idLen] {
		id = id<<8 | uint64(c)
	}
	buf = buf[idLen:]

	sizeLen, err := vintLen(buf, 8)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("element size at %d: %w", off, err)
	}
	v := uint64(buf[0]) & (0xFF >> sizeLen)
	for _, c := range buf[1:sizeLen] {
		v = v<<8 | uint64(c)
	}
	hdr = int64(idLen + sizeLen)
	if v == 1<<(7*sizeLen)-1 {
		return id, hdr, -1, nil
	}
	return id, hdr, int64(v), nil
}

// vintLen returns the length of the variable-size integer at the start of b.
func vintLen(b []byte, limit int) (int, error) {
	if len(b) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n := bits.LeadingZeros8(b[0]) + 1
	if n > limit {
		return 0, fmt.Errorf("invalid length marker %#x", b[0])
	}
	if len(b) < n {
		return 0, io.ErrUnexpectedEOF
	}
	return n, nil
}

// cluster decodes the i-th cluster.
func (f *File) cluster(i int) (cluster, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return cluster{}, errFileClosed
	}

	s := f.clusters[i]
	var c clusterElement
	if err := ebml.Unmarshal(bufio.NewReader(io.NewSectionReader(f.r, s.off, s.size)), &c); err != nil {
		err = fmt.Errorf("mkv: %s: cluster at %d: %w", f.path, s.off, err)
		f.mu.Lock()
		if f.err == nil {
			f.err = err
		}
		f.mu.Unlock()
		return cluster{}, err
	}
	return c.Cluster, nil
}

func trackInfo(e trackEntry) (media.TrackInfo, bool) {
	ti := media.TrackInfo{
		ID:       int(e.TrackNumber),
		Title:    e.Name,
		Language: e.Language,
		Format: media.Format{
			Codec:        e.CodecID,
			CodecPrivate: e.CodecPrivate,
		},
	}
	switch {
	case e.TrackType == trackTypeVideo:
		ti.Kind = media.KindVideo
		if e.Video != nil {
			ti.Format.Width = int(e.Video.PixelWidth)
			ti.Format.Height = int(e.Video.PixelHeight)
		}
	case e.TrackType == trackTypeAudio:
		ti.Kind = media.KindAudio
		if e.Audio != nil {
			ti.Format.SampleRate = int(e.Audio.SamplingFrequency)
			ti.Format.Channels = int(e.Audio.Channels)
			ti.Format.Encoding = pcmEncoding(e.CodecID, e.Audio.BitDepth)
		}
	case e.TrackType == trackTypeMetadata && e.CodecID == codecTimecode:
		ti.Kind = media.KindTimecode
	default:
		return media.TrackInfo{}, false
	}
	return ti, true
}

func applyTags(ti *media.TrackInfo, st []simpleTag) {
	for _, s := range st {
		switch s.TagName {
		case tagLanguageIETF:
			ti.ExtendedLanguage = s.TagString
		case tagTimecodeTrack:
			if n, err := strconv.Atoi(s.TagString); err == nil {
				ti.Timecode = n
			}
		}
	}
}

// pcmEncoding maps a Matroska PCM codec to its sample encoding. Compressed
// codecs and unsupported bit depths map to [media.EncodingNone].
func pcmEncoding(codec string, bitDepth uint64) media.Encoding {
	switch {
	case codec == codecPCMFloat && (bitDepth == 0 || bitDepth == 32):
		return media.EncodingFloat32
	case codec == codecPCMInt && (bitDepth == 0 || bitDepth == 16):
		return media.EncodingInt16
	default:
		return media.EncodingNone
	}
}

// Path returns the path the file was opened from.
func (f *File) Path() string { return f.path }

// Tracks implements [media.Source].
func (f *File) Tracks(kind media.Kind) []media.TrackInfo {
	var out []media.TrackInfo
	for _, t := range f.infos {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// OpenTrack implements [media.Source].
func (f *File) OpenTrack(id int) (media.TrackReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("mkv: open track %d: %w", id, errFileClosed)
	}
	for _, t := range f.infos {
		if t.ID == id {
			return &trackReader{f: f, id: uint64(id)}, nil
		}
	}
	return nil, fmt.Errorf("mkv: track %d: %w", id, media.ErrUnknownTrack)
}

// Err implements [media.Source]. It reports the first cluster that failed
// to decode.
func (f *File) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close implements [media.Source].
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// trackReader yields one track's samples cluster by cluster. It keeps one
// sample of lookahead to derive durations that were not stored.
type trackReader struct {
	f     *File
	id    uint64
	next  int
	queue []media.Sample
}

func (r *trackReader) ReadSample(ctx context.Context) (media.Sample, error) {
	if err := ctx.Err(); err != nil {
		return media.Sample{}, err
	}
	for len(r.queue) < 2 && r.next < len(r.f.clusters) {
		if err := r.load(); err != nil {
			return media.Sample{}, err
		}
	}
	if len(r.queue) == 0 {
		return media.Sample{}, io.EOF
	}
	s := r.queue[0]
	r.queue[0] = media.Sample{}
	r.queue = r.queue[1:]
	if s.Duration == 0 && len(r.queue) > 0 && r.queue[0].PTS > s.PTS {
		s.Duration = r.queue[0].PTS - s.PTS
	}
	return s, nil
}

// load appends this track's samples from the next cluster.
func (r *trackReader) load() error {
	c, err := r.f.cluster(r.next)
	if err != nil {
		return err
	}
	r.next++

	base := int64(c.Timecode)
	var got []media.Sample
	for _, b := range c.SimpleBlock {
		if b.TrackNumber == r.id {
			got = append(got, r.sample(base, b, 0, b.Keyframe))
		}
	}
	for _, g := range c.BlockGroup {
		if g.Block.TrackNumber == r.id {
			got = append(got, r.sample(base, g.Block, g.BlockDuration, len(g.ReferenceBlock) == 0))
		}
	}
	slices.SortStableFunc(got, func(a, b media.Sample) int {
		return cmp.Compare(a.PTS, b.PTS)
	})
	r.queue = append(r.queue, got...)
	return nil
}

func (r *trackReader) sample(base int64, b ebml.Block, duration uint64, keyframe bool) media.Sample {
	var data []byte
	for _, d := range b.Data {
		data = append(data, d...)
	}
	return media.Sample{
		PTS:      time.Duration(base+int64(b.Timecode)) * r.f.scale,
		Duration: time.Duration(duration) * r.f.scale,
		Data:     data,
		Keyframe: keyframe,
	}
}
