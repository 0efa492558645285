package postprocess_test

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/capa/internal/postprocess"
	"github.com/MrWong99/capa/pkg/audio"
	"github.com/MrWong99/capa/pkg/media"
	"github.com/MrWong99/capa/pkg/media/mkv"
)

const (
	rate        = 48000
	channels    = 2
	blockFrames = 1024
)

var pcmFormat = media.Format{SampleRate: rate, Channels: channels, Encoding: media.EncodingFloat32}

type fixtureTrack struct {
	spec    media.TrackSpec
	samples []media.Sample
}

// writeFixture writes tracks into a new Matroska file at path. assoc pairs
// are (video, timecode) indices into tracks.
func writeFixture(t *testing.T, path string, tracks []fixtureTrack, assoc ...[2]int) {
	t.Helper()
	w, err := mkv.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	writers := make([]media.TrackWriter, len(tracks))
	for i, tr := range tracks {
		if writers[i], err = w.AddTrack(tr.spec); err != nil {
			t.Fatalf("AddTrack %d: %v", i, err)
		}
	}
	for _, a := range assoc {
		if err := w.Associate(writers[a[0]], writers[a[1]]); err != nil {
			t.Fatalf("Associate: %v", err)
		}
	}
	if err := w.StartSession(0); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i, tr := range tracks {
		for _, s := range tr.samples {
			if err := writers[i].WriteSample(s); err != nil {
				t.Fatalf("WriteSample track %d: %v", i, err)
			}
		}
		writers[i].MarkFinished()
	}
	if err := w.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func videoFixture(pts ...time.Duration) fixtureTrack {
	tr := fixtureTrack{spec: media.TrackSpec{
		Kind:   media.KindVideo,
		Title:  "Screen",
		Format: media.Format{Codec: "V_UNCOMPRESSED", Width: 16, Height: 9},
	}}
	for i, p := range pts {
		tr.samples = append(tr.samples, media.Sample{PTS: p, Data: []byte{byte(i)}, Keyframe: true})
	}
	for i := range tr.samples {
		if i+1 < len(tr.samples) {
			tr.samples[i].Duration = tr.samples[i+1].PTS - tr.samples[i].PTS
		} else {
			tr.samples[i].Duration = 20 * time.Millisecond
		}
	}
	return tr
}

// sineFixture is about one second of a 440 Hz sine at amplitude amp.
func sineFixture(t *testing.T, title, lang, ext string, amp float64) fixtureTrack {
	t.Helper()
	tr := fixtureTrack{spec: media.TrackSpec{
		Kind:             media.KindAudio,
		Title:            title,
		Language:         lang,
		ExtendedLanguage: ext,
		Format:           pcmFormat,
	}}
	blocks := rate/blockFrames + 1
	for b := range blocks {
		samples := make([]float32, blockFrames*channels)
		for f := range blockFrames {
			n := b*blockFrames + f
			v := float32(amp * math.Sin(2*math.Pi*440*float64(n)/rate))
			for c := range channels {
				samples[f*channels+c] = v
			}
		}
		data, err := audio.Encode(samples, media.EncodingFloat32)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		start := time.Duration(b*blockFrames) * time.Second / rate
		end := time.Duration((b+1)*blockFrames) * time.Second / rate
		tr.samples = append(tr.samples, media.Sample{PTS: start, Duration: end - start, Data: data, Keyframe: true})
	}
	return tr
}

func timecodeFixture(d time.Duration) fixtureTrack {
	return fixtureTrack{
		spec:    media.TrackSpec{Kind: media.KindTimecode, Title: media.TitleTimecode},
		samples: []media.Sample{{PTS: 0, Duration: d, Data: []byte{0x01, 0x00, 0x00, 0x00}, Keyframe: true}},
	}
}

func newProcessor() *postprocess.Processor {
	return postprocess.New()
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return b
}

func assertUnchanged(t *testing.T, path string, before []byte) {
	t.Helper()
	if !bytes.Equal(readFile(t, path), before) {
		t.Errorf("%s changed", filepath.Base(path))
	}
	assertNoTempFiles(t, filepath.Dir(path))
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".capa-") {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}
}

func openTracks(t *testing.T, path string, kind media.Kind) []media.TrackInfo {
	t.Helper()
	f, err := mkv.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	return f.Tracks(kind)
}

func peakOf(t *testing.T, peaks []postprocess.TrackPeak, ext string) audio.Peak {
	t.Helper()
	for _, p := range peaks {
		if p.Track.ExtendedLanguage == ext {
			if !p.Measured {
				t.Fatalf("track %s not measured", ext)
			}
			return p.Peak
		}
	}
	t.Fatalf("no track tagged %s", ext)
	return audio.Peak{}
}
