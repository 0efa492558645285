package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/capa/internal/observe"
	"github.com/MrWong99/capa/internal/tracksel"
	"github.com/MrWong99/capa/pkg/audio"
	"github.com/MrWong99/capa/pkg/media"
)

// TrackPeak is the peak level of one audio track over a whole recording.
type TrackPeak struct {
	Track media.TrackInfo

	// Role is the capture role the track is tagged with.
	Role audio.Role

	// Master is set for the master mix track.
	Master bool

	// Peak is the loudest block. Only valid when Measured is set.
	Peak audio.Peak

	// Blocks is the number of PCM blocks measured.
	Blocks int

	// Measured is false for tracks without decodable PCM.
	Measured bool
}

// MeasurePeaks reads every audio track of the recording at path and returns
// its peak level, in track order. Tracks are measured concurrently.
func (p *Processor) MeasurePeaks(ctx context.Context, path string) (_ []TrackPeak, err error) {
	ctx, span := observe.StartOperation(ctx, "peaks", path)
	defer func() { observe.EndSpan(span, err) }()

	src, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	tracks := src.Tracks(media.KindAudio)
	out := make([]TrackPeak, len(tracks))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, t := range tracks {
		out[i] = TrackPeak{Track: t, Role: tracksel.RoleOf(t), Master: tracksel.IsMaster(t)}
		if !t.Format.IsPCM() {
			continue
		}
		eg.Go(func() error {
			return measureTrack(egCtx, src, &out[i])
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("postprocess: peaks %s: %w", path, err)
	}

	for _, tp := range out {
		if !tp.Measured {
			continue
		}
		role := tp.Role.String()
		if tp.Master {
			role = "master"
		}
		p.metrics.RecordPeak(ctx, role, tp.Peak.DB, tp.Peak.Clipped)
	}
	return out, nil
}

func measureTrack(ctx context.Context, src media.Source, tp *TrackPeak) error {
	r, err := src.OpenTrack(tp.Track.ID)
	if err != nil {
		return err
	}
	enc := tp.Track.Format.Encoding
	for {
		s, err := r.ReadSample(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("track %d: %w", tp.Track.ID, err)
		}
		pk, err := audio.MeasurePeak(s.Data, enc)
		if errors.Is(err, audio.ErrNoPCM) {
			continue
		}
		if err != nil {
			return fmt.Errorf("track %d: %w", tp.Track.ID, err)
		}
		if !tp.Measured || pk.DB > tp.Peak.DB {
			tp.Peak = pk
		}
		tp.Peak.Clipped = tp.Peak.Clipped || pk.Clipped
		tp.Measured = true
		tp.Blocks++
	}
}
