package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/capa/internal/remux"
	"github.com/MrWong99/capa/internal/retime"
	"github.com/MrWong99/capa/pkg/media"
)

// RewriteCFR retimes every video track of the recording at path onto a
// constant frame rate of fps, in place.
//
// Each slot of the new timeline shows the latest source frame at or before
// it. Timecode entries are snapped onto the grid of the video they belong to
// and the association is declared again on the rewritten tracks. Audio is
// copied unchanged. A recording without video frames is left untouched.
func (p *Processor) RewriteCFR(ctx context.Context, path string, fps int) error {
	if err := retime.ValidateFPS(fps); err != nil {
		return fmt.Errorf("postprocess: cfr: %w", err)
	}
	src, err := openSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	log := p.log.With("operation", "cfr", "path", path, "fps", fps)

	videos := src.Tracks(media.KindVideo)
	grids := make(map[int]retime.Grid, len(videos))
	for _, v := range videos {
		first, err := firstPTS(ctx, src, v.ID)
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			return fmt.Errorf("postprocess: cfr: probe video track %d: %w", v.ID, err)
		}
		grids[v.ID] = retime.Grid{Start: first, FPS: fps}
	}
	if len(grids) == 0 {
		log.Info("recording has no video frames")
		return nil
	}

	var retimers []*retime.Retimer
	err = p.rewrite(ctx, path, "cfr", func(plan *remux.Plan) error {
		videoPipes := make([]int, len(videos))
		var fallback *retime.Grid
		for i, v := range videos {
			var ts []remux.Transform
			if g, ok := grids[v.ID]; ok {
				r, err := retime.NewRetimer(fps)
				if err != nil {
					return err
				}
				retimers = append(retimers, r)
				ts = append(ts, r)
				if fallback == nil {
					fallback = &g
				}
			}
			idx, err := plan.AddFrom(src, v.ID, media.SpecFrom(v), ts...)
			if err != nil {
				return err
			}
			videoPipes[i] = idx
		}

		owner := make(map[int]int, len(videos)) // timecode ID -> video ID
		for _, v := range videos {
			if v.Timecode != 0 {
				if _, taken := owner[v.Timecode]; !taken {
					owner[v.Timecode] = v.ID
				}
			}
		}

		tcPipes := make(map[int]int)
		for _, t := range src.Tracks(media.KindTimecode) {
			g, ok := grids[owner[t.ID]]
			if !ok {
				g = *fallback
			}
			a, err := retime.NewTimecodeAligner(g)
			if err != nil {
				return err
			}
			idx, err := plan.AddFrom(src, t.ID, media.SpecFrom(t), a)
			if err != nil {
				return err
			}
			tcPipes[t.ID] = idx
		}
		if err := associate(plan, videos, videoPipes, tcPipes, -1); err != nil {
			return err
		}

		for _, t := range src.Tracks(media.KindAudio) {
			if _, err := plan.AddFrom(src, t.ID, media.SpecFrom(t)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range retimers {
		st := r.Stats()
		log.Info("video track retimed", "frames_in", st.In, "frames_out", st.Out, "dropped", st.Dropped, "repeated", st.Repeated)
	}
	return nil
}

// firstPTS returns the timestamp of the first sample of track id, or io.EOF
// when the track is empty.
func firstPTS(ctx context.Context, src media.Source, id int) (time.Duration, error) {
	r, err := src.OpenTrack(id)
	if err != nil {
		return 0, err
	}
	s, err := r.ReadSample(ctx)
	if err != nil {
		return 0, err
	}
	return s.PTS, nil
}
