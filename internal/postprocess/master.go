package postprocess

import (
	"context"
	"fmt"

	"github.com/MrWong99/capa/internal/remux"
	"github.com/MrWong99/capa/internal/tracksel"
	"github.com/MrWong99/capa/pkg/audio"
	"github.com/MrWong99/capa/pkg/audio/mixer"
	"github.com/MrWong99/capa/pkg/media"
)

// MasterOptions selects the sources of the master mix.
type MasterOptions struct {
	// IncludeMicrophone mixes the microphone track into the master.
	IncludeMicrophone bool

	// IncludeSystemAudio mixes the system audio track into the master.
	IncludeSystemAudio bool

	// Mix holds the per-role gains and the limiter switch.
	Mix audio.MixConfig
}

// AddMasterAudioTrack rewrites the recording at path with a synthesized
// "Master (Mixed)" track appended after its own tracks.
//
// Audio tracks are tagged with their capture role (by existing tag, or by
// position when untagged) and the role's gain is applied to each of them.
// Nothing is written when the recording already has a master track or when
// fewer than two PCM sources would contribute to the mix.
func (p *Processor) AddMasterAudioTrack(ctx context.Context, path string, opts MasterOptions) error {
	src, err := openSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	log := p.log.With("operation", "master", "path", path)

	audioTracks := src.Tracks(media.KindAudio)
	if m, ok := tracksel.FindMaster(audioTracks); ok {
		log.Info("recording already has a master track", "track", m.ID)
		return nil
	}

	roles := tracksel.AssignRoles(audioTracks)
	var contributors []mixer.Input
	for i, t := range audioTracks {
		r := roles[i]
		if (r == audio.RoleMicrophone && !opts.IncludeMicrophone) || (r == audio.RoleSystem && !opts.IncludeSystemAudio) || r == audio.RoleUnknown {
			continue
		}
		if !t.Format.IsPCM() {
			log.Warn("skipping non-PCM track in master mix", "track", t.ID, "codec", t.Format.Codec)
			continue
		}
		rd, err := src.OpenTrack(t.ID)
		if err != nil {
			return fmt.Errorf("postprocess: master: %w", err)
		}
		contributors = append(contributors, mixer.Input{Reader: rd, Format: t.Format, Role: r})
	}
	if len(contributors) < 2 {
		log.Info("not enough sources for a master mix", "sources", len(contributors))
		return nil
	}

	target := media.Format{
		SampleRate: contributors[0].Format.SampleRate,
		Channels:   contributors[0].Format.Channels,
		Encoding:   media.EncodingFloat32,
	}
	mix, err := mixer.New(contributors, opts.Mix, target, mixer.WithLogger(log))
	if err != nil {
		return fmt.Errorf("postprocess: master: %w", err)
	}

	err = p.rewrite(ctx, path, "master", func(plan *remux.Plan) error {
		if err := addVideoWithTimecode(plan, src, nil, false); err != nil {
			return err
		}
		for i, t := range audioTracks {
			if err := p.addRoleTrack(ctx, plan, src, t, roles[i], opts.Mix); err != nil {
				return err
			}
		}
		spec := media.TrackSpec{
			Kind:             media.KindAudio,
			Title:            media.TitleMaster,
			Language:         media.LanguageMaster,
			ExtendedLanguage: media.TagMaster,
			Format:           target,
		}
		if _, err := plan.Add(mix, spec, nonNil(p.meterStage(ctx, "master", audio.RoleUnknown, target))...); err != nil {
			return err
		}
		plan.Watch(src)
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("master track added", "sources", len(contributors), "limiter", opts.Mix.SafeMixLimiter)
	return nil
}

// addRoleTrack copies one audio track, tagged and with its role's gain.
func (p *Processor) addRoleTrack(ctx context.Context, plan *remux.Plan, src media.Source, t media.TrackInfo, role audio.Role, mix audio.MixConfig) error {
	spec := media.SpecFrom(t)
	title, lang, ext, ok := tracksel.Tag(role)
	if ok {
		spec.Title, spec.Language, spec.ExtendedLanguage = title, lang, ext
	}

	var gain remux.Transform
	if db := mix.GainDB(role); db != 0 {
		if t.Format.IsPCM() {
			g, err := audio.NewGainStage(db, t.Format)
			if err != nil {
				return err
			}
			gain = g
		} else {
			p.log.Warn("cannot apply gain to non-PCM track", "track", t.ID, "codec", t.Format.Codec)
		}
	}
	meter := p.meterStage(ctx, role.String(), role, t.Format)

	_, err := plan.AddFrom(src, t.ID, spec, nonNil(gain, meter)...)
	return err
}

// addVideoWithTimecode copies every video and timecode track of src and
// re-declares their associations. title, when non-nil, names the copied
// tracks. With shareFirst, videos without a timecode of their own are tied
// to the first timecode track.
func addVideoWithTimecode(plan *remux.Plan, src media.Source, title func(kind media.Kind, i, n int) string, shareFirst bool) error {
	videos := src.Tracks(media.KindVideo)
	timecodes := src.Tracks(media.KindTimecode)

	videoPipes := make([]int, len(videos))
	for i, t := range videos {
		spec := media.SpecFrom(t)
		if title != nil {
			spec.Title = title(media.KindVideo, i, len(videos))
		}
		idx, err := plan.AddFrom(src, t.ID, spec)
		if err != nil {
			return err
		}
		videoPipes[i] = idx
	}

	tcPipes := make(map[int]int, len(timecodes))
	firstTC := -1
	for i, t := range timecodes {
		spec := media.SpecFrom(t)
		if title != nil {
			spec.Title = title(media.KindTimecode, i, len(timecodes))
		}
		idx, err := plan.AddFrom(src, t.ID, spec)
		if err != nil {
			return err
		}
		tcPipes[t.ID] = idx
		if shareFirst && firstTC < 0 {
			firstTC = idx
		}
	}

	return associate(plan, videos, videoPipes, tcPipes, firstTC)
}

// associate declares the timecode track of every video pipe. A video keeps
// its own association when its timecode track was copied and otherwise
// gets fallback; fallback < 0 means none.
func associate(plan *remux.Plan, videos []media.TrackInfo, videoPipes []int, tcPipes map[int]int, fallback int) error {
	for i, v := range videos {
		tc, ok := tcPipes[v.Timecode]
		if !ok {
			tc = fallback
		}
		if tc < 0 {
			continue
		}
		if err := plan.Associate(videoPipes[i], tc); err != nil {
			return err
		}
	}
	return nil
}
