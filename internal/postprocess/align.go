package postprocess

import (
	"context"
	"fmt"

	"github.com/MrWong99/capa/internal/remux"
	"github.com/MrWong99/capa/internal/tracksel"
	"github.com/MrWong99/capa/pkg/media"
)

// AddMasterAlignmentTrack appends the master mix of the screen recording to
// the camera recording so editors can line both clips up on a shared mix.
//
// The camera keeps its video, timecode and audio tracks, in that order, with
// the master appended last. A master track already present in the camera
// file is replaced. When the screen recording has no master track the camera
// file is left byte for byte unchanged.
func (p *Processor) AddMasterAlignmentTrack(ctx context.Context, cameraPath, screenPath string) error {
	screen, err := openSource(screenPath)
	if err != nil {
		return err
	}
	defer screen.Close()

	log := p.log.With("operation", "align", "camera", cameraPath, "screen", screenPath)

	master, ok := tracksel.FindMaster(screen.Tracks(media.KindAudio))
	if !ok {
		log.Info("screen recording has no master track")
		return nil
	}

	camera, err := openSource(cameraPath)
	if err != nil {
		return err
	}
	defer camera.Close()

	err = p.rewrite(ctx, cameraPath, "align", func(plan *remux.Plan) error {
		if err := addVideoWithTimecode(plan, camera, cameraTitle, true); err != nil {
			return err
		}

		var own []media.TrackInfo
		for _, t := range camera.Tracks(media.KindAudio) {
			if !tracksel.IsMaster(t) {
				own = append(own, t)
			}
		}
		for i, t := range own {
			spec := media.SpecFrom(t)
			spec.Title = cameraTitle(media.KindAudio, i, len(own))
			if _, err := plan.AddFrom(camera, t.ID, spec); err != nil {
				return err
			}
		}

		spec := media.SpecFrom(master)
		spec.Title = media.TitleMaster
		spec.Language = media.LanguageMaster
		spec.ExtendedLanguage = media.TagMaster
		_, err := plan.AddFrom(screen, master.ID, spec)
		return err
	})
	if err != nil {
		return err
	}
	log.Info("alignment track added", "master", master.ID)
	return nil
}

// cameraTitle names the i-th of n copied camera tracks of kind.
func cameraTitle(kind media.Kind, i, n int) string {
	var single, many string
	switch kind {
	case media.KindVideo:
		single, many = "Camera", "Video"
	case media.KindTimecode:
		single, many = media.TitleTimecode, media.TitleTimecode
	default:
		single, many = media.TitleMicrophone, "Audio"
	}
	if n == 1 {
		return single
	}
	return fmt.Sprintf("%s %d", many, i+1)
}
