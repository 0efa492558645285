// Package tracksel picks out the tracks a post-processing operation works on:
// the master mix and the capture role of each audio track.
//
// Tracks are identified by the language sentinels in [media] (for example
// "qaa-x-capa-master" / "qaa" for the master mix). The sentinels are read back
// by other tooling, so matching is exact.
package tracksel

import (
	"github.com/MrWong99/capa/pkg/audio"
	"github.com/MrWong99/capa/pkg/media"
)

// IsMaster reports whether t carries the master mix tag or language code.
func IsMaster(t media.TrackInfo) bool {
	return t.ExtendedLanguage == media.TagMaster || t.Language == media.LanguageMaster
}

// FindMaster returns the first audio track in tracks that is tagged as the
// master mix. ok is false when there is none, which callers treat as
// "nothing to do" rather than an error.
func FindMaster(tracks []media.TrackInfo) (master media.TrackInfo, ok bool) {
	for _, t := range tracks {
		if t.Kind == media.KindAudio && IsMaster(t) {
			return t, true
		}
	}
	return media.TrackInfo{}, false
}

// RoleOf returns the capture role t is tagged with, or [audio.RoleUnknown].
func RoleOf(t media.TrackInfo) audio.Role {
	switch {
	case t.ExtendedLanguage == media.TagMicrophone || t.Language == media.LanguageMicrophone:
		return audio.RoleMicrophone
	case t.ExtendedLanguage == media.TagSystem || t.Language == media.LanguageSystem:
		return audio.RoleSystem
	default:
		return audio.RoleUnknown
	}
}

// AssignRoles returns the capture role of every track in tracks, index for
// index. Tagged tracks keep their tag. Untagged tracks fill the roles still
// free in recording order: the recorder writes the microphone first and the
// system audio second. Master tracks and tracks beyond the second untagged
// one get [audio.RoleUnknown].
func AssignRoles(tracks []media.TrackInfo) []audio.Role {
	roles := make([]audio.Role, len(tracks))
	taken := make(map[audio.Role]bool)
	for i, t := range tracks {
		if IsMaster(t) {
			continue
		}
		if r := RoleOf(t); r != audio.RoleUnknown {
			roles[i] = r
			taken[r] = true
		}
	}

	free := []audio.Role{audio.RoleMicrophone, audio.RoleSystem}
	for i, t := range tracks {
		if roles[i] != audio.RoleUnknown || IsMaster(t) || t.Kind != media.KindAudio {
			continue
		}
		for len(free) > 0 && taken[free[0]] {
			free = free[1:]
		}
		if len(free) == 0 {
			break
		}
		roles[i] = free[0]
		taken[free[0]] = true
	}
	return roles
}

// Tag returns the title, language code and extended language tag written on
// a track of the given role. ok is false for [audio.RoleUnknown].
func Tag(role audio.Role) (title, language, extended string, ok bool) {
	switch role {
	case audio.RoleMicrophone:
		return media.TitleMicrophone, media.LanguageMicrophone, media.TagMicrophone, true
	case audio.RoleSystem:
		return media.TitleSystem, media.LanguageSystem, media.TagSystem, true
	default:
		return "", "", "", false
	}
}
