package tracksel_test

import (
	"testing"

	"github.com/MrWong99/capa/internal/tracksel"
	"github.com/MrWong99/capa/pkg/audio"
	"github.com/MrWong99/capa/pkg/media"
)

func audioTrack(id int, lang, ext string) media.TrackInfo {
	return media.TrackInfo{ID: id, Kind: media.KindAudio, Language: lang, ExtendedLanguage: ext}
}

func TestFindMaster(t *testing.T) {
	tests := []struct {
		name   string
		tracks []media.TrackInfo
		wantID int
		wantOK bool
	}{
		{
			name:   "none",
			tracks: []media.TrackInfo{audioTrack(1, "eng", ""), audioTrack(2, media.LanguageMicrophone, media.TagMicrophone)},
		},
		{
			name:   "by extended tag",
			tracks: []media.TrackInfo{audioTrack(1, "", ""), audioTrack(2, "und", media.TagMaster)},
			wantID: 2, wantOK: true,
		},
		{
			name:   "by language code",
			tracks: []media.TrackInfo{audioTrack(4, media.LanguageMaster, "")},
			wantID: 4, wantOK: true,
		},
		{
			name:   "first match wins",
			tracks: []media.TrackInfo{audioTrack(1, "", ""), audioTrack(2, media.LanguageMaster, ""), audioTrack(3, "", media.TagMaster)},
			wantID: 2, wantOK: true,
		},
		{
			name:   "near miss is not a master",
			tracks: []media.TrackInfo{audioTrack(1, "qaa-x", "qaa-x-capa-mastering")},
		},
		{
			name:   "video tracks are ignored",
			tracks: []media.TrackInfo{{ID: 1, Kind: media.KindVideo, Language: media.LanguageMaster}},
		},
		{name: "empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tracksel.FindMaster(tc.tracks)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got.ID != tc.wantID {
				t.Errorf("master = track %d, want %d", got.ID, tc.wantID)
			}
		})
	}
}

func TestAssignRoles(t *testing.T) {
	tests := []struct {
		name   string
		tracks []media.TrackInfo
		want   []audio.Role
	}{
		{
			name:   "tagged",
			tracks: []media.TrackInfo{audioTrack(1, media.LanguageSystem, media.TagSystem), audioTrack(2, "", media.TagMicrophone)},
			want:   []audio.Role{audio.RoleSystem, audio.RoleMicrophone},
		},
		{
			name:   "untagged by position",
			tracks: []media.TrackInfo{audioTrack(1, "", ""), audioTrack(2, "", ""), audioTrack(3, "", "")},
			want:   []audio.Role{audio.RoleMicrophone, audio.RoleSystem, audio.RoleUnknown},
		},
		{
			name:   "untagged fills the free role",
			tracks: []media.TrackInfo{audioTrack(1, "", ""), audioTrack(2, media.LanguageMicrophone, "")},
			want:   []audio.Role{audio.RoleSystem, audio.RoleMicrophone},
		},
		{
			name:   "master is skipped",
			tracks: []media.TrackInfo{audioTrack(1, "", media.TagMaster), audioTrack(2, "", "")},
			want:   []audio.Role{audio.RoleUnknown, audio.RoleMicrophone},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tracksel.AssignRoles(tc.tracks)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d roles, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("track %d role = %s, want %s", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestTag(t *testing.T) {
	if _, lang, ext, ok := tracksel.Tag(audio.RoleMicrophone); !ok || lang != "qac" || ext != "qac-x-capa-mic" {
		t.Errorf("microphone tag = %q/%q (ok=%v)", lang, ext, ok)
	}
	if _, lang, ext, ok := tracksel.Tag(audio.RoleSystem); !ok || lang != "qab" || ext != "qab-x-capa-system" {
		t.Errorf("system tag = %q/%q (ok=%v)", lang, ext, ok)
	}
	if _, _, _, ok := tracksel.Tag(audio.RoleUnknown); ok {
		t.Error("unknown role should have no tag")
	}
}
