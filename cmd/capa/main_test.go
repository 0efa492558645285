package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/capa/pkg/audio"
	"github.com/MrWong99/capa/pkg/media"
	"github.com/MrWong99/capa/pkg/media/mkv"
)

// writeRecording writes a recording with one microphone track of constant
// amplitude amp.
func writeRecording(t *testing.T, path string, amp float32) {
	t.Helper()
	w, err := mkv.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tw, err := w.AddTrack(media.TrackSpec{
		Kind:             media.KindAudio,
		Title:            media.TitleMicrophone,
		Language:         media.LanguageMicrophone,
		ExtendedLanguage: media.TagMicrophone,
		Format:           media.Format{SampleRate: 48000, Channels: 1, Encoding: media.EncodingFloat32},
	})
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	if err := w.StartSession(0); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	block := make([]float32, 480)
	for i := range block {
		block[i] = amp
	}
	data, err := audio.Encode(block, media.EncodingFloat32)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := range 10 {
		s := media.Sample{PTS: time.Duration(i) * 10 * time.Millisecond, Duration: 10 * time.Millisecond, Data: data, Keyframe: true}
		if err := tw.WriteSample(s); err != nil {
			t.Fatalf("WriteSample: %v", err)
		}
	}
	tw.MarkFinished()
	if err := w.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"transcode", "x.mkv"}},
		{name: "missing file", args: []string{"peaks"}},
		{name: "align needs two files", args: []string{"align", "camera.mkv"}},
		{name: "bad flag", args: []string{"master", "-loud", "x.mkv"}},
		{name: "cfr disabled", args: []string{"cfr", "-fps", "0", "x.mkv"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tc.args...)
			if code != exitUsage {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, exitUsage, stderr)
			}
		})
	}
}

func TestRun_UsageWithExplicitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capa.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := runCLI(t, "-config", path, "peaks")
	if code != exitUsage {
		t.Errorf("exit code = %d, want %d (stderr: %s)", code, exitUsage, stderr)
	}
	if strings.Contains(stderr, "telemetry") {
		t.Errorf("usage error reported a telemetry failure: %s", stderr)
	}
}

func TestRun_ExplicitConfigMustExist(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	code, _, _ := runCLI(t, "-config", missing, "peaks", "x.mkv")
	if code != exitFail {
		t.Errorf("exit code = %d, want %d", code, exitFail)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capa.yaml")
	if err := os.WriteFile(path, []byte("cfr:\n  fps: 1000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := runCLI(t, "-config", path, "peaks", "x.mkv")
	if code != exitFail {
		t.Errorf("exit code = %d, want %d", code, exitFail)
	}
	if !strings.Contains(stderr, "fps") {
		t.Errorf("stderr does not mention fps: %s", stderr)
	}
}

func TestRun_Peaks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.mkv")
	writeRecording(t, path, 0.5)

	code, stdout, stderr := runCLI(t, "peaks", path)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "TRACK") || !strings.Contains(stdout, "microphone") {
		t.Errorf("unexpected table:\n%s", stdout)
	}
	if !strings.Contains(stdout, "-6.0 dB") {
		t.Errorf("peak of 0.5 not reported as -6.0 dB:\n%s", stdout)
	}
}

func TestRun_MasterWithSingleSourceIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.mkv")
	writeRecording(t, path, 0.25)
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	code, _, stderr := runCLI(t, "master", path)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("single-source recording was rewritten")
	}
}

func TestRun_MissingRecordingFails(t *testing.T) {
	code, _, _ := runCLI(t, "peaks", filepath.Join(t.TempDir(), "missing.mkv"))
	if code != exitFail {
		t.Errorf("exit code = %d, want %d", code, exitFail)
	}
}
