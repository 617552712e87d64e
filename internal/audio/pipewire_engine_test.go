package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/audiosession/internal/config"
)

func TestCaptureArgs(t *testing.T) {
	cfg := RecorderConfig{
		OutputFile: "/tmp/take.flac",
		SampleRate: 48000,
		Channels:   2,
		Format:     "flac",
	}

	got := strings.Join(captureArgs(cfg, "/tmp/take.seg1.flac"), " ")
	want := "pw-jack ffmpeg -f jack -channels 2 -i audiosession_capture -ar 48000 -c:a flac -y /tmp/take.seg1.flac"
	if got != want {
		t.Errorf("captureArgs() =\n%s\nwant\n%s", got, want)
	}
}

func TestCaptureArgs_ClampsChannelsAndSkipsRate(t *testing.T) {
	got := captureArgs(RecorderConfig{Channels: 8}, "out.m4a")

	joined := strings.Join(got, " ")
	if !strings.Contains(joined, "-channels 2") {
		t.Errorf("Expected channels clamped to 2, got: %s", joined)
	}
	if strings.Contains(joined, "-ar") {
		t.Errorf("Expected no -ar without a sample rate, got: %s", joined)
	}
	if !strings.Contains(joined, "-c:a aac") {
		t.Errorf("Expected aac for unknown format, got: %s", joined)
	}
}

func TestCodecFor(t *testing.T) {
	tests := map[string]string{
		"m4a":  "aac",
		"flac": "flac",
		"wav":  "pcm_s16le",
		"mp3":  "libmp3lame",
		"":     "aac",
	}

	for format, want := range tests {
		if got := codecFor(format); got != want {
			t.Errorf("codecFor(%q) = %s, want %s", format, got, want)
		}
	}
}

func TestPipeWireEngine_ListenersPerChannel(t *testing.T) {
	e := NewPipeWireEngine(config.Default())

	var got []ProgressEvent
	e.AddListener(PlayChannel, func(ev ProgressEvent) { got = append(got, ev) })

	e.emit(ProgressEvent{Channel: RecordChannel, PositionMs: 10})
	e.emit(ProgressEvent{Channel: PlayChannel, PositionMs: 20, DurationMs: 100})

	if len(got) != 1 || got[0].PositionMs != 20 {
		t.Fatalf("Expected only the play event, got %v", got)
	}

	e.RemoveListener(PlayChannel)
	e.emit(ProgressEvent{Channel: PlayChannel, PositionMs: 30})
	if len(got) != 1 {
		t.Errorf("Expected no delivery after RemoveListener, got %v", got)
	}
}

func TestPipeWireEngine_IdleOperations(t *testing.T) {
	e := NewPipeWireEngine(config.Default())
	ctx := context.Background()

	if err := e.StopPlayer(ctx); err != nil {
		t.Errorf("Expected stopping an idle player to succeed, got: %v", err)
	}
	if err := e.PausePlayer(ctx); err == nil {
		t.Error("Expected error pausing an idle player")
	}
	if _, err := e.StopRecorder(ctx); err == nil {
		t.Error("Expected error stopping an idle recorder")
	}
	if err := e.ResumeRecorder(ctx); err == nil {
		t.Error("Expected error resuming an idle recorder")
	}
	if _, err := e.StartRecorder(ctx, RecorderConfig{}); err == nil {
		t.Error("Expected error for missing output file")
	}

	// Parameters apply to the next playback
	if err := e.SetVolume(ctx, 0.5); err != nil {
		t.Errorf("Expected SetVolume without playback to succeed, got: %v", err)
	}
	if err := e.SetPlaybackSpeed(ctx, 2); err != nil {
		t.Errorf("Expected SetPlaybackSpeed without playback to succeed, got: %v", err)
	}
	if e.volume != 0.5 || e.speed != 2 {
		t.Errorf("Expected volume 0.5 speed 2, got %.2f %.2f", e.volume, e.speed)
	}
}

// fakeCaptureTool puts a pw-jack on PATH that writes its output file, then
// ignores SIGINT until killed
func fakeCaptureTool(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}

	dir := t.TempDir()
	script := `#!/bin/sh
trap '' INT
for last; do :; done
printf 'audio' > "$last"
exec sleep 30
`
	if err := os.WriteFile(filepath.Join(dir, "pw-jack"), []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write fake pw-jack: %v", err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestPipeWireEngine_StopRecorderRetryAfterCancel(t *testing.T) {
	fakeCaptureTool(t)

	e := NewPipeWireEngine(config.Default())
	output := filepath.Join(t.TempDir(), "take.flac")

	if _, err := e.StartRecorder(context.Background(), RecorderConfig{OutputFile: output, Format: "flac"}); err != nil {
		t.Fatalf("StartRecorder failed: %v", err)
	}

	// Give the child time to create its segment
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := e.StopRecorder(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected the first stop to fail with the deadline, got: %v", err)
	}

	if _, err := e.StartRecorder(context.Background(), RecorderConfig{OutputFile: output}); !errors.Is(err, errRecorderRunning) {
		t.Errorf("Expected the recording to survive a failed stop, got: %v", err)
	}

	uri, err := e.StopRecorder(context.Background())
	if err != nil {
		t.Fatalf("Expected the retried stop to succeed, got: %v", err)
	}
	if uri != output {
		t.Errorf("Expected uri %s, got %s", output, uri)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("Expected the joined recording on disk: %v", err)
	}
	if string(data) != "audio" {
		t.Errorf("Unexpected recording content %q", data)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(output), "take.seg1.flac")); !os.IsNotExist(err) {
		t.Errorf("Expected the segment to be moved into place, stat error: %v", err)
	}

	if _, err := e.StopRecorder(context.Background()); !errors.Is(err, errRecorderNotRunning) {
		t.Errorf("Expected the recorder to be released after a successful stop, got: %v", err)
	}
}

func TestPipeWireEngine_PauseRecorderRetryAfterCancel(t *testing.T) {
	fakeCaptureTool(t)

	e := NewPipeWireEngine(config.Default())
	output := filepath.Join(t.TempDir(), "take.flac")

	if _, err := e.StartRecorder(context.Background(), RecorderConfig{OutputFile: output}); err != nil {
		t.Fatalf("StartRecorder failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.PauseRecorder(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected the pause to fail with the cancellation, got: %v", err)
	}

	if err := e.PauseRecorder(context.Background()); err != nil {
		t.Fatalf("Expected the retried pause to succeed, got: %v", err)
	}
	if _, err := e.StopRecorder(context.Background()); err != nil {
		t.Fatalf("Expected stop after pause to succeed, got: %v", err)
	}
}
