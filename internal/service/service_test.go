package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/audiosession/internal/audio/audiotest"
	"github.com/audiolibrelab/audiosession/internal/config"
	"github.com/audiolibrelab/audiosession/internal/session"
)

func newTestService(t *testing.T) (*AudioSessionService, *audiotest.Engine) {
	t.Helper()

	cfg := config.Default()
	cfg.Recording.Directory = t.TempDir()
	cfg.Audio.Format = "flac"
	cfg.Audio.Source = "system:capture_1"

	engine := audiotest.NewEngine()
	s := NewWithEngine(cfg, "", engine)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, engine
}

func TestStartRecordingNamesTarget(t *testing.T) {
	ctx := context.Background()
	s, engine := newTestService(t)

	target, err := s.StartRecording(ctx, "Morning Take #1")
	require.NoError(t, err)

	expected := filepath.Join(s.cfg.Recording.Directory, "Morning_Take_1.flac")
	assert.Equal(t, expected, target)
	assert.Equal(t, expected, engine.LastRecorderConfig.OutputFile)
	assert.Equal(t, "system:capture_1", engine.LastRecorderConfig.Source)
	assert.Equal(t, 44100, engine.LastRecorderConfig.SampleRate)

	uri, err := s.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, expected, uri)

	committed, ok := s.RecordingURI()
	assert.True(t, ok)
	assert.Equal(t, expected, committed)
}

func TestConcurrentStartsKeepTheirTargets(t *testing.T) {
	ctx := context.Background()
	s, engine := newTestService(t)

	names := []string{"alpha", "beta", "gamma", "delta"}
	targets := make([]string, len(names))
	errs := make([]error, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			targets[i], errs[i] = s.StartRecording(ctx, name)
		}(i, name)
	}
	wg.Wait()

	winner := ""
	for i := range names {
		if errs[i] == nil {
			require.Empty(t, winner, "only one start may succeed")
			winner = targets[i]
			continue
		}
		assert.ErrorIs(t, errs[i], session.ErrAlreadyRecording)
	}

	require.NotEmpty(t, winner)
	assert.Equal(t, 1, engine.CallCount(audiotest.OpStartRecorder))
	assert.Equal(t, winner, engine.LastRecorderConfig.OutputFile)

	uri, err := s.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, winner, uri)
}

func TestRecordingPathGeneratesName(t *testing.T) {
	s, _ := newTestService(t)
	s.cfg.Recording.NamePrefix = "memo"

	first := filepath.Base(s.RecordingPath(""))
	second := filepath.Base(s.RecordingPath("!!!"))

	assert.True(t, strings.HasPrefix(first, "memo-"), first)
	assert.True(t, strings.HasSuffix(first, ".flac"), first)
	assert.NotEqual(t, first, second)
}

func TestLastErrorTracking(t *testing.T) {
	ctx := context.Background()
	s, engine := newTestService(t)

	_, err := s.StopRecording(ctx)
	require.ErrorIs(t, err, session.ErrNotRecording)
	assert.Contains(t, s.GetLastError(), "Failed to stop recording")

	_, err = s.StartRecording(ctx, "take")
	require.NoError(t, err)
	assert.Empty(t, s.GetLastError())

	engine.Fail(audiotest.OpPauseRecorder, errors.New("boom"))
	err = s.PauseRecording(ctx)
	assert.ErrorIs(t, err, session.ErrEngineFailure)
	assert.Contains(t, s.GetLastError(), "boom")
}

func TestPlayAppliesConfiguredDefaults(t *testing.T) {
	ctx := context.Background()
	s, engine := newTestService(t)
	s.cfg.Playback.Volume = 0.5
	s.cfg.Playback.Speed = 1.25

	require.NoError(t, s.Play(ctx, "/music/song.flac", true))

	assert.Equal(t, 0.5, engine.Volume)
	assert.Equal(t, 1.25, engine.Speed)

	snap := s.Snapshot()
	assert.True(t, snap.IsPlaying)
	assert.True(t, snap.Loop)
	assert.Equal(t, 0.5, snap.Volume)

	// Already applied, so a second start does not repeat the calls
	engine.ResetCalls()
	require.NoError(t, s.Play(ctx, "/music/other.flac", false))
	assert.Equal(t, 0, engine.CallCount(audiotest.OpSetVolume))
}

func TestPlaybackCommands(t *testing.T) {
	ctx := context.Background()
	s, engine := newTestService(t)

	require.NoError(t, s.Play(ctx, "/music/song.flac", false))
	require.NoError(t, s.PausePlayback(ctx))
	require.NoError(t, s.Seek(ctx, 1200))
	require.NoError(t, s.ResumePlayback(ctx))
	require.NoError(t, s.SetVolume(ctx, 0.3))
	require.NoError(t, s.SetSpeed(ctx, 0.75))
	require.NoError(t, s.StopPlayback(ctx))
	require.NoError(t, s.StopPlayback(ctx))

	assert.Equal(t, uint64(1200), engine.LastSeekMs)
	assert.False(t, s.Snapshot().IsPlaying)
	assert.Equal(t, 1, engine.CallCount(audiotest.OpStopPlayer))
}

func TestListRecordings(t *testing.T) {
	s, _ := newTestService(t)
	dir := s.cfg.Recording.Directory

	writeFile := func(name string, size int, mod time.Time) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	now := time.Now()
	writeFile("old.flac", 10, now.Add(-2*time.Hour))
	writeFile("new.m4a", 2048, now.Add(-time.Minute))
	writeFile("notes.txt", 5, now)
	writeFile("take.seg2.flac", 5, now)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.flac"), 0755))

	recordings, err := s.ListRecordings()
	require.NoError(t, err)
	require.Len(t, recordings, 2)

	assert.Equal(t, "new.m4a", recordings[0].Name)
	assert.Equal(t, "2.0 KB", recordings[0].SizeHuman)
	assert.Equal(t, "m4a", recordings[0].Extension)
	assert.Equal(t, "old.flac", recordings[1].Name)
	assert.Equal(t, "10 B", recordings[1].SizeHuman)
}

func TestResolveRecording(t *testing.T) {
	s, _ := newTestService(t)
	dir := s.cfg.Recording.Directory
	require.NoError(t, os.WriteFile(filepath.Join(dir, "take.flac"), []byte("x"), 0644))

	path, err := s.ResolveRecording("take.flac")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "take.flac"), path)

	_, err = s.ResolveRecording("missing.flac")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, name := range []string{"", "..", "../etc/passwd", "a/b.flac"} {
		_, err := s.ResolveRecording(name)
		assert.ErrorIs(t, err, session.ErrInvalidArgument, "name %q", name)
	}
}

func TestCloseStopsActiveSessions(t *testing.T) {
	ctx := context.Background()
	s, engine := newTestService(t)

	_, err := s.StartRecording(ctx, "take")
	require.NoError(t, err)
	require.NoError(t, s.Play(ctx, "/music/song.flac", false))

	require.NoError(t, s.Close(ctx))

	assert.Equal(t, 1, engine.CallCount(audiotest.OpStopRecorder))
	assert.Equal(t, 1, engine.CallCount(audiotest.OpStopPlayer))
	_, err = s.StartRecording(ctx, "again")
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestIsSegmentFile(t *testing.T) {
	assert.True(t, isSegmentFile("take.seg1.flac"))
	assert.True(t, isSegmentFile("take.seg12.m4a"))
	assert.False(t, isSegmentFile("take.flac"))
	assert.False(t, isSegmentFile("take.segment.flac"))
	assert.False(t, isSegmentFile("take.seg.flac"))
}
