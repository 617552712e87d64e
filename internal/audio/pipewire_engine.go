package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/audiolibrelab/audiosession/internal/config"
	"github.com/audiolibrelab/audiosession/internal/mix"
	"github.com/audiolibrelab/audiosession/internal/play"
)

const captureClient = "audiosession_capture"

var (
	errRecorderRunning    = errors.New("recorder already running")
	errRecorderNotRunning = errors.New("recorder not running")
	errPlayerNotStarted   = errors.New("player not started")
)

// PipeWireEngine implements Engine with pw-jack/ffmpeg for capture and ffplay for playback
type PipeWireEngine struct {
	pipewire *PipeWire
	interval time.Duration

	listenerMu sync.Mutex
	listeners  [2]Listener

	recMu sync.Mutex
	rec   *recording

	playMu sync.Mutex
	player *playback
	// volume and speed outlive a single playback, like a native player instance
	volume float64
	speed  float64
}

// recording is one capture, made of one ffmpeg segment per resume
type recording struct {
	cfg      RecorderConfig
	segments []string
	current  *process

	activeBefore time.Duration
	segmentStart time.Time
	joined       bool

	stopTicker chan struct{}
}

type playback struct {
	uri        string
	durationMs uint64
	proc       *process

	basePos   uint64
	startedAt time.Time
	paused    bool
	finished  bool

	stopTicker chan struct{}
}

// NewPipeWireEngine creates a new PipeWire-based engine
func NewPipeWireEngine(cfg *config.Config) *PipeWireEngine {
	interval := cfg.Engine.ProgressInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	return &PipeWireEngine{
		pipewire: NewPipeWire(),
		interval: interval,
		volume:   1,
		speed:    1,
	}
}

// AddListener registers the listener for ch
func (e *PipeWireEngine) AddListener(ch Channel, l Listener) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listeners[ch] = l
}

// RemoveListener clears the listener for ch
func (e *PipeWireEngine) RemoveListener(ch Channel) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listeners[ch] = nil
}

func (e *PipeWireEngine) emit(ev ProgressEvent) {
	e.listenerMu.Lock()
	l := e.listeners[ev.Channel]
	e.listenerMu.Unlock()

	if l != nil {
		l(ev)
	}
}

// StartRecorder begins capturing into cfg.OutputFile and returns it
func (e *PipeWireEngine) StartRecorder(ctx context.Context, cfg RecorderConfig) (string, error) {
	e.recMu.Lock()
	defer e.recMu.Unlock()

	if e.rec != nil {
		return "", errRecorderRunning
	}
	if cfg.OutputFile == "" {
		return "", fmt.Errorf("output file is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if cfg.Source != "" && cfg.Source != "disabled" {
		if err := e.pipewire.ValidatePort(cfg.Source); err != nil {
			return "", fmt.Errorf("capture source unavailable: %w", err)
		}
	}

	rec := &recording{cfg: cfg}
	if err := e.startSegment(rec); err != nil {
		return "", err
	}

	rec.stopTicker = make(chan struct{})
	go e.recordTicker(rec, rec.stopTicker)

	e.rec = rec
	slog.Info("PipeWire recording started", "output", cfg.OutputFile, "source", cfg.Source)
	return cfg.OutputFile, nil
}

// StopRecorder ends the capture, joins its segments and returns the file path.
// A stop that fails before the join keeps the recording so it can be retried.
func (e *PipeWireEngine) StopRecorder(ctx context.Context) (string, error) {
	e.recMu.Lock()
	defer e.recMu.Unlock()

	rec := e.rec
	if rec == nil {
		return "", errRecorderNotRunning
	}

	if err := e.endSegment(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to stop FFmpeg: %w", err)
	}

	if !rec.joined {
		if err := mix.Concat(ctx, rec.segments, rec.cfg.OutputFile); err != nil {
			return "", err
		}
		rec.joined = true
	}

	close(rec.stopTicker)
	e.rec = nil

	if err := validateOutputFile(rec.cfg.OutputFile); err != nil {
		return "", err
	}

	slog.Debug("PipeWire recording completed", "output", rec.cfg.OutputFile, "segments", len(rec.segments))
	return rec.cfg.OutputFile, nil
}

// PauseRecorder closes the current segment
func (e *PipeWireEngine) PauseRecorder(ctx context.Context) error {
	e.recMu.Lock()
	defer e.recMu.Unlock()

	if e.rec == nil || e.rec.current == nil {
		return errRecorderNotRunning
	}
	return e.endSegment(ctx, e.rec)
}

// ResumeRecorder opens a new segment
func (e *PipeWireEngine) ResumeRecorder(ctx context.Context) error {
	e.recMu.Lock()
	defer e.recMu.Unlock()

	if e.rec == nil {
		return errRecorderNotRunning
	}
	if e.rec.current != nil {
		return errRecorderRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.startSegment(e.rec)
}

func (e *PipeWireEngine) startSegment(rec *recording) error {
	ext := filepath.Ext(rec.cfg.OutputFile)
	segment := fmt.Sprintf("%s.seg%d%s", strings.TrimSuffix(rec.cfg.OutputFile, ext), len(rec.segments)+1, ext)
	os.Remove(segment)

	env := []string{
		"PIPEWIRE_QUANTUM=256/48000",
		"PIPEWIRE_LATENCY=256/48000",
	}

	proc, err := startProcess("ffmpeg", env, captureArgs(rec.cfg, segment)...)
	if err != nil {
		return err
	}

	rec.current = proc
	rec.segments = append(rec.segments, segment)
	rec.segmentStart = time.Now()

	if rec.cfg.Source != "" && rec.cfg.Source != "disabled" {
		go e.connectSource(rec.cfg.Source)
	}
	return nil
}

// endSegment stops the current ffmpeg child. The segment stays current until
// the child is confirmed gone, so a cancelled stop can be repeated.
func (e *PipeWireEngine) endSegment(ctx context.Context, rec *recording) error {
	if rec.current == nil {
		return nil
	}

	if err := rec.current.stop(ctx, os.Interrupt); err != nil {
		return err
	}

	rec.current = nil
	rec.activeBefore += time.Since(rec.segmentStart)
	return nil
}

// connectSource links the configured source into the capture client once its port appears
func (e *PipeWireEngine) connectSource(source string) {
	destPort := captureClient + ":input_1"
	if err := e.pipewire.WaitForPort(destPort, 5*time.Second); err != nil {
		slog.Error("FFmpeg JACK port did not appear", "port", destPort, "error", err)
		return
	}
	if err := e.pipewire.ConnectPortsWithRetry(source, destPort); err != nil {
		slog.Error("Failed to connect capture source", "source", source, "dest", destPort, "error", err)
	}
}

func (e *PipeWireEngine) recordTicker(rec *recording, stop <-chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.recMu.Lock()
			elapsed := rec.activeBefore
			if rec.current != nil {
				elapsed += time.Since(rec.segmentStart)
			}
			e.recMu.Unlock()

			e.emit(ProgressEvent{Channel: RecordChannel, PositionMs: uint64(elapsed.Milliseconds())})
		}
	}
}

// captureArgs builds the pw-jack/ffmpeg capture command for one segment
func captureArgs(cfg RecorderConfig, output string) []string {
	channels := cfg.Channels
	if channels < 1 {
		channels = 1
	}
	if channels > 2 {
		channels = 2
	}

	args := []string{
		"pw-jack",
		"ffmpeg",
		"-f", "jack",
		"-channels", fmt.Sprintf("%d", channels),
		"-i", captureClient,
	}
	if cfg.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", cfg.SampleRate))
	}

	return append(args,
		"-c:a", codecFor(cfg.Format),
		"-y", // Overwrite output
		output,
	)
}

func codecFor(format string) string {
	switch format {
	case "flac":
		return "flac"
	case "wav":
		return "pcm_s16le"
	case "mp3":
		return "libmp3lame"
	default:
		return "aac"
	}
}

// validateOutputFile validates the created output file
func validateOutputFile(path string) error {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("recording file not found: %w", err)
	}
	if fileInfo.Size() == 0 {
		return fmt.Errorf("recording failed: %s is empty", path)
	}
	return nil
}

// StartPlayer begins playback of uri from the start
func (e *PipeWireEngine) StartPlayer(ctx context.Context, uri string) error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	if e.player != nil {
		e.haltPlayer(ctx)
	}

	if _, err := os.Stat(uri); err != nil {
		return fmt.Errorf("audio file not accessible: %w", err)
	}
	if _, err := play.FindPlayer(); err != nil {
		return err
	}

	durationMs, err := play.ProbeDuration(ctx, uri)
	if err != nil {
		slog.Warn("Could not determine duration", "uri", uri, "error", err)
	}

	p := &playback{uri: uri, durationMs: durationMs}
	if err := e.launch(p, 0, e.volume, e.speed); err != nil {
		return err
	}

	p.stopTicker = make(chan struct{})
	go e.playTicker(p, p.stopTicker)

	e.player = p
	slog.Info("Playback started", "uri", uri, "duration_ms", durationMs)
	return nil
}

// PausePlayer freezes the playback child
func (e *PipeWireEngine) PausePlayer(ctx context.Context) error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	p := e.player
	if p == nil || p.finished {
		return errPlayerNotStarted
	}
	if p.paused {
		return nil
	}

	if p.proc != nil {
		if err := p.proc.signal(syscall.SIGSTOP); err != nil {
			return fmt.Errorf("failed to pause player: %w", err)
		}
	}
	p.basePos = e.position(p)
	p.paused = true
	return nil
}

// ResumePlayer continues a paused playback, relaunching if parameters changed while paused
func (e *PipeWireEngine) ResumePlayer(ctx context.Context) error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	p := e.player
	if p == nil || p.finished {
		return errPlayerNotStarted
	}
	if !p.paused {
		return nil
	}

	if p.proc == nil {
		if err := e.launch(p, p.basePos, e.volume, e.speed); err != nil {
			return err
		}
	} else if err := p.proc.signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("failed to resume player: %w", err)
	}

	p.startedAt = time.Now()
	p.paused = false
	return nil
}

// StopPlayer ends playback; stopping an idle player is not an error
func (e *PipeWireEngine) StopPlayer(ctx context.Context) error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	if e.player == nil {
		return nil
	}
	e.haltPlayer(ctx)
	return nil
}

// SeekToPlayer repositions playback by relaunching the child at ms
func (e *PipeWireEngine) SeekToPlayer(ctx context.Context, ms uint64) error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	p := e.player
	if p == nil {
		return errPlayerNotStarted
	}
	if p.durationMs > 0 && ms > p.durationMs {
		ms = p.durationMs
	}

	return e.relaunch(ctx, p, ms)
}

// SetVolume applies volume (0..1) to the running playback
func (e *PipeWireEngine) SetVolume(ctx context.Context, volume float64) error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	e.volume = volume
	if e.player == nil || e.player.finished {
		return nil
	}
	return e.relaunch(ctx, e.player, e.position(e.player))
}

// SetPlaybackSpeed applies a tempo factor to the running playback
func (e *PipeWireEngine) SetPlaybackSpeed(ctx context.Context, speed float64) error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	if e.player != nil && !e.player.paused && !e.player.finished {
		// Fold elapsed time at the old speed into the base position
		e.player.basePos = e.position(e.player)
		e.player.startedAt = time.Now()
	}
	e.speed = speed
	if e.player == nil || e.player.finished {
		return nil
	}
	return e.relaunch(ctx, e.player, e.player.basePos)
}

// relaunch restarts the child at pos. A paused playback stays paused and
// launches on resume.
func (e *PipeWireEngine) relaunch(ctx context.Context, p *playback, pos uint64) error {
	if p.proc != nil {
		proc := p.proc
		p.proc = nil
		if err := proc.stop(ctx, os.Kill); err != nil {
			slog.Debug("Previous player exited with error", "error", err)
		}
	}

	p.finished = false
	p.basePos = pos
	if p.paused {
		return nil
	}
	return e.launch(p, pos, e.volume, e.speed)
}

func (e *PipeWireEngine) launch(p *playback, pos uint64, volume, speed float64) error {
	proc, err := startProcess("ffplay", nil, play.Args(p.uri, play.Options{
		StartMs: pos,
		Volume:  volume,
		Speed:   speed,
	})...)
	if err != nil {
		return err
	}

	p.proc = proc
	p.basePos = pos
	p.startedAt = time.Now()

	go e.watchPlayer(p, proc)
	return nil
}

// watchPlayer reports natural end of media as a final progress event with pos == dur
func (e *PipeWireEngine) watchPlayer(p *playback, proc *process) {
	<-proc.done
	if proc.requested.Load() {
		return
	}

	e.playMu.Lock()
	if e.player != p || p.proc != proc {
		e.playMu.Unlock()
		return
	}
	if err := proc.exitError(); err != nil {
		slog.Error("Player exited with error", "uri", p.uri, "error", err)
	}
	duration := p.durationMs
	if duration == 0 {
		duration = e.position(p)
	}
	p.durationMs = duration
	p.basePos = duration
	p.proc = nil
	p.finished = true
	e.playMu.Unlock()

	e.emit(ProgressEvent{Channel: PlayChannel, PositionMs: duration, DurationMs: duration})
}

func (e *PipeWireEngine) playTicker(p *playback, stop <-chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.playMu.Lock()
			if p.paused || p.finished || p.proc == nil {
				e.playMu.Unlock()
				continue
			}
			ev := ProgressEvent{Channel: PlayChannel, PositionMs: e.position(p), DurationMs: p.durationMs}
			e.playMu.Unlock()

			// The final event belongs to watchPlayer
			if ev.DurationMs > 0 && ev.PositionMs >= ev.DurationMs {
				continue
			}
			e.emit(ev)
		}
	}
}

// position estimates the playhead from the launch time and tempo
func (e *PipeWireEngine) position(p *playback) uint64 {
	if p.paused || p.finished || p.proc == nil {
		return p.basePos
	}

	elapsed := float64(time.Since(p.startedAt).Milliseconds()) * e.speed
	pos := p.basePos + uint64(elapsed)
	if p.durationMs > 0 && pos > p.durationMs {
		pos = p.durationMs
	}
	return pos
}

// haltPlayer tears the playback down; callers hold playMu
func (e *PipeWireEngine) haltPlayer(ctx context.Context) {
	p := e.player
	e.player = nil
	close(p.stopTicker)

	if p.proc != nil {
		if err := p.proc.stop(ctx, os.Kill); err != nil {
			slog.Debug("Player exited with error on stop", "uri", p.uri, "error", err)
		}
		p.proc = nil
	}
	slog.Debug("Playback stopped", "uri", p.uri)
}
