// Package session coordinates recording and playback against an audio engine
// behind one controller with a single state snapshot.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/audiosession/internal/audio"
)

// Controller composes the recording and playback sessions over one engine.
// Commands are serialized; progress events arrive on engine goroutines and
// only touch the session they belong to.
type Controller struct {
	engine         audio.Engine
	bridge         *Bridge
	recording      *RecordingSession
	playback       *PlaybackSession
	notify         *notifier
	recorderConfig func() audio.RecorderConfig

	cmdMu  sync.Mutex
	closed bool
}

// Option configures a Controller
type Option func(*options)

type options struct {
	callTimeout    time.Duration
	recorderConfig func() audio.RecorderConfig
}

// WithCallTimeout bounds every engine call; zero leaves calls unbounded
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithRecorderConfig supplies the capture target for each StartRecording
func WithRecorderConfig(fn func() audio.RecorderConfig) Option {
	return func(o *options) { o.recorderConfig = fn }
}

// New creates a controller that exclusively owns engine
func New(engine audio.Engine, opts ...Option) *Controller {
	o := options{
		recorderConfig: func() audio.RecorderConfig { return audio.RecorderConfig{} },
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller{
		engine:         engine,
		bridge:         NewBridge(engine),
		notify:         newNotifier(),
		recorderConfig: o.recorderConfig,
	}
	invoke := invoker{timeout: o.callTimeout}
	c.recording = newRecordingSession(engine, c.bridge, invoke, c.changed)
	c.playback = newPlaybackSession(engine, c.bridge, invoke, c.changed)
	return c
}

func (c *Controller) changed() {
	c.notify.publish(c.Snapshot)
}

// command holds the command lock for the duration of fn
func (c *Controller) command(fn func() error) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return fn()
}

// StartRecording begins a capture using the configured recorder settings
func (c *Controller) StartRecording(ctx context.Context) error {
	return c.command(func() error {
		return c.recording.Start(ctx, c.recorderConfig())
	})
}

// StartRecordingTo begins a capture with cfg. The target travels with the
// command, so concurrent callers cannot swap each other's output file.
func (c *Controller) StartRecordingTo(ctx context.Context, cfg audio.RecorderConfig) error {
	return c.command(func() error {
		return c.recording.Start(ctx, cfg)
	})
}

// StopRecording ends the capture and returns the committed uri
func (c *Controller) StopRecording(ctx context.Context) (string, error) {
	var uri string
	err := c.command(func() error {
		var err error
		uri, err = c.recording.Stop(ctx)
		return err
	})
	return uri, err
}

func (c *Controller) PauseRecording(ctx context.Context) error {
	return c.command(func() error { return c.recording.Pause(ctx) })
}

func (c *Controller) ResumeRecording(ctx context.Context) error {
	return c.command(func() error { return c.recording.Resume(ctx) })
}

// ResetRecording force-clears recording state and the committed uri
func (c *Controller) ResetRecording(ctx context.Context) error {
	return c.command(func() error {
		c.recording.Reset(ctx)
		return nil
	})
}

func (c *Controller) StartPlaying(ctx context.Context, uri string, loop bool) error {
	return c.command(func() error { return c.playback.Start(ctx, uri, loop) })
}

func (c *Controller) PausePlaying(ctx context.Context) error {
	return c.command(func() error { return c.playback.Pause(ctx) })
}

func (c *Controller) ResumePlaying(ctx context.Context) error {
	return c.command(func() error { return c.playback.Resume(ctx) })
}

// StopPlaying ends playback; it succeeds when nothing is playing
func (c *Controller) StopPlaying(ctx context.Context) error {
	return c.command(func() error { return c.playback.Stop(ctx) })
}

func (c *Controller) SeekTo(ctx context.Context, ms uint64) error {
	return c.command(func() error { return c.playback.SeekTo(ctx, ms) })
}

func (c *Controller) SetVolume(ctx context.Context, volume float64) error {
	return c.command(func() error { return c.playback.SetVolume(ctx, volume) })
}

func (c *Controller) SetSpeed(ctx context.Context, speed float64) error {
	return c.command(func() error { return c.playback.SetSpeed(ctx, speed) })
}

// RecordingURI returns the uri of the last stopped recording
func (c *Controller) RecordingURI() (string, bool) {
	return c.recording.URI()
}

// PlayingURI returns the uri of the current playback
func (c *Controller) PlayingURI() (string, bool) {
	return c.playback.URI()
}

// Snapshot returns the current state without blocking on engine calls
func (c *Controller) Snapshot() Snapshot {
	var s Snapshot
	c.recording.fill(&s)
	c.playback.fill(&s)
	s.IsPaused = s.RecordPaused || s.PlayPaused
	return s
}

// Subscribe returns a channel that receives the current snapshot and then
// the latest snapshot after each change. Slow readers only miss
// intermediate snapshots. The channel is closed by cancel or Shutdown.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.notify.subscribe(c.Snapshot)
}

// Shutdown detaches all listeners and stops both sides on a best-effort
// basis. Engine failures are logged, never returned. Later commands fail
// with ErrClosed.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.bridge.DetachAll()

	if err := c.recording.teardown(ctx); err != nil {
		slog.Warn("Failed to stop recorder during shutdown", "error", err)
	}
	if err := c.playback.teardown(ctx); err != nil {
		slog.Warn("Failed to stop player during shutdown", "error", err)
	}

	c.notify.close()
	slog.Debug("Audio session controller shut down")
	return ctx.Err()
}

// Close shuts the controller down without a deadline
func (c *Controller) Close() error {
	return c.Shutdown(context.Background())
}
