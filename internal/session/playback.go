package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/audiosession/internal/audio"
)

const maxSpeed = 4.0

// PlaybackSession drives the engine player through Idle, Playing, Paused and Finished
type PlaybackSession struct {
	engine   audio.Engine
	bridge   *Bridge
	invoke   invoker
	onChange func()

	mu         sync.RWMutex
	state      PlaybackState
	uri        string
	loop       LoopMode
	positionMs uint64
	durationMs uint64
	volume     float64
	speed      float64
}

func newPlaybackSession(engine audio.Engine, bridge *Bridge, invoke invoker, onChange func()) *PlaybackSession {
	return &PlaybackSession{
		engine:   engine,
		bridge:   bridge,
		invoke:   invoke,
		onChange: onChange,
		volume:   1,
		speed:    1,
	}
}

// State returns the current state
func (p *PlaybackSession) State() PlaybackState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// URI returns the uri being played, if any
func (p *PlaybackSession) URI() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.uri, p.uri != ""
}

// Start plays uri from the beginning, stopping any current playback first
func (p *PlaybackSession) Start(ctx context.Context, uri string, loop bool) error {
	if uri == "" {
		return invalidArgument("startPlaying", "uri is required")
	}

	if p.State() != PlaybackIdle {
		if err := p.Stop(ctx); err != nil {
			return err
		}
	}

	p.bridge.Attach(audio.PlayChannel, p.onProgress)

	err := p.invoke.do(ctx, "startPlayer", func(ctx context.Context) error {
		return p.engine.StartPlayer(ctx, uri)
	})
	if err != nil {
		p.bridge.Detach(audio.PlayChannel)
		return err
	}

	p.mu.Lock()
	p.state = PlaybackPlaying
	p.uri = uri
	p.loop = loopModeOf(loop)
	p.positionMs = 0
	p.durationMs = 0
	p.mu.Unlock()

	slog.Debug("Playback started", "uri", uri, "loop", loop)
	p.onChange()
	return nil
}

// Pause suspends playback
func (p *PlaybackSession) Pause(ctx context.Context) error {
	if state := p.State(); state != PlaybackPlaying {
		return transition("pausePlaying", state, ErrNotPlaying)
	}

	if err := p.invoke.do(ctx, "pausePlayer", p.engine.PausePlayer); err != nil {
		return err
	}

	p.setState(PlaybackPaused)
	return nil
}

// Resume continues paused playback
func (p *PlaybackSession) Resume(ctx context.Context) error {
	if state := p.State(); state != PlaybackPaused {
		return transition("resumePlaying", state, ErrNotPausedPlayback)
	}

	if err := p.invoke.do(ctx, "resumePlayer", p.engine.ResumePlayer); err != nil {
		return err
	}

	p.setState(PlaybackPlaying)
	return nil
}

// Stop ends playback and resets the position. Stopping idle playback is a no-op.
func (p *PlaybackSession) Stop(ctx context.Context) error {
	if p.State() == PlaybackIdle {
		return nil
	}

	if err := p.invoke.do(ctx, "stopPlayer", p.engine.StopPlayer); err != nil {
		return err
	}

	p.bridge.Detach(audio.PlayChannel)
	p.toIdle()
	return nil
}

// SeekTo moves the playhead to ms
func (p *PlaybackSession) SeekTo(ctx context.Context, ms uint64) error {
	if state := p.State(); !state.active() {
		return transition("seekTo", state, ErrNotPlaying)
	}

	err := p.invoke.do(ctx, "seekToPlayer", func(ctx context.Context) error {
		return p.engine.SeekToPlayer(ctx, ms)
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.positionMs = ms
	if p.durationMs > 0 && ms > p.durationMs {
		p.positionMs = p.durationMs
	}
	p.mu.Unlock()

	p.onChange()
	return nil
}

// SetVolume applies a volume in [0, 1]
func (p *PlaybackSession) SetVolume(ctx context.Context, volume float64) error {
	if volume < 0 || volume > 1 {
		return invalidArgument("setVolume", "volume %.2f outside [0, 1]", volume)
	}
	if state := p.State(); !state.active() {
		return transition("setVolume", state, ErrNotPlaying)
	}

	err := p.invoke.do(ctx, "setVolume", func(ctx context.Context) error {
		return p.engine.SetVolume(ctx, volume)
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()

	p.onChange()
	return nil
}

// SetSpeed applies a tempo factor in (0, 4]
func (p *PlaybackSession) SetSpeed(ctx context.Context, speed float64) error {
	if speed <= 0 || speed > maxSpeed {
		return invalidArgument("setSpeed", "speed %.2f outside (0, %.0f]", speed, maxSpeed)
	}
	if state := p.State(); !state.active() {
		return transition("setSpeed", state, ErrNotPlaying)
	}

	err := p.invoke.do(ctx, "setPlaybackSpeed", func(ctx context.Context) error {
		return p.engine.SetPlaybackSpeed(ctx, speed)
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.speed = speed
	p.mu.Unlock()

	p.onChange()
	return nil
}

// teardown stops any non-idle playback and forces Idle even if the engine fails
func (p *PlaybackSession) teardown(ctx context.Context) error {
	err := p.Stop(ctx)
	if err != nil {
		p.toIdle()
	}
	return err
}

func (p *PlaybackSession) toIdle() {
	p.mu.Lock()
	p.state = PlaybackIdle
	p.uri = ""
	p.positionMs = 0
	p.durationMs = 0
	p.mu.Unlock()

	p.onChange()
}

func (p *PlaybackSession) setState(state PlaybackState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	p.onChange()
}

// onProgress records the position, then handles end of media. With loop the
// player is sent back to 0 and stays Playing; without it the session moves
// to Finished and the engine is left alone.
func (p *PlaybackSession) onProgress(gen uint64, ev audio.ProgressEvent) {
	p.mu.Lock()
	if p.state != PlaybackPlaying || !p.bridge.current(audio.PlayChannel, gen) {
		p.mu.Unlock()
		return
	}

	p.positionMs = ev.PositionMs
	if ev.DurationMs > 0 {
		p.durationMs = ev.DurationMs
	}

	ended := ev.DurationMs > 0 && ev.PositionMs >= ev.DurationMs
	loop := p.loop
	if ended && loop == LoopNone {
		p.state = PlaybackFinished
	}
	p.mu.Unlock()

	p.onChange()

	if ended && loop == LoopRepeatOne {
		p.rewind(gen)
	}
}

// rewind runs on the engine's event goroutine, outside the command lock.
// A rewind for a subscription that has since been replaced is dropped.
func (p *PlaybackSession) rewind(gen uint64) {
	if !p.bridge.current(audio.PlayChannel, gen) {
		return
	}

	err := p.invoke.do(context.Background(), "seekToPlayer", func(ctx context.Context) error {
		return p.engine.SeekToPlayer(ctx, 0)
	})
	if err != nil {
		slog.Error("Loop rewind failed", "error", err)
		return
	}

	p.mu.Lock()
	if p.state == PlaybackPlaying && p.bridge.current(audio.PlayChannel, gen) {
		p.positionMs = 0
	}
	p.mu.Unlock()

	p.onChange()
}

func (p *PlaybackSession) fill(s *Snapshot) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s.IsPlaying = p.state.active()
	s.PlayPaused = p.state == PlaybackPaused
	s.PlaybackState = p.state.String()
	s.PlayPositionMs = p.positionMs
	s.PlayDurationMs = p.durationMs
	s.PlayPositionLabel = audio.FormatMillis(p.positionMs)
	s.PlayDurationLabel = audio.FormatMillis(p.durationMs)
	s.Loop = p.loop == LoopRepeatOne
	s.Volume = p.volume
	s.Speed = p.speed
	s.PlayingURI = p.uri
}
