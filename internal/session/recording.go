package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/audiosession/internal/audio"
)

// RecordingSession drives the engine recorder through Idle, Recording and Paused.
// Guards read the state before the engine call; the state changes only after it returns.
type RecordingSession struct {
	engine   audio.Engine
	bridge   *Bridge
	invoke   invoker
	onChange func()

	mu        sync.RWMutex
	state     RecordingState
	pending   string // capture target of the recording in progress
	uri       string // committed by a successful stop
	hasURI    bool
	elapsedMs uint64
}

func newRecordingSession(engine audio.Engine, bridge *Bridge, invoke invoker, onChange func()) *RecordingSession {
	return &RecordingSession{
		engine:   engine,
		bridge:   bridge,
		invoke:   invoke,
		onChange: onChange,
	}
}

// State returns the current state
func (r *RecordingSession) State() RecordingState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// URI returns the uri committed by the last successful stop
func (r *RecordingSession) URI() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uri, r.hasURI
}

// Start begins a capture with cfg
func (r *RecordingSession) Start(ctx context.Context, cfg audio.RecorderConfig) error {
	if state := r.State(); state != RecordingIdle {
		return transition("startRecording", state, ErrAlreadyRecording)
	}

	r.bridge.Attach(audio.RecordChannel, r.onProgress)

	var target string
	err := r.invoke.do(ctx, "startRecorder", func(ctx context.Context) error {
		var err error
		target, err = r.engine.StartRecorder(ctx, cfg)
		return err
	})
	if err != nil {
		r.bridge.Detach(audio.RecordChannel)
		return err
	}

	r.mu.Lock()
	r.state = RecordingActive
	r.pending = target
	r.elapsedMs = 0
	r.mu.Unlock()

	slog.Debug("Recording started", "target", target)
	r.onChange()
	return nil
}

// Pause suspends the active capture
func (r *RecordingSession) Pause(ctx context.Context) error {
	if state := r.State(); state != RecordingActive {
		return transition("pauseRecording", state, ErrNotRecording)
	}

	if err := r.invoke.do(ctx, "pauseRecorder", r.engine.PauseRecorder); err != nil {
		return err
	}

	r.setState(RecordingPaused)
	return nil
}

// Resume continues a paused capture
func (r *RecordingSession) Resume(ctx context.Context) error {
	if state := r.State(); state != RecordingPaused {
		return transition("resumeRecording", state, ErrNotPaused)
	}

	if err := r.invoke.do(ctx, "resumeRecorder", r.engine.ResumeRecorder); err != nil {
		return err
	}

	r.setState(RecordingActive)
	return nil
}

// Stop ends the capture and commits the uri reported by the engine
func (r *RecordingSession) Stop(ctx context.Context) (string, error) {
	if state := r.State(); state == RecordingIdle {
		return "", transition("stopRecording", state, ErrNotRecording)
	}

	var uri string
	err := r.invoke.do(ctx, "stopRecorder", func(ctx context.Context) error {
		var err error
		uri, err = r.engine.StopRecorder(ctx)
		return err
	})
	if err != nil {
		return "", err
	}

	r.bridge.Detach(audio.RecordChannel)

	r.mu.Lock()
	if uri == "" {
		uri = r.pending
	}
	r.state = RecordingIdle
	r.pending = ""
	r.uri = uri
	r.hasURI = true
	r.mu.Unlock()

	slog.Debug("Recording stopped", "uri", uri)
	r.onChange()
	return uri, nil
}

// Reset returns to Idle from any state and clears the handle and elapsed time.
// A failure of the implicit stop is logged and ignored.
func (r *RecordingSession) Reset(ctx context.Context) {
	if r.State() != RecordingIdle {
		if _, err := r.Stop(ctx); err != nil {
			slog.Warn("Implicit stop during reset failed", "error", err)
		}
	}
	r.bridge.Detach(audio.RecordChannel)

	r.mu.Lock()
	r.state = RecordingIdle
	r.pending = ""
	r.uri = ""
	r.hasURI = false
	r.elapsedMs = 0
	r.mu.Unlock()

	r.onChange()
}

// teardown stops an active capture and forces Idle even if the engine fails
func (r *RecordingSession) teardown(ctx context.Context) error {
	if r.State() == RecordingIdle {
		return nil
	}

	_, err := r.Stop(ctx)
	if err != nil {
		r.setState(RecordingIdle)
	}
	return err
}

func (r *RecordingSession) setState(state RecordingState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
	r.onChange()
}

// onProgress only accepts events of the live subscription while actively recording
func (r *RecordingSession) onProgress(gen uint64, ev audio.ProgressEvent) {
	r.mu.Lock()
	if r.state != RecordingActive || !r.bridge.current(audio.RecordChannel, gen) {
		r.mu.Unlock()
		return
	}
	r.elapsedMs = ev.PositionMs
	r.mu.Unlock()

	r.onChange()
}

func (r *RecordingSession) fill(s *Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s.IsRecording = r.state != RecordingIdle
	s.RecordPaused = r.state == RecordingPaused
	s.RecordingState = r.state.String()
	s.RecordElapsedMs = r.elapsedMs
	s.RecordElapsedLabel = audio.FormatMillis(r.elapsedMs)
	s.RecordingURI = r.uri
}
