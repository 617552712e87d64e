// Package audiotest provides a scriptable audio.Engine for tests.
package audiotest

import (
	"context"
	"sync"

	"github.com/audiolibrelab/audiosession/internal/audio"
)

// Engine operation names as recorded in the call log
const (
	OpStartRecorder    = "StartRecorder"
	OpStopRecorder     = "StopRecorder"
	OpPauseRecorder    = "PauseRecorder"
	OpResumeRecorder   = "ResumeRecorder"
	OpStartPlayer      = "StartPlayer"
	OpPausePlayer      = "PausePlayer"
	OpResumePlayer     = "ResumePlayer"
	OpStopPlayer       = "StopPlayer"
	OpSeekToPlayer     = "SeekToPlayer"
	OpSetVolume        = "SetVolume"
	OpSetPlaybackSpeed = "SetPlaybackSpeed"
)

// Engine records every call and fails or hangs operations on request.
// It keeps no audio state of its own.
type Engine struct {
	mu sync.Mutex

	calls     []string
	errs      map[string]error
	hangs     map[string]bool
	listeners [2]audio.Listener

	startURI *string
	stopURI  *string

	// OnCall runs after an operation is logged and before it returns
	OnCall func(op string)

	LastRecorderConfig audio.RecorderConfig
	LastPlayerURI      string
	LastSeekMs         uint64
	Volume             float64
	Speed              float64
}

// NewEngine returns a fake engine whose operations all succeed
func NewEngine() *Engine {
	return &Engine{
		errs:   make(map[string]error),
		hangs:  make(map[string]bool),
		Volume: 1,
		Speed:  1,
	}
}

// Fail makes op return err until Clear is called. A nil err clears.
func (e *Engine) Fail(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.errs, op)
		return
	}
	e.errs[op] = err
}

// Hang makes op block until its context is done
func (e *Engine) Hang(op string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hangs[op] = true
}

// Clear removes every scripted failure and hang
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = make(map[string]error)
	e.hangs = make(map[string]bool)
}

// SetStartResult overrides the uri returned by StartRecorder
func (e *Engine) SetStartResult(uri string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startURI = &uri
}

// SetStopResult overrides the uri returned by StopRecorder
func (e *Engine) SetStopResult(uri string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopURI = &uri
}

// Calls returns a copy of the call log
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// CallCount returns how many times op was invoked
func (e *Engine) CallCount(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, c := range e.calls {
		if c == op {
			n++
		}
	}
	return n
}

// ResetCalls empties the call log
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

// HasListener reports whether a listener is registered on ch
func (e *Engine) HasListener(ch audio.Channel) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listeners[ch] != nil
}

// Listener returns the listener registered on ch
func (e *Engine) Listener(ch audio.Channel) audio.Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listeners[ch]
}

// Emit delivers a progress event to the listener on ch, if any.
// It reports whether a listener received it.
func (e *Engine) Emit(ch audio.Channel, positionMs, durationMs uint64) bool {
	e.mu.Lock()
	l := e.listeners[ch]
	e.mu.Unlock()

	if l == nil {
		return false
	}
	l(audio.ProgressEvent{Channel: ch, PositionMs: positionMs, DurationMs: durationMs})
	return true
}

func (e *Engine) AddListener(ch audio.Channel, l audio.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[ch] = l
}

func (e *Engine) RemoveListener(ch audio.Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[ch] = nil
}

func (e *Engine) call(ctx context.Context, op string, apply func()) error {
	e.mu.Lock()
	e.calls = append(e.calls, op)
	err := e.errs[op]
	if err == nil {
		// Like a real engine, a call made on a finished context fails
		err = ctx.Err()
	}
	hang := e.hangs[op]
	hook := e.OnCall
	if err == nil && !hang && apply != nil {
		apply()
	}
	e.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (e *Engine) StartRecorder(ctx context.Context, cfg audio.RecorderConfig) (string, error) {
	uri := cfg.OutputFile
	err := e.call(ctx, OpStartRecorder, func() {
		e.LastRecorderConfig = cfg
		if e.startURI != nil {
			uri = *e.startURI
		}
	})
	if err != nil {
		return "", err
	}
	return uri, nil
}

func (e *Engine) StopRecorder(ctx context.Context) (string, error) {
	var uri string
	err := e.call(ctx, OpStopRecorder, func() {
		uri = e.LastRecorderConfig.OutputFile
		if e.stopURI != nil {
			uri = *e.stopURI
		}
	})
	if err != nil {
		return "", err
	}
	return uri, nil
}

func (e *Engine) PauseRecorder(ctx context.Context) error {
	return e.call(ctx, OpPauseRecorder, nil)
}

func (e *Engine) ResumeRecorder(ctx context.Context) error {
	return e.call(ctx, OpResumeRecorder, nil)
}

func (e *Engine) StartPlayer(ctx context.Context, uri string) error {
	return e.call(ctx, OpStartPlayer, func() { e.LastPlayerURI = uri })
}

func (e *Engine) PausePlayer(ctx context.Context) error {
	return e.call(ctx, OpPausePlayer, nil)
}

func (e *Engine) ResumePlayer(ctx context.Context) error {
	return e.call(ctx, OpResumePlayer, nil)
}

func (e *Engine) StopPlayer(ctx context.Context) error {
	return e.call(ctx, OpStopPlayer, nil)
}

func (e *Engine) SeekToPlayer(ctx context.Context, ms uint64) error {
	return e.call(ctx, OpSeekToPlayer, func() { e.LastSeekMs = ms })
}

func (e *Engine) SetVolume(ctx context.Context, volume float64) error {
	return e.call(ctx, OpSetVolume, func() { e.Volume = volume })
}

func (e *Engine) SetPlaybackSpeed(ctx context.Context, speed float64) error {
	return e.call(ctx, OpSetPlaybackSpeed, func() { e.Speed = speed })
}

var _ audio.Engine = (*Engine)(nil)
