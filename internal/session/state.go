package session

import (
	"context"
	"time"
)

// RecordingState is the recording state machine position
type RecordingState int

const (
	RecordingIdle RecordingState = iota
	RecordingActive
	RecordingPaused
)

func (s RecordingState) String() string {
	switch s {
	case RecordingActive:
		return "recording"
	case RecordingPaused:
		return "paused"
	default:
		return "idle"
	}
}

// PlaybackState is the playback state machine position
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackPlaying
	PlaybackPaused
	// PlaybackFinished is reached when media ends without loop. The engine
	// player is not stopped and the last position stays visible.
	PlaybackFinished
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackPlaying:
		return "playing"
	case PlaybackPaused:
		return "paused"
	case PlaybackFinished:
		return "finished"
	default:
		return "idle"
	}
}

func (s PlaybackState) active() bool {
	return s == PlaybackPlaying || s == PlaybackPaused
}

// LoopMode selects what happens when playback reaches the end
type LoopMode int

const (
	LoopNone LoopMode = iota
	LoopRepeatOne
)

func (m LoopMode) String() string {
	if m == LoopRepeatOne {
		return "repeat-one"
	}
	return "none"
}

func loopModeOf(loop bool) LoopMode {
	if loop {
		return LoopRepeatOne
	}
	return LoopNone
}

// invoker runs engine calls with an optional bound and types their failures
type invoker struct {
	timeout time.Duration
}

func (i invoker) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	if err := call(ctx); err != nil {
		return classify(op, err)
	}
	return nil
}
