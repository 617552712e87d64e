package audio

import (
	"context"
	"fmt"
)

// Channel identifies one of the engine's progress event streams
type Channel int

const (
	RecordChannel Channel = iota
	PlayChannel
)

func (c Channel) String() string {
	switch c {
	case RecordChannel:
		return "record"
	case PlayChannel:
		return "play"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ProgressEvent is a periodic position report. DurationMs is always zero on the record channel.
type ProgressEvent struct {
	Channel    Channel
	PositionMs uint64
	DurationMs uint64
}

// Listener receives progress events. It is invoked from engine goroutines
// without any engine lock held, so it may call back into the engine.
type Listener func(ProgressEvent)

// RecorderConfig describes the capture target handed to StartRecorder
type RecorderConfig struct {
	OutputFile string
	SampleRate int
	Channels   int
	Format     string
	Source     string
}

// Engine is the native capture/playback primitive set driven by the session controller.
//
// Every operation blocks until the underlying native call resolves or ctx is done.
// At most one listener is registered per channel; AddListener on an occupied
// channel is undefined, callers must RemoveListener first.
type Engine interface {
	StartRecorder(ctx context.Context, cfg RecorderConfig) (string, error)
	StopRecorder(ctx context.Context) (string, error)
	PauseRecorder(ctx context.Context) error
	ResumeRecorder(ctx context.Context) error

	StartPlayer(ctx context.Context, uri string) error
	PausePlayer(ctx context.Context) error
	ResumePlayer(ctx context.Context) error
	StopPlayer(ctx context.Context) error
	SeekToPlayer(ctx context.Context, ms uint64) error
	SetVolume(ctx context.Context, volume float64) error
	SetPlaybackSpeed(ctx context.Context, speed float64) error

	AddListener(ch Channel, l Listener)
	RemoveListener(ch Channel)
}

// FormatMillis renders a position as mm:ss:cc (minutes, seconds, centiseconds).
// Minutes are not wrapped at 60.
func FormatMillis(ms uint64) string {
	secs := ms / 1000
	minutes := secs / 60
	seconds := secs % 60
	centis := (ms % 1000) / 10
	return fmt.Sprintf("%02d:%02d:%02d", minutes, seconds, centis)
}
