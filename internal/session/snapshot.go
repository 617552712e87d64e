package session

import "sync"

// Snapshot is an immutable view of both sessions
type Snapshot struct {
	IsRecording bool `json:"is_recording" yaml:"is_recording"`
	IsPlaying   bool `json:"is_playing" yaml:"is_playing"`
	// IsPaused is true when either the active recording or the active playback is paused
	IsPaused bool `json:"is_paused" yaml:"is_paused"`

	RecordElapsedMs    uint64 `json:"record_elapsed_ms" yaml:"record_elapsed_ms"`
	RecordElapsedLabel string `json:"record_elapsed_label" yaml:"record_elapsed_label"`

	PlayPositionMs    uint64 `json:"play_position_ms" yaml:"play_position_ms"`
	PlayDurationMs    uint64 `json:"play_duration_ms" yaml:"play_duration_ms"`
	PlayPositionLabel string `json:"play_position_label" yaml:"play_position_label"`
	PlayDurationLabel string `json:"play_duration_label" yaml:"play_duration_label"`

	RecordingState string  `json:"recording_state" yaml:"recording_state"`
	PlaybackState  string  `json:"playback_state" yaml:"playback_state"`
	RecordPaused   bool    `json:"record_paused" yaml:"record_paused"`
	PlayPaused     bool    `json:"play_paused" yaml:"play_paused"`
	Loop           bool    `json:"loop" yaml:"loop"`
	Volume         float64 `json:"volume" yaml:"volume"`
	Speed          float64 `json:"speed" yaml:"speed"`
	RecordingURI   string  `json:"recording_uri,omitempty" yaml:"recording_uri,omitempty"`
	PlayingURI     string  `json:"playing_uri,omitempty" yaml:"playing_uri,omitempty"`
}

// notifier fans snapshots out to subscribers. Each subscriber channel holds
// at most one pending snapshot and a newer one replaces it.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Snapshot
	closed bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan Snapshot)}
}

func (n *notifier) subscribe(current func() Snapshot) (<-chan Snapshot, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	ch <- current()

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
}

// publish takes the snapshot under the notifier lock so publications are ordered
func (n *notifier) publish(current func() Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || len(n.subs) == 0 {
		return
	}

	snap := current()
	for _, ch := range n.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
