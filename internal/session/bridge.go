package session

import (
	"sync"

	"github.com/audiolibrelab/audiosession/internal/audio"
)

// Bridge owns the single engine listener per progress channel.
// Attach always removes the previous registration first, and every
// registration carries a generation so events from a superseded one are dropped.
type Bridge struct {
	engine audio.Engine

	mu       sync.Mutex
	gens     [2]uint64
	attached [2]bool
}

// Sink receives the events of one subscription. gen identifies it; sinks
// re-check it under their own lock before mutating state.
type Sink func(gen uint64, ev audio.ProgressEvent)

func NewBridge(engine audio.Engine) *Bridge {
	return &Bridge{engine: engine}
}

// Attach routes events on ch to sink, replacing any earlier subscription
func (b *Bridge) Attach(ch audio.Channel, sink Sink) {
	b.Detach(ch)

	b.mu.Lock()
	b.gens[ch]++
	gen := b.gens[ch]
	b.attached[ch] = true
	b.mu.Unlock()

	b.engine.AddListener(ch, func(ev audio.ProgressEvent) {
		if !b.current(ch, gen) {
			return
		}
		sink(gen, ev)
	})
}

// Detach removes the subscription on ch. Detaching an empty channel is a no-op.
func (b *Bridge) Detach(ch audio.Channel) {
	b.mu.Lock()
	wasAttached := b.attached[ch]
	b.attached[ch] = false
	b.gens[ch]++
	b.mu.Unlock()

	if wasAttached {
		b.engine.RemoveListener(ch)
	}
}

// DetachAll removes both subscriptions and never fails
func (b *Bridge) DetachAll() {
	b.Detach(audio.RecordChannel)
	b.Detach(audio.PlayChannel)
}

// Attached reports whether ch has a live subscription
func (b *Bridge) Attached(ch audio.Channel) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached[ch]
}

func (b *Bridge) current(ch audio.Channel, gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached[ch] && b.gens[ch] == gen
}
