package telemetry

import (
	"sync"
	"sync/atomic"
)

// Latest keeps the most recent snapshot. It is both a Sink and a Provider.
type Latest struct {
	v atomic.Pointer[Snapshot]
}

func (l *Latest) Publish(s Snapshot) {
	l.v.Store(&s)
}

func (l *Latest) Get() *Snapshot {
	return l.v.Load()
}

// Fanout copies every published snapshot to its subscribers. A subscriber
// whose buffer is full misses the snapshot; the publisher never waits.
type Fanout struct {
	Latest

	mu      sync.Mutex
	subs    map[int]chan Snapshot
	nextID  int
	dropped atomic.Uint64
}

// NewFanout returns a fan-out with no subscribers.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[int]chan Snapshot)}
}

// Subscribe returns a channel of snapshots with the given buffer and a
// function that unsubscribes and closes the channel.
func (f *Fanout) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *Fanout) Publish(s Snapshot) {
	f.Latest.Publish(s)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- s:
		default:
			f.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// behind.
func (f *Fanout) Dropped() uint64 {
	return f.dropped.Load()
}
