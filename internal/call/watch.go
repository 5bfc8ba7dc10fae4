package call

import (
	"sync"

	"skillswap/native/internal/domain"
)

// Snapshot is the observable state of a session at one point in time.
type Snapshot struct {
	Version uint64
	State   domain.NegotiatorState
	Status  domain.ConnectionStatus
	Media   domain.LocalMediaState
	Remote  *domain.RemoteStream
	Err     error
}

// watchers delivers snapshots with latest-wins semantics: a slow reader only
// ever sees the newest snapshot, and never an older one after a newer one.
type watchers struct {
	mu     sync.Mutex
	subs   map[chan Snapshot]struct{}
	last   Snapshot
	closed bool
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[chan Snapshot]struct{})}
}

// add registers a watcher primed with the latest snapshot.
func (w *watchers) add() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		ch <- w.last
		close(ch)
		return ch, func() {}
	}
	ch <- w.last
	w.subs[ch] = struct{}{}

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.subs[ch]; ok {
			delete(w.subs, ch)
			close(ch)
		}
	}
}

func (w *watchers) publish(s Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || s.Version < w.last.Version {
		return
	}
	w.last = s
	for ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// close publishes a final snapshot and closes every watcher.
func (w *watchers) close(final Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if final.Version >= w.last.Version {
		w.last = final
	}
	for ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		ch <- w.last
		close(ch)
	}
	w.subs = nil
	w.closed = true
}
