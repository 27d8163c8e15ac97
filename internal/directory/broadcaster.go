package directory

import (
	"sync"

	"gitlab.com/voxline/api/voxline-call-directory/internal/observer"
)

// broadcaster fans full-collection snapshots out to subscribers. Every
// emission is a complete replacement of the previous one; there is no diffing.
// Subscriber channels hold a single pending snapshot: when a subscriber lags,
// the stale snapshot is dropped and replaced by the newest (latest wins).
type broadcaster[T any] struct {
	mu        sync.Mutex
	subs      map[int]chan []T
	nextID    int
	latest    []T
	hasLatest bool
	closed    bool

	repository string
	profileID  string
}

func newBroadcaster[T any](repository, profileID string) *broadcaster[T] {
	return &broadcaster[T]{
		subs:       make(map[int]chan []T),
		repository: repository,
		profileID:  profileID,
	}
}

// Subscribe registers a new observer. The current snapshot, if any, is
// delivered immediately. The returned cancel func must be called to release
// the subscription.
func (b *broadcaster[T]) Subscribe() (<-chan []T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []T, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.hasLatest {
		ch <- b.latest
	}
	observer.SetSubscriberCount(b.repository, b.profileID, len(b.subs))

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
			observer.SetSubscriberCount(b.repository, b.profileID, len(b.subs))
		}
	}
	return ch, cancel
}

// Publish replaces the current snapshot and pushes it to every subscriber.
func (b *broadcaster[T]) Publish(snapshot []T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.latest = snapshot
	b.hasLatest = true

	for _, ch := range b.subs {
		select {
		case ch <- snapshot:
		default:
			// Subscriber still holds an unread snapshot; replace it.
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
	observer.IncSnapshotEmission(b.repository, b.profileID, len(snapshot))
}

// Latest returns the most recently published snapshot.
func (b *broadcaster[T]) Latest() ([]T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

// Close closes all subscriber channels. Publish and Subscribe become no-ops.
func (b *broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	observer.SetSubscriberCount(b.repository, b.profileID, 0)
}
