package client

import (
	"sync"

	"github.com/dkeye/wtn/internal/domain"
	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventConnected         EventKind = "connected"
	EventDisconnected      EventKind = "disconnected"
	EventUserJoined        EventKind = "user-joined"
	EventUserLeft          EventKind = "user-left"
	EventStreamPublished   EventKind = "stream-published"
	EventStreamUnpublished EventKind = "stream-unpublished"
)

// Event is a room notification as seen by the application. Remote is set for
// stream events and for user-left when the user had a registered stream.
type Event struct {
	Kind   EventKind
	User   domain.UserID
	Room   domain.RoomName
	Stream domain.StreamID
	Remote *RemoteStream
}

type bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

func (b *bus) listen(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

// emit never blocks. A listener that fell behind loses the event.
func (b *bus) emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("module", "client").Int("listener", id).Str("event", string(ev.Kind)).Msg("listener full, event dropped")
		}
	}
}

func (b *bus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
