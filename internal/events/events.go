// Package events carries lifecycle notifications from the board transport
// to presentation collaborators inside the authority process.
package events

import (
	"slices"
	"sync"

	"github.com/gosuda/appexplorer/internal/domain"
)

// Event is one of Connect, Disconnect, NavigateToCard or UpdateCard.
type Event interface {
	// Type returns the wire-friendly variant name.
	Type() string
	isEvent()
}

// Connect fires once a board channel is registered and its cards synced.
type Connect struct {
	Board domain.BoardInfo `json:"boardInfo"`
}

// Disconnect fires when a board's registered channel closes.
type Disconnect struct {
	BoardID string `json:"boardId"`
}

// NavigateToCard fires when a board asks to jump to a card's source.
type NavigateToCard struct {
	Card domain.Card `json:"card"`
}

// UpdateCard fires when a board reports a card change. A nil Card is a delete.
type UpdateCard struct {
	MiroLink string       `json:"miroLink"`
	Card     *domain.Card `json:"card"`
}

func (Connect) Type() string        { return "connect" }
func (Disconnect) Type() string     { return "disconnect" }
func (NavigateToCard) Type() string { return "navigateToCard" }
func (UpdateCard) Type() string     { return "updateCard" }

func (Connect) isEvent()        {}
func (Disconnect) isEvent()     {}
func (NavigateToCard) isEvent() {}
func (UpdateCard) isEvent()     {}

// Handler receives published events.
type Handler func(Event)

// Bus fans events out to subscribers synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []subscription
	nextID   int
}

type subscription struct {
	id int
	fn Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers = slices.DeleteFunc(b.handlers, func(s subscription) bool { return s.id == id })
	}
}

// Publish delivers ev to every current subscriber on the caller's goroutine.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := slices.Clone(b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h.fn(ev)
	}
}

// Len returns the number of current subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
