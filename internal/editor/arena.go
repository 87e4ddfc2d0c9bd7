// Package editor tracks open editor sessions and the cards anchored in the
// file each one shows.
package editor

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/appexplorer/internal/cardstore"
	"github.com/gosuda/appexplorer/internal/domain"
)

// ErrInvalidSession is returned for session ids that are not UUIDs.
var ErrInvalidSession = errors.New("editor: invalid session id") //nolint:gochecknoglobals // sentinel error

// Session is one editor showing one file.
type Session struct {
	ID    string        `json:"id"`
	Path  string        `json:"path"`
	Cards []domain.Card `json:"cards"`
}

// Arena maps editor sessions to the cards in their file. It refreshes every
// session when the store changes.
type Arena struct {
	store *cardstore.Store

	mu       sync.RWMutex
	sessions map[string]*Session

	unsubscribe func()
}

func NewArena(store *cardstore.Store) *Arena {
	a := &Arena{
		store:    store,
		sessions: make(map[string]*Session),
	}
	a.unsubscribe = store.Subscribe(a.refresh)
	return a
}

// NewSessionID returns a fresh session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Open points sessionID at path, creating the session if needed, and
// returns the cards anchored there.
func (a *Arena) Open(sessionID, path string) ([]domain.Card, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("editor.Arena.Open(%q): %w", sessionID, ErrInvalidSession)
	}

	cards := a.store.CardsByPath(path)

	a.mu.Lock()
	a.sessions[sessionID] = &Session{ID: sessionID, Path: path, Cards: cards}
	a.mu.Unlock()

	return slices.Clone(cards), nil
}

// Session returns a copy of the session.
func (a *Arena) Session(sessionID string) (Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return Session{ID: s.ID, Path: s.Path, Cards: slices.Clone(s.Cards)}, true
}

// Cards returns the cards in sessionID's file.
func (a *Arena) Cards(sessionID string) ([]domain.Card, bool) {
	s, ok := a.Session(sessionID)
	return s.Cards, ok
}

// CardForWord finds the card in sessionID's file whose title is word.
func (a *Arena) CardForWord(sessionID, word string) (domain.Card, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.sessions[sessionID]
	if !ok || word == "" {
		return domain.Card{}, false
	}
	for _, c := range s.Cards {
		if c.Title == word {
			return c.Clone(), true
		}
	}
	return domain.Card{}, false
}

// Close forgets sessionID.
func (a *Arena) Close(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	return ok
}

// Len returns the number of open sessions.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

// Stop detaches the arena from the store.
func (a *Arena) Stop() {
	a.unsubscribe()
}

func (a *Arena) refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range a.sessions {
		s.Cards = a.store.CardsByPath(s.Path)
	}
}

// HoverMarkdown is the hover text shown for card in an editor.
func HoverMarkdown(card domain.Card) string {
	return fmt.Sprintf("Miro: [%s](%s)\n", card.Title, card.MiroLink)
}
