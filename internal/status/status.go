// Package status renders the one-line summary shown in the editor status bar.
package status

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/domain"
)

// Source is the part of the card store the summary reads.
type Source interface {
	TotalCards() int
	BoardIDs() []string
	CardsByPath(path string) []domain.Card
}

// Counter reports how many boards are connected.
type Counter interface {
	Len() int
}

type Summary struct {
	Text        string `json:"text"`
	Offline     bool   `json:"offline"`
	Connected   int    `json:"connected"`
	TotalCards  int    `json:"totalCards"`
	Boards      int    `json:"boards"`
	CardsInPath int    `json:"cardsInPath"`
}

// Render builds the summary for the file at path. An empty path means no
// file is active.
func Render(src Source, connected int, path string) Summary {
	s := Summary{
		Offline:    connected == 0,
		Connected:  connected,
		TotalCards: src.TotalCards(),
		Boards:     len(src.BoardIDs()),
	}
	if path != "" {
		s.CardsInPath = len(src.CardsByPath(path))
	}

	switch {
	case s.CardsInPath > 0:
		s.Text = fmt.Sprintf("AppExplorer (%d/%d cards)", s.CardsInPath, s.TotalCards)
	case s.TotalCards > 0:
		s.Text = fmt.Sprintf("AppExplorer (%d cards across %d boards)", s.TotalCards, s.Boards)
	default:
		s.Text = fmt.Sprintf("AppExplorer (%d sockets)", s.Connected)
	}
	return s
}

// Tracker keeps the workspace-wide summary current and logs when its text
// changes.
type Tracker struct {
	src   Source
	conns Counter

	mu   sync.Mutex
	last Summary
}

func NewTracker(src Source, conns Counter) *Tracker {
	t := &Tracker{src: src, conns: conns}
	t.last = Render(src, conns.Len(), "")
	return t
}

// Refresh recomputes the summary. Subscribe it to store and bus changes.
func (t *Tracker) Refresh() {
	s := Render(t.src, t.conns.Len(), "")

	t.mu.Lock()
	prev := t.last
	t.last = s
	t.mu.Unlock()

	if prev.Text != s.Text || prev.Offline != s.Offline {
		log.Info().Str("status", s.Text).Bool("offline", s.Offline).Msg("status: changed")
	}
}

// Current returns the last computed summary.
func (t *Tracker) Current() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
