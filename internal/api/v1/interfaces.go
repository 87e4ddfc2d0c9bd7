package v1

import (
	"context"

	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/reconcile"
	"github.com/gosuda/appexplorer/internal/rpc"
)

// CardStore abstracts the card registry for handler testing.
// *cardstore.Store satisfies this interface.
type CardStore interface {
	Board(id string) (domain.Board, bool)
	BoardIDs() []string
	WorkspaceBoards() []string
	SetWorkspaceBoards(ids []string)
	AllCards() []domain.Card
	CardsByPath(path string) []domain.Card
	CardByLink(link string) (domain.Card, bool)
	DeleteCardByLink(link string) bool
	SetBoardCards(boardID string, cards []domain.Card) (rejected int)
	TotalCards() int
	Clear()
}

// BoardLink reaches boards over their live channels.
// *rpc.Engine satisfies this interface.
type BoardLink interface {
	Connected() []string
	Emit(ctx context.Context, boardID, event string, payload any) error
	Board(boardID string) rpc.Querier
}

// Navigator resolves a card's anchor and records its status.
// *reconcile.Reconciler satisfies this interface.
type Navigator interface {
	Navigate(ctx context.Context, card domain.Card) (reconcile.Location, bool, error)
}

// Editors tracks which file each editor session shows.
// *editor.Arena satisfies this interface.
type Editors interface {
	Open(sessionID, path string) ([]domain.Card, error)
	CardForWord(sessionID, word string) (domain.Card, bool)
	Close(sessionID string) bool
}
