package v1_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/appexplorer/internal/cardstore"
	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/protocol"
	"github.com/gosuda/appexplorer/internal/reconcile"
	"github.com/gosuda/appexplorer/internal/rpc"
	"github.com/gosuda/appexplorer/internal/store/memory"
)

// ---------------------------------------------------------------------------
// Card store backed by the in-memory KV
// ---------------------------------------------------------------------------

func newStore(t *testing.T) *cardstore.Store {
	t.Helper()

	s, err := cardstore.Open(context.Background(), memory.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func seedBoard(t *testing.T, s *cardstore.Store, id, name string, cards ...domain.Card) {
	t.Helper()

	s.AddBoard(id, name)
	require.Zero(t, s.SetBoardCards(id, cards))
}

func card(link, path string) domain.Card {
	return domain.Card{
		MiroLink: link,
		Title:    "card-" + link,
		Path:     path,
		Type:     domain.CardTypeSymbol,
		Status:   domain.CardStatusConnected,
	}
}

// ---------------------------------------------------------------------------
// Mock BoardLink
// ---------------------------------------------------------------------------

type mockBoards struct {
	connectedFunc func() []string
	emitFunc      func(ctx context.Context, boardID, event string, payload any) error
	queryFunc     func(ctx context.Context, boardID string, name protocol.QueryName, args ...any) (json.RawMessage, error)
}

func (m *mockBoards) Connected() []string {
	if m.connectedFunc == nil {
		return nil
	}
	return m.connectedFunc()
}

func (m *mockBoards) Emit(ctx context.Context, boardID, event string, payload any) error {
	return m.emitFunc(ctx, boardID, event, payload)
}

func (m *mockBoards) Board(boardID string) rpc.Querier {
	return querierFunc(func(ctx context.Context, name protocol.QueryName, args ...any) (json.RawMessage, error) {
		return m.queryFunc(ctx, boardID, name, args...)
	})
}

type querierFunc func(ctx context.Context, name protocol.QueryName, args ...any) (json.RawMessage, error)

func (f querierFunc) Query(ctx context.Context, name protocol.QueryName, args ...any) (json.RawMessage, error) {
	return f(ctx, name, args...)
}

// ---------------------------------------------------------------------------
// Mock Navigator
// ---------------------------------------------------------------------------

type mockNavigator struct {
	navigateFunc func(ctx context.Context, card domain.Card) (reconcile.Location, bool, error)
}

func (m *mockNavigator) Navigate(ctx context.Context, card domain.Card) (reconcile.Location, bool, error) {
	return m.navigateFunc(ctx, card)
}
