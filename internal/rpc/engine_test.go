package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/protocol"
)

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistry_LastConnectionWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first := NewChannel(newFakeConn())
	second := NewChannel(newFakeConn())

	assert.Nil(t, r.Register("b1", first))
	assert.Same(t, first, r.Register("b1", second))

	got, ok := r.Get("b1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Len())

	// Re-registering the same channel reports no replacement.
	assert.Nil(t, r.Register("b1", second))
}

func TestRegistry_StaleRemoveKeepsReplacement(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	stale := NewChannel(newFakeConn())
	live := NewChannel(newFakeConn())

	r.Register("b1", stale)
	r.Register("b1", live)

	assert.False(t, r.Remove("b1", stale))
	got, ok := r.Get("b1")
	require.True(t, ok)
	assert.Same(t, live, got)

	assert.True(t, r.Remove("b1", live))
	_, ok = r.Get("b1")
	assert.False(t, ok)
	assert.False(t, r.Remove("b1", live))
}

func TestRegistry_ConnectedSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, id := range []string{"b3", "b1", "b2"} {
		r.Register(id, NewChannel(newFakeConn()))
	}
	assert.Equal(t, []string{"b1", "b2", "b3"}, r.Connected())

	var visited []string
	r.Each(func(id string, _ *Channel) { visited = append(visited, id) })
	assert.Equal(t, []string{"b1", "b2", "b3"}, visited)
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

func TestEngineQuery_NotConnected(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewRegistry())

	_, err := e.Query(context.Background(), "b1", protocol.QueryCards)
	require.ErrorIs(t, err, ErrNotConnected)

	err = e.Emit(context.Background(), "b1", protocol.EventSelectCard, nil)
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = Call(context.Background(), e.Board("b1"), protocol.Cards, protocol.NoParams{})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestEngineQuery_RoutesByBoard(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	e := NewEngine(reg)
	conn1, conn2 := newFakeConn(), newFakeConn()
	reg.Register("b1", NewChannel(conn1))
	ch2 := NewChannel(conn2)
	reg.Register("b2", ch2)

	out := make(chan queryOutcome, 1)
	go func() {
		data, err := e.Query(context.Background(), "b2", protocol.QueryGetBoardInfo)
		out <- queryOutcome{data: data, err: err}
	}()

	req := nextQuery(t, conn2)
	assert.Empty(t, conn1.Frames())
	ch2.Resolve(protocol.QueryResponse{RequestID: req.RequestID, Response: json.RawMessage(`{"boardId":"b2","name":"Two"}`)})

	o := awaitOutcome(t, out)
	require.NoError(t, o.err)
	assert.JSONEq(t, `{"boardId":"b2","name":"Two"}`, string(o.data))
}

func TestCall_DecodesTypedResult(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	e := NewEngine(reg)
	conn := newFakeConn()
	ch := NewChannel(conn)
	reg.Register("b1", ch)

	type cardsOutcome struct {
		cards []domain.Card
		err   error
	}
	out := make(chan cardsOutcome, 1)
	go func() {
		cards, err := Call(context.Background(), e.Board("b1"), protocol.Cards, protocol.NoParams{})
		out <- cardsOutcome{cards: cards, err: err}
	}()

	req := nextQuery(t, conn)
	assert.Equal(t, protocol.QueryCards, req.Name)
	assert.JSONEq(t, `[]`, string(req.Data))
	ch.Resolve(protocol.QueryResponse{
		RequestID: req.RequestID,
		Response:  json.RawMessage(`[{"miroLink":"m1","boardId":"b1","title":"A"},{"miroLink":"m2","boardId":"b1","title":"B"}]`),
	})

	o := <-out
	require.NoError(t, o.err)
	require.Len(t, o.cards, 2)
	assert.Equal(t, "m1", o.cards[0].MiroLink)
	assert.Equal(t, "B", o.cards[1].Title)
}

func TestCall_DecodeError(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ch := NewChannel(conn)

	out := make(chan error, 1)
	go func() {
		_, err := Call(context.Background(), ch, protocol.GetBoardInfo, protocol.NoParams{})
		out <- err
	}()

	req := nextQuery(t, conn)
	ch.Resolve(protocol.QueryResponse{RequestID: req.RequestID, Response: json.RawMessage(`"not an object"`)})

	err := <-out
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode result")
}

func TestEngineBroadcast(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	e := NewEngine(reg)
	conn1, conn2 := newFakeConn(), newFakeConn()
	reg.Register("b1", NewChannel(conn1))
	closed := NewChannel(conn2)
	closed.Close()
	reg.Register("b2", closed)

	sent := e.Broadcast(context.Background(), protocol.EventCardStatus, protocol.CardStatusUpdate{
		MiroLink: "m1",
		Status:   domain.CardStatusDisconnected,
	})
	assert.Equal(t, 1, sent)
	require.Len(t, conn1.Frames(), 1)
	assert.Empty(t, conn2.Frames())
}
