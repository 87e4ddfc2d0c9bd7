package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/appexplorer/internal/api/ws"
	"github.com/gosuda/appexplorer/internal/cardstore"
	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/events"
	"github.com/gosuda/appexplorer/internal/protocol"
	"github.com/gosuda/appexplorer/internal/rpc"
	"github.com/gosuda/appexplorer/internal/store/memory"
)

// ---------------------------------------------------------------------------
// Test harness
// ---------------------------------------------------------------------------

type harness struct {
	store    *cardstore.Store
	registry *rpc.Registry
	bus      *events.Bus
	server   *httptest.Server

	mu     sync.Mutex
	events []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s, err := cardstore.Open(context.Background(), memory.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	h := &harness{store: s, registry: rpc.NewRegistry(), bus: events.NewBus()}
	h.bus.Subscribe(func(ev events.Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})

	hub := ws.NewHub(s, h.registry, h.bus, ws.WithQueryTimeout(2*time.Second))
	r := chi.NewRouter()
	r.Get("/ws/board", hub.ServeBoard)
	r.Get("/ws/events", hub.ServeEvents)
	h.server = httptest.NewServer(r)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) url(path string) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + path
}

func (h *harness) count(typ string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.events {
		if ev.Type() == typ {
			n++
		}
	}
	return n
}

func (h *harness) last(typ string) events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].Type() == typ {
			return h.events[i]
		}
	}
	return nil
}

// fakeBoard plays the board side of the protocol.
type fakeBoard struct {
	conn   *websocket.Conn
	info   domain.BoardInfo
	cards  []domain.Card
	frames chan protocol.Frame
}

func dialBoard(t *testing.T, h *harness, info domain.BoardInfo, cards []domain.Card) *fakeBoard {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, h.url("/ws/board"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	b := &fakeBoard{conn: conn, info: info, cards: cards, frames: make(chan protocol.Frame, 16)}
	go b.serve()
	return b
}

func (b *fakeBoard) serve() {
	ctx := context.Background()
	for {
		var f protocol.Frame
		if err := wsjson.Read(ctx, b.conn, &f); err != nil {
			close(b.frames)
			return
		}
		if f.Event != protocol.EventQuery {
			b.frames <- f
			continue
		}

		var req protocol.QueryRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			continue
		}
		var payload any
		switch req.Name {
		case protocol.QueryGetBoardInfo:
			payload = b.info
		case protocol.QueryCards:
			payload = b.cards
		}
		raw, _ := json.Marshal(payload)
		_ = wsjson.Write(ctx, b.conn, protocol.Frame{
			Event: protocol.EventQueryResult,
			Data:  mustJSON(protocol.QueryResponse{RequestID: req.RequestID, Response: raw}),
		})
	}
}

func (b *fakeBoard) send(t *testing.T, event string, payload any) {
	t.Helper()
	require.NoError(t, wsjson.Write(context.Background(), b.conn, protocol.Frame{Event: event, Data: mustJSON(payload)}))
}

func (b *fakeBoard) close() {
	_ = b.conn.Close(websocket.StatusNormalClosure, "bye")
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func teamCards() []domain.Card {
	return []domain.Card{
		{MiroLink: "https://miro.com/app/board/b1/?moveToWidget=1", Title: "Login", Path: "src/auth.go", Symbol: "Login", Type: domain.CardTypeSymbol},
		{MiroLink: "https://miro.com/app/board/b1/?moveToWidget=2", Title: "Logout", Path: "src/auth.go", Symbol: "Logout", Type: domain.CardTypeSymbol},
		{MiroLink: "https://miro.com/app/board/b1/?moveToWidget=3", Title: "Auth", Type: domain.CardTypeGroup},
	}
}

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

// ---------------------------------------------------------------------------
// Board lifecycle
// ---------------------------------------------------------------------------

func TestServeBoard_ConnectSyncDisconnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := dialBoard(t, h, domain.BoardInfo{ID: "b1", Name: "Team Board"}, teamCards())

	require.Eventually(t, func() bool { return h.count("connect") == 1 }, waitFor, tick)

	connect, ok := h.last("connect").(events.Connect)
	require.True(t, ok)
	assert.Equal(t, domain.BoardInfo{ID: "b1", Name: "Team Board"}, connect.Board)

	board, ok := h.store.Board("b1")
	require.True(t, ok)
	assert.Equal(t, "Team Board", board.Name)
	assert.Len(t, board.Cards, 3)
	for _, c := range board.Cards {
		assert.Equal(t, "b1", c.BoardID)
	}
	assert.Equal(t, []string{"b1"}, h.registry.Connected())

	b.close()
	require.Eventually(t, func() bool { return h.count("disconnect") == 1 }, waitFor, tick)
	assert.Equal(t, 0, h.registry.Len())

	// Cards outlive the connection.
	assert.Equal(t, 3, h.store.TotalCards())
}

func TestServeBoard_ReconnectKeepsNewerChannel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	info := domain.BoardInfo{ID: "b1", Name: "Team Board"}

	first := dialBoard(t, h, info, teamCards())
	require.Eventually(t, func() bool { return h.count("connect") == 1 }, waitFor, tick)
	second := dialBoard(t, h, domain.BoardInfo{ID: "b1", Name: "Renamed"}, teamCards())
	require.Eventually(t, func() bool { return h.count("connect") == 2 }, waitFor, tick)

	board, _ := h.store.Board("b1")
	assert.Equal(t, "Renamed", board.Name)
	assert.Equal(t, []string{"b1"}, h.store.BoardIDs())

	first.close()
	// Give the stale channel time to finish closing.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.count("disconnect"))
	assert.Equal(t, 1, h.registry.Len())

	second.close()
	require.Eventually(t, func() bool { return h.count("disconnect") == 1 }, waitFor, tick)
	assert.Equal(t, 0, h.registry.Len())
}

func TestServeBoard_BoardEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := dialBoard(t, h, domain.BoardInfo{ID: "b1", Name: "Team Board"}, teamCards())
	require.Eventually(t, func() bool { return h.count("connect") == 1 }, waitFor, tick)

	nav := domain.Card{MiroLink: "m1", Title: "Login", Path: "src/auth.go"}
	b.send(t, protocol.EventNavigateTo, nav)
	require.Eventually(t, func() bool { return h.count("navigateToCard") == 1 }, waitFor, tick)
	got, ok := h.last("navigateToCard").(events.NavigateToCard)
	require.True(t, ok)
	assert.Equal(t, "m1", got.Card.MiroLink)
	assert.Equal(t, "b1", got.Card.BoardID)

	b.send(t, protocol.EventCard, protocol.CardUpdate{URL: "m1"})
	require.Eventually(t, func() bool { return h.count("updateCard") == 1 }, waitFor, tick)
	upd, ok := h.last("updateCard").(events.UpdateCard)
	require.True(t, ok)
	assert.Equal(t, "m1", upd.MiroLink)
	assert.Nil(t, upd.Card)

	b.send(t, protocol.EventCard, protocol.CardUpdate{URL: "m2", Card: &domain.Card{MiroLink: "m2", Title: "New"}})
	require.Eventually(t, func() bool { return h.count("updateCard") == 2 }, waitFor, tick)
	upd, _ = h.last("updateCard").(events.UpdateCard)
	require.NotNil(t, upd.Card)
	assert.Equal(t, "b1", upd.Card.BoardID)
}

func TestServeBoard_EngineReachesBoard(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := dialBoard(t, h, domain.BoardInfo{ID: "b1", Name: "Team Board"}, teamCards())
	require.Eventually(t, func() bool { return h.count("connect") == 1 }, waitFor, tick)

	engine := rpc.NewEngine(h.registry)
	cards, err := rpc.Call(context.Background(), engine.Board("b1"), protocol.Cards, protocol.NoParams{})
	require.NoError(t, err)
	assert.Len(t, cards, 3)

	require.NoError(t, engine.Emit(context.Background(), "b1", protocol.EventHoverCard, "m1"))
	select {
	case f := <-b.frames:
		assert.Equal(t, protocol.EventHoverCard, f.Event)
		assert.JSONEq(t, `"m1"`, string(f.Data))
	case <-time.After(waitFor):
		t.Fatal("hoverCard not delivered")
	}
}

func TestServeBoard_HandshakeRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := dialBoard(t, h, domain.BoardInfo{Name: "No Id"}, nil)

	// The server closes the socket, which ends the fake board's reader.
	select {
	case _, open := <-b.frames:
		assert.False(t, open)
	case <-time.After(waitFor):
		t.Fatal("connection not closed")
	}
	assert.Equal(t, 0, h.registry.Len())
	assert.Equal(t, 0, h.count("connect"))
}

// ---------------------------------------------------------------------------
// Event feed
// ---------------------------------------------------------------------------

func TestServeEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	subscribers := h.bus.Len()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, h.url("/ws/events"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return h.bus.Len() > subscribers }, waitFor, tick)

	h.bus.Publish(events.Disconnect{BoardID: "b9"})

	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	assert.Equal(t, "disconnect", env.Type)
	assert.JSONEq(t, `{"boardId":"b9"}`, string(env.Data))

	h.store.AddBoard("b2", "Other")
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	assert.Equal(t, events.TypeStoreChanged, env.Type)

	_ = conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return h.bus.Len() == subscribers }, waitFor, tick)
}

func TestServeEvents_RejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	resp, err := http.Get(h.server.URL + "/ws/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
}
