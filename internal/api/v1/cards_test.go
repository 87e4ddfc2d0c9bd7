package v1_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/appexplorer/internal/api/v1"
	"github.com/gosuda/appexplorer/internal/cardstore"
	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/protocol"
	"github.com/gosuda/appexplorer/internal/reconcile"
	"github.com/gosuda/appexplorer/internal/rpc"
)

func cardAPI(t *testing.T, boards *mockBoards, nav *mockNavigator) (humatest.TestAPI, *cardstore.Store) {
	t.Helper()

	store := newStore(t)
	seedBoard(t, store, "b1", "Team Board", card("m1", "src/a.go"), card("m2", "src/b.go"))
	seedBoard(t, store, "b2", "Other", card("m3", "src/a.go"))

	if boards == nil {
		boards = &mockBoards{}
	}
	if nav == nil {
		nav = &mockNavigator{}
	}

	_, api := humatest.New(t)
	v1.RegisterCardRoutes(api, store, boards, nav)
	return api, store
}

// ---------------------------------------------------------------------------
// GET /cards, GET /card
// ---------------------------------------------------------------------------

func TestListCards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		url   string
		links []string
	}{
		{name: "all", url: "/cards", links: []string{"m1", "m3", "m2"}},
		{name: "by_path", url: "/cards?path=src/a.go", links: []string{"m1", "m3"}},
		{name: "unknown_path", url: "/cards?path=nope.go", links: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api, _ := cardAPI(t, nil, nil)
			resp := api.Get(tt.url)
			require.Equal(t, http.StatusOK, resp.Code)

			var cards []domain.Card
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cards))
			links := make([]string, 0, len(cards))
			for _, c := range cards {
				links = append(links, c.MiroLink)
			}
			assert.ElementsMatch(t, tt.links, links)
		})
	}
}

func TestGetCard(t *testing.T) {
	t.Parallel()

	api, _ := cardAPI(t, nil, nil)

	resp := api.Get("/card?link=m3")
	require.Equal(t, http.StatusOK, resp.Code)

	var c domain.Card
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &c))
	assert.Equal(t, "b2", c.BoardID)
	assert.Equal(t, "card-m3", c.Title)

	resp = api.Get("/card?link=missing")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

// ---------------------------------------------------------------------------
// DELETE /card, DELETE /store
// ---------------------------------------------------------------------------

func TestDeleteCard(t *testing.T) {
	t.Parallel()

	api, store := cardAPI(t, nil, nil)

	resp := api.Delete("/card?link=m1")
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = api.Get("/card?link=m1")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, 2, store.TotalCards())

	resp = api.Delete("/card?link=m1")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestClearStore(t *testing.T) {
	t.Parallel()

	api, store := cardAPI(t, nil, nil)

	resp := api.Delete("/store")
	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Zero(t, store.TotalCards())
	assert.Empty(t, store.BoardIDs())
}

// ---------------------------------------------------------------------------
// POST /card/navigate
// ---------------------------------------------------------------------------

func TestNavigateCard(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		loc := reconcile.Location{
			Path:  "src/a.go",
			Range: domain.Range{Start: domain.Position{Line: 3, Character: 5}, End: domain.Position{Line: 3, Character: 9}},
		}
		api, _ := cardAPI(t, nil, &mockNavigator{
			navigateFunc: func(_ context.Context, c domain.Card) (reconcile.Location, bool, error) {
				assert.Equal(t, "m1", c.MiroLink)
				return loc, true, nil
			},
		})

		resp := api.Post("/card/navigate?link=m1")
		require.Equal(t, http.StatusOK, resp.Code)

		var out struct {
			Card     domain.Card         `json:"card"`
			Found    bool                `json:"found"`
			Location *reconcile.Location `json:"location"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
		assert.True(t, out.Found)
		require.NotNil(t, out.Location)
		assert.Equal(t, loc, *out.Location)
		assert.Equal(t, "m1", out.Card.MiroLink)
	})

	t.Run("reports_updated_status", func(t *testing.T) {
		t.Parallel()

		var store *cardstore.Store
		api, store := cardAPI(t, nil, &mockNavigator{
			navigateFunc: func(_ context.Context, c domain.Card) (reconcile.Location, bool, error) {
				c.Status = domain.CardStatusDisconnected
				require.NoError(t, store.SetCard(c.BoardID, c))
				return reconcile.Location{}, false, nil
			},
		})

		resp := api.Post("/card/navigate?link=m2")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `false`, mustField(t, resp.Body.Bytes(), "found"))

		var out struct {
			Card domain.Card `json:"card"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
		assert.Equal(t, domain.CardStatusDisconnected, out.Card.Status)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		api, _ := cardAPI(t, nil, nil)
		resp := api.Post("/card/navigate?link=missing")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("no_anchor", func(t *testing.T) {
		t.Parallel()

		api, _ := cardAPI(t, nil, &mockNavigator{
			navigateFunc: func(_ context.Context, c domain.Card) (reconcile.Location, bool, error) {
				return reconcile.Location{}, false, fmt.Errorf("reconcile.Reconciler.Navigate(%s): %w", c.MiroLink, domain.ErrNoAnchor)
			},
		})
		resp := api.Post("/card/navigate?link=m1")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("missing_link_param", func(t *testing.T) {
		t.Parallel()

		api, _ := cardAPI(t, nil, nil)
		resp := api.Post("/card/navigate")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

func mustField(t *testing.T, body []byte, field string) string {
	t.Helper()

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	raw, ok := m[field]
	require.True(t, ok, "missing field %q", field)
	return string(raw)
}

// ---------------------------------------------------------------------------
// POST /card/hover, POST /card/select
// ---------------------------------------------------------------------------

func TestEmitToOwningBoard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		url   string
		event string
	}{
		{name: "hover", url: "/card/hover?link=m3", event: protocol.EventHoverCard},
		{name: "select", url: "/card/select?link=m3", event: protocol.EventSelectCard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotBoard, gotEvent string
			var gotPayload any
			api, _ := cardAPI(t, &mockBoards{
				emitFunc: func(_ context.Context, boardID, event string, payload any) error {
					gotBoard, gotEvent, gotPayload = boardID, event, payload
					return nil
				},
			}, nil)

			resp := api.Post(tt.url)
			require.Equal(t, http.StatusOK, resp.Code)
			assert.Equal(t, "b2", gotBoard)
			assert.Equal(t, tt.event, gotEvent)
			assert.Equal(t, "m3", gotPayload)
			assert.JSONEq(t, fmt.Sprintf(`{"boardId":"b2","event":%q}`, tt.event), resp.Body.String())
		})
	}

	t.Run("board_offline", func(t *testing.T) {
		t.Parallel()

		api, _ := cardAPI(t, &mockBoards{
			emitFunc: func(context.Context, string, string, any) error {
				return rpc.ErrNotConnected
			},
		}, nil)

		resp := api.Post("/card/hover?link=m1")
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})

	t.Run("unknown_card", func(t *testing.T) {
		t.Parallel()

		api, _ := cardAPI(t, &mockBoards{
			emitFunc: func(context.Context, string, string, any) error {
				t.Fatal("emit must not be called")
				return nil
			},
		}, nil)

		resp := api.Post("/card/select?link=missing")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}
