package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/protocol"
)

// Querier issues a named query and returns the raw response.
type Querier interface {
	Query(ctx context.Context, name protocol.QueryName, args ...any) (json.RawMessage, error)
}

// Engine addresses queries and events to boards by id through a Registry.
type Engine struct {
	registry *Registry
}

func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Registry returns the registry the engine resolves boards through.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Connected returns the ids of boards with a live channel.
func (e *Engine) Connected() []string {
	return e.registry.Connected()
}

// Query sends name to boardID's channel. It fails fast with ErrNotConnected
// when the board has no live channel.
func (e *Engine) Query(ctx context.Context, boardID string, name protocol.QueryName, args ...any) (json.RawMessage, error) {
	ch, ok := e.registry.Get(boardID)
	if !ok {
		return nil, fmt.Errorf("rpc.Engine.Query(%s, %s): %w", boardID, name, ErrNotConnected)
	}
	return ch.Query(ctx, name, args...)
}

// Emit sends a fire-and-forget event to boardID.
func (e *Engine) Emit(ctx context.Context, boardID, event string, payload any) error {
	ch, ok := e.registry.Get(boardID)
	if !ok {
		return fmt.Errorf("rpc.Engine.Emit(%s, %s): %w", boardID, event, ErrNotConnected)
	}
	return ch.Emit(ctx, event, payload)
}

// Broadcast sends event to every connected board and returns how many
// boards accepted it.
func (e *Engine) Broadcast(ctx context.Context, event string, payload any) int {
	sent := 0
	for _, id := range e.registry.Connected() {
		if err := e.Emit(ctx, id, event, payload); err != nil {
			log.Warn().Err(err).Str("board_id", id).Str("event", event).Msg("rpc: broadcast")
			continue
		}
		sent++
	}
	return sent
}

// Board returns a Querier bound to boardID. The channel is looked up on
// every call.
func (e *Engine) Board(boardID string) Querier {
	return boardQuerier{engine: e, boardID: boardID}
}

type boardQuerier struct {
	engine  *Engine
	boardID string
}

func (b boardQuerier) Query(ctx context.Context, name protocol.QueryName, args ...any) (json.RawMessage, error) {
	return b.engine.Query(ctx, b.boardID, name, args...)
}

// Call runs a typed query and decodes its result.
func Call[P, R any](ctx context.Context, q Querier, query protocol.Query[P, R], params P) (R, error) {
	var zero R

	var args []any
	if _, none := any(params).(protocol.NoParams); !none {
		args = []any{params}
	}

	raw, err := q.Query(ctx, query.Name, args...)
	if err != nil {
		return zero, err
	}

	var out R
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("rpc.Call(%s): decode result: %w", query.Name, err)
	}
	return out, nil
}
