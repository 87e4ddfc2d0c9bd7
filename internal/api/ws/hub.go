// Package ws serves the board channel and the event feed over WebSocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/cardstore"
	"github.com/gosuda/appexplorer/internal/events"
	"github.com/gosuda/appexplorer/internal/metrics"
	"github.com/gosuda/appexplorer/internal/protocol"
	"github.com/gosuda/appexplorer/internal/rpc"
)

// Hub accepts board connections and wires each one into the registry,
// the card store and the event bus.
type Hub struct {
	store    *cardstore.Store
	registry *rpc.Registry
	bus      *events.Bus
	metrics  *metrics.Collector

	queryTimeout   time.Duration
	originPatterns []string
	feedBuffer     int
}

// HubOption configures optional Hub parameters.
type HubOption func(*Hub)

// WithQueryTimeout bounds queries on each board channel.
func WithQueryTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.queryTimeout = d
	}
}

// WithOriginPatterns lists host patterns allowed to open cross-origin sockets.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) {
		h.originPatterns = patterns
	}
}

// WithMetrics records connection and query metrics.
func WithMetrics(m *metrics.Collector) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub creates a new WebSocket hub.
func NewHub(store *cardstore.Store, registry *rpc.Registry, bus *events.Bus, opts ...HubOption) *Hub {
	h := &Hub{
		store:        store,
		registry:     registry,
		bus:          bus,
		queryTimeout: 10 * time.Second,
		feedBuffer:   64,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("ws.Hub.accept: %w", err)
	}
	return conn, nil
}

// frameConn adapts a websocket connection to rpc.Conn.
type frameConn struct {
	conn *websocket.Conn
}

func (c frameConn) WriteFrame(ctx context.Context, f protocol.Frame) error {
	if err := wsjson.Write(ctx, c.conn, f); err != nil {
		return fmt.Errorf("ws.WriteFrame(%s): %w", f.Event, err)
	}
	return nil
}

// isNormalClose reports whether err is an orderly end of the connection.
func isNormalClose(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// ServeEvents streams bus events and store change notices to a presentation
// client as {"type", "data"} JSON messages. Slow clients lose messages.
func (h *Hub) ServeEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.accept(w, r)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// The feed is write-only; CloseRead handles pings and the peer's close.
	ctx := conn.CloseRead(r.Context())

	out := make(chan events.Envelope, h.feedBuffer)
	send := func(env events.Envelope) {
		select {
		case out <- env:
		default:
			log.Warn().Str("type", env.Type).Msg("ws: event feed full, dropping message")
		}
	}

	unsubBus := h.bus.Subscribe(func(ev events.Event) {
		send(events.Envelope{Type: ev.Type(), Data: ev})
	})
	defer unsubBus()
	unsubStore := h.store.Subscribe(func() {
		send(events.Envelope{Type: events.TypeStoreChanged})
	})
	defer unsubStore()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case env := <-out:
			if writeErr := wsjson.Write(ctx, conn, env); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
