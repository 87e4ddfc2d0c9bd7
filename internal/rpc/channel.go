// Package rpc correlates asynchronous queries with their responses over
// board channels and tracks which board owns which channel.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/protocol"
)

// ErrNotConnected is returned when a query targets a board with no live channel.
var ErrNotConnected = errors.New("rpc: no connection to board") //nolint:gochecknoglobals // sentinel error

// ErrChannelClosed is returned for queries pending on, or sent to, a closed channel.
var ErrChannelClosed = errors.New("rpc: channel closed") //nolint:gochecknoglobals // sentinel error

// ErrQueryTimeout is returned when a query's deadline passes before its result arrives.
var ErrQueryTimeout = errors.New("rpc: query timed out") //nolint:gochecknoglobals // sentinel error

// ErrUnknownQuery is returned for a query name outside the protocol's closed set.
var ErrUnknownQuery = errors.New("rpc: unknown query name") //nolint:gochecknoglobals // sentinel error

// Conn is the transport under a Channel. WriteFrame must be safe for
// concurrent use.
type Conn interface {
	WriteFrame(ctx context.Context, f protocol.Frame) error
}

// Observer is told about every finished query.
type Observer func(name protocol.QueryName, elapsed time.Duration, err error)

type result struct {
	data json.RawMessage
	err  error
}

// Channel is one live connection to a board with its own table of
// in-flight queries.
type Channel struct {
	ID uuid.UUID

	conn     Conn
	timeout  time.Duration
	observer Observer
	newID    func() string

	mu      sync.Mutex
	boardID string
	pending map[string]chan result
	closed  bool
}

// ChannelOption configures optional Channel parameters.
type ChannelOption func(*Channel)

// WithDefaultTimeout bounds queries whose context carries no deadline.
// Zero disables the bound.
func WithDefaultTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) {
		c.timeout = d
	}
}

// WithObserver installs a hook called after each query completes.
func WithObserver(o Observer) ChannelOption {
	return func(c *Channel) {
		c.observer = o
	}
}

// WithRequestIDs overrides correlation id generation.
func WithRequestIDs(fn func() string) ChannelOption {
	return func(c *Channel) {
		c.newID = fn
	}
}

func NewChannel(conn Conn, opts ...ChannelOption) *Channel {
	c := &Channel{
		ID:      uuid.New(),
		conn:    conn,
		newID:   func() string { return ulid.Make().String() },
		pending: make(map[string]chan result),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BoardID returns the board this channel identified as, once known.
func (c *Channel) BoardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boardID
}

// SetBoardID records the channel's board identity.
func (c *Channel) SetBoardID(id string) {
	c.mu.Lock()
	c.boardID = id
	c.mu.Unlock()
}

// Query sends a query envelope and blocks until the matching queryResult
// arrives, ctx ends, or the channel closes. Responses for other request ids
// never satisfy this call.
func (c *Channel) Query(ctx context.Context, name protocol.QueryName, args ...any) (json.RawMessage, error) {
	start := time.Now()
	data, err := c.query(ctx, name, args)
	if c.observer != nil {
		c.observer(name, time.Since(start), err)
	}
	return data, err
}

func (c *Channel) query(ctx context.Context, name protocol.QueryName, args []any) (json.RawMessage, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("rpc.Channel.Query(%s): %w", name, ErrUnknownQuery)
	}

	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("rpc.Channel.Query(%s): encode args: %w", name, err)
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	requestID := c.newID()
	wait := make(chan result, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("rpc.Channel.Query(%s): %w", name, ErrChannelClosed)
	}
	c.pending[requestID] = wait
	c.mu.Unlock()
	defer c.forget(requestID)

	frame, err := protocol.NewFrame(protocol.EventQuery, protocol.QueryRequest{
		Name:      name,
		RequestID: requestID,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc.Channel.Query(%s): %w", name, err)
	}
	if err := c.conn.WriteFrame(ctx, frame); err != nil {
		return nil, fmt.Errorf("rpc.Channel.Query(%s): send: %w", name, err)
	}

	select {
	case r := <-wait:
		if r.err != nil {
			return nil, fmt.Errorf("rpc.Channel.Query(%s): %w", name, r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("rpc.Channel.Query(%s): %w: %w", name, ErrQueryTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("rpc.Channel.Query(%s): %w", name, ctx.Err())
	}
}

func (c *Channel) forget(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// Resolve routes a queryResult to its waiting caller. It reports false when
// no query with that request id is in flight.
func (c *Channel) Resolve(resp protocol.QueryResponse) bool {
	c.mu.Lock()
	wait, ok := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	c.mu.Unlock()

	if !ok {
		log.Debug().Str("request_id", resp.RequestID).Str("channel_id", c.ID.String()).Msg("rpc: result for unknown request")
		return false
	}
	wait <- result{data: resp.Response}
	return true
}

// Emit sends a fire-and-forget event.
func (c *Channel) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("rpc.Channel.Emit(%s): %w", event, ErrChannelClosed)
	}

	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		return fmt.Errorf("rpc.Channel.Emit(%s): %w", event, err)
	}
	if err := c.conn.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("rpc.Channel.Emit(%s): %w", event, err)
	}
	return nil
}

// Close fails every in-flight query with ErrChannelClosed. Later queries
// fail immediately.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()

	for _, wait := range pending {
		wait <- result{err: ErrChannelClosed}
	}
}

// Pending returns the number of in-flight queries.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
