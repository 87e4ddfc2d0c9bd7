package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gosuda/appexplorer/internal/domain"
)

// Client wraps a go-redis client. It serves as a card store backend and as
// the pub/sub transport for mirrored bus events.
type Client struct {
	client    *redis.Client
	workspace string
}

func New(ctx context.Context, addr, password string, db int, workspace string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &Client{client: client, workspace: workspace}, nil
}

func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("redis.Client.Close: %w", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.client.Get(ctx, StoreKey(c.workspace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis.Client.Get(%q): %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis.Client.Get(%q): %w", key, err)
	}
	return v, nil
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, StoreKey(c.workspace, key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis.Client.Put(%q): %w", key, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, StoreKey(c.workspace, key)).Err(); err != nil {
		return fmt.Errorf("redis.Client.Delete(%q): %w", key, err)
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.Client.Publish: %w", err)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := c.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.Client.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}

// Workspace returns the workspace this client scopes keys and channels to.
func (c *Client) Workspace() string {
	return c.workspace
}

// StoreKey returns the redis key holding a card store entry.
func StoreKey(workspace, key string) string {
	return "appexplorer:" + workspace + ":kv:" + key
}

// EventsChannel returns the pub/sub channel carrying bus events for a workspace.
func EventsChannel(workspace string) string {
	return "appexplorer:" + workspace + ":events"
}
