package cardstore

import "context"

// Persistence keys. Every backend scopes them to a workspace.
const (
	KeyBoardIDs    = "boardIds"
	KeyBoardFilter = "board-filter"
	boardKeyPrefix = "board-"
)

// BoardKey returns the persistence key for a board record.
func BoardKey(id string) string {
	return boardKeyPrefix + id
}

// KV is the durable key/value backend behind a Store.
// Get returns domain.ErrNotFound when the key is absent.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
