// Package cardstore keeps the registry of boards and their cards. Reads are
// served from memory; every mutation is mirrored to a KV backend by an
// ordered background writer.
package cardstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/domain"
)

// ErrClosed is returned by Flush once the store has been closed.
var ErrClosed = errors.New("cardstore: closed") //nolint:gochecknoglobals // sentinel error

// Store is the in-memory card registry backed by a KV.
type Store struct {
	mu     sync.RWMutex
	boards map[string]domain.Board
	ids    []string
	filter []string // nil means every board is active
	closed bool

	w *writer

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// Option configures optional Store parameters.
type Option func(*options)

type options struct {
	queueSize    int
	writeTimeout time.Duration
	onWriteError func(key string, err error)
}

// WithQueueSize sets how many durable writes may be queued before mutations block.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// WithWriteTimeout bounds each durable write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithWriteErrorHook is called from the writer goroutine when a durable write fails.
func WithWriteErrorHook(fn func(key string, err error)) Option {
	return func(o *options) {
		o.onWriteError = fn
	}
}

// Open rebuilds the registry from kv and starts the background writer.
// Ids listed in the index without a stored board record are skipped.
func Open(ctx context.Context, kv KV, opts ...Option) (*Store, error) {
	o := options{queueSize: 256, writeTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		boards: make(map[string]domain.Board),
		subs:   make(map[int]func()),
	}

	var ids []string
	if err := getJSON(ctx, kv, KeyBoardIDs, &ids); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("cardstore.Open: %w", err)
	}

	for _, id := range ids {
		if _, seen := s.boards[id]; seen {
			continue
		}
		var b domain.Board
		err := getJSON(ctx, kv, BoardKey(id), &b)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Str("board_id", id).Msg("cardstore: indexed board has no record, skipping")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cardstore.Open: board %s: %w", id, err)
		}
		if b.Cards == nil {
			b.Cards = make(map[string]domain.Card)
		}
		b.ID = id
		s.boards[id] = b
		s.ids = append(s.ids, id)
	}

	var filter []string
	err := getJSON(ctx, kv, KeyBoardFilter, &filter)
	switch {
	case err == nil:
		s.filter = filter
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("cardstore.Open: filter: %w", err)
	}

	s.w = newWriter(kv, o.queueSize, o.writeTimeout)
	s.w.onError = o.onWriteError

	return s, nil
}

func getJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Subscribe registers fn to run after every mutation. Listeners receive no
// payload and re-read state through the query methods.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	keys := make([]int, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fns := make([]func(), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, s.subs[k])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// enqueue must be called with s.mu held so the queue order matches the
// order of in-memory mutations.
func (s *Store) enqueue(key string, v any) {
	if s.closed {
		log.Warn().Str("key", key).Msg("cardstore: write after close dropped")
		return
	}
	var value []byte
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("cardstore: encode failed")
			return
		}
		value = raw
	}
	s.w.queue <- write{key: key, value: value}
}

func (s *Store) enqueueDelete(key string) {
	s.enqueue(key, nil)
}

// AddBoard creates the board if it is absent and returns it. An existing
// board keeps its cards and takes the new name when one is given. Repeated
// calls with the same id never duplicate the id in the persisted index.
func (s *Store) AddBoard(id, name string) domain.Board {
	s.mu.Lock()
	b, ok := s.boards[id]
	switch {
	case !ok:
		b = domain.NewBoard(id, name)
		s.boards[id] = b
		s.ids = append(s.ids, id)
		s.enqueue(KeyBoardIDs, s.ids)
		s.enqueue(BoardKey(id), b)
	case name != "" && b.Name != name:
		b.Name = name
		s.boards[id] = b
		s.enqueue(BoardKey(id), b)
	}
	out := b.Clone()
	s.mu.Unlock()

	s.notify()
	return out
}

// SetBoardName renames a known board.
func (s *Store) SetBoardName(id, name string) (domain.Board, bool) {
	s.mu.Lock()
	b, ok := s.boards[id]
	if ok {
		b.Name = name
		s.boards[id] = b
		s.enqueue(BoardKey(id), b)
		b = b.Clone()
	}
	s.mu.Unlock()

	s.notify()
	return b, ok
}

// SetCard upserts card into board boardID keyed by its MiroLink. An unknown
// board is a silent no-op; subscribers are still notified. A card with the
// same link on another board is moved, keeping links globally unique.
func (s *Store) SetCard(boardID string, card domain.Card) error {
	if err := card.Validate(); err != nil {
		return fmt.Errorf("cardstore.Store.SetCard: %w", err)
	}

	s.mu.Lock()
	if b, ok := s.boards[boardID]; ok {
		card = card.Clone()
		card.BoardID = boardID
		s.evictLocked(card.MiroLink, boardID)
		b.Cards[card.MiroLink] = card
		s.enqueue(BoardKey(boardID), b)
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// evictLocked removes link from every board except keep.
func (s *Store) evictLocked(link, keep string) {
	for id, b := range s.boards {
		if id == keep {
			continue
		}
		if _, ok := b.Cards[link]; ok {
			delete(b.Cards, link)
			s.enqueue(BoardKey(id), b)
		}
	}
}

// SetBoardCards replaces the board's card map with cards. Records that fail
// validation are skipped and counted in rejected; the rest are applied.
func (s *Store) SetBoardCards(boardID string, cards []domain.Card) (rejected int) {
	next := make(map[string]domain.Card, len(cards))
	for _, c := range cards {
		if err := c.Validate(); err != nil {
			rejected++
			log.Warn().Err(err).Str("board_id", boardID).Str("title", c.Title).Msg("cardstore: rejected card in bulk sync")
			continue
		}
		c = c.Clone()
		c.BoardID = boardID
		next[c.MiroLink] = c
	}

	s.mu.Lock()
	if b, ok := s.boards[boardID]; ok {
		for link := range next {
			s.evictLocked(link, boardID)
		}
		b.Cards = next
		s.boards[boardID] = b
		s.enqueue(BoardKey(boardID), b)
	}
	s.mu.Unlock()

	s.notify()
	return rejected
}

// DeleteCardByLink removes the card from whichever board holds it.
func (s *Store) DeleteCardByLink(link string) bool {
	s.mu.Lock()
	found := false
	for id, b := range s.boards {
		if _, ok := b.Cards[link]; ok {
			delete(b.Cards, link)
			s.enqueue(BoardKey(id), b)
			found = true
		}
	}
	s.mu.Unlock()

	s.notify()
	return found
}

// SetWorkspaceBoards stores the active-board filter. A filter naming exactly
// the known boards is the same as no filter and clears it.
func (s *Store) SetWorkspaceBoards(ids []string) {
	ids = dedupe(ids)

	s.mu.Lock()
	if sameSet(ids, s.ids) {
		s.filter = nil
		s.enqueueDelete(KeyBoardFilter)
	} else {
		s.filter = ids
		s.enqueue(KeyBoardFilter, ids)
	}
	s.mu.Unlock()

	s.notify()
}

// WorkspaceBoards returns the active-board filter, or every board id when
// no filter is set.
func (s *Store) WorkspaceBoards() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.filter == nil {
		return slices.Clone(s.ids)
	}
	return slices.Clone(s.filter)
}

// Clear removes every board, card, the id index and the filter.
func (s *Store) Clear() {
	s.mu.Lock()
	for _, id := range s.ids {
		s.enqueueDelete(BoardKey(id))
	}
	s.boards = make(map[string]domain.Board)
	s.ids = nil
	s.filter = nil
	s.enqueue(KeyBoardIDs, []string{})
	s.enqueueDelete(KeyBoardFilter)
	s.mu.Unlock()

	s.notify()
}

// Board returns a copy of the board.
func (s *Store) Board(id string) (domain.Board, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.boards[id]
	if !ok {
		return domain.Board{}, false
	}
	return b.Clone(), true
}

// CardByLink scans every board; card identity is global.
func (s *Store) CardByLink(link string) (domain.Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.boards {
		if c, ok := b.Cards[link]; ok {
			return c.Clone(), true
		}
	}
	return domain.Card{}, false
}

// BoardIDs returns known board ids in the order they were first seen.
func (s *Store) BoardIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.ids)
}

// AllCards returns every card ordered by path, title and link.
func (s *Store) AllCards() []domain.Card {
	return s.collect(func(domain.Card) bool { return true })
}

// CardsByPath returns the cards anchored to path.
func (s *Store) CardsByPath(path string) []domain.Card {
	return s.collect(func(c domain.Card) bool { return c.Path == path })
}

// CardsUnder returns the cards anchored to files below the slash-separated
// directory dir.
func (s *Store) CardsUnder(dir string) []domain.Card {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	return s.collect(func(c domain.Card) bool { return strings.HasPrefix(c.Path, prefix) })
}

func (s *Store) collect(keep func(domain.Card) bool) []domain.Card {
	s.mu.RLock()
	out := make([]domain.Card, 0)
	for _, b := range s.boards {
		for _, c := range b.Cards {
			if keep(c) {
				out = append(out, c.Clone())
			}
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Card) int {
		return cmp.Or(
			cmp.Compare(a.Path, b.Path),
			cmp.Compare(a.Title, b.Title),
			cmp.Compare(a.MiroLink, b.MiroLink),
		)
	})
	return out
}

// TotalCards sums card counts across boards.
func (s *Store) TotalCards() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.boards {
		n += len(b.Cards)
	}
	return n
}

// Flush blocks until every write queued before the call reached the backend.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	barrier := make(chan struct{})
	s.w.queue <- write{barrier: barrier}
	s.mu.Unlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cardstore.Store.Flush: %w", ctx.Err())
	}
}

// Close drains queued writes and stops the writer. Later mutations still
// update memory but are not persisted.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.w.queue)
	s.mu.Unlock()

	select {
	case <-s.w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cardstore.Store.Close: %w", ctx.Err())
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	for _, id := range a {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
