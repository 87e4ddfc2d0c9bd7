// Package reconcile re-derives card status from the live source tree and
// pushes status changes back to the owning board.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/cardstore"
	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/events"
	"github.com/gosuda/appexplorer/internal/protocol"
	"github.com/gosuda/appexplorer/internal/rpc"
)

// emitTimeout bounds a cardStatus write, which happens while reconciles
// are serialized.
const emitTimeout = 5 * time.Second

// Location is where a card's anchor resolved to.
type Location struct {
	Path  string       `json:"path"`
	Range domain.Range `json:"range"`
}

// Resolver locates a path and optional symbol in the live source tree.
// A missing file or symbol is reported as found=false, not as an error.
type Resolver interface {
	Resolve(ctx context.Context, path, symbol string) (loc Location, found bool, err error)
}

// Reconciler owns every status transition of stored cards.
type Reconciler struct {
	store    *cardstore.Store
	engine   *rpc.Engine
	resolver Resolver
	codeLink func(Location) string
	onChange func(domain.Card)

	// mu serializes the compare, store and broadcast of a status change so
	// concurrent reconciles of one card publish its transition once.
	mu sync.Mutex
}

// Option configures optional Reconciler parameters.
type Option func(*Reconciler)

// WithCodeLink sets how a resolved location becomes the codeLink sent to boards.
func WithCodeLink(fn func(Location) string) Option {
	return func(r *Reconciler) {
		r.codeLink = fn
	}
}

// WithChangeHook is called after each status transition is stored.
func WithChangeHook(fn func(domain.Card)) Option {
	return func(r *Reconciler) {
		r.onChange = fn
	}
}

func New(store *cardstore.Store, engine *rpc.Engine, resolver Resolver, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		engine:   engine,
		resolver: resolver,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Navigate resolves card's anchor and records the resulting status. Only a
// status change writes the card and emits cardStatus to its board.
func (r *Reconciler) Navigate(ctx context.Context, card domain.Card) (Location, bool, error) {
	loc, found, _, err := r.reconcile(ctx, card)
	return loc, found, err
}

func (r *Reconciler) reconcile(ctx context.Context, card domain.Card) (loc Location, found, changed bool, err error) {
	if !card.HasAnchor() {
		return Location{}, false, false, fmt.Errorf("reconcile.Reconciler.Navigate(%s): %w", card.MiroLink, domain.ErrNoAnchor)
	}

	loc, found, err = r.resolver.Resolve(ctx, card.Path, card.Symbol)
	if err != nil {
		return Location{}, false, false, fmt.Errorf("reconcile.Reconciler.Navigate(%s): %w", card.MiroLink, err)
	}

	status := domain.CardStatusDisconnected
	if found {
		status = domain.CardStatusConnected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The stored copy is authoritative for the previous status.
	current := card
	if stored, ok := r.store.CardByLink(card.MiroLink); ok {
		current = stored
	}
	if current.Status == status {
		return loc, found, false, nil
	}

	current.Status = status
	var codeLink string
	if found {
		current.SymbolPosition = &domain.Range{Start: loc.Range.Start, End: loc.Range.End}
		if r.codeLink != nil {
			codeLink = r.codeLink(loc)
			current.CodeLink = codeLink
		}
	}

	if err := r.store.SetCard(current.BoardID, current); err != nil {
		return loc, found, false, fmt.Errorf("reconcile.Reconciler.Navigate(%s): %w", card.MiroLink, err)
	}
	if r.onChange != nil {
		r.onChange(current)
	}

	log.Info().
		Str("miro_link", current.MiroLink).
		Str("board_id", current.BoardID).
		Str("status", string(status)).
		Msg("reconcile: card status changed")

	r.broadcast(ctx, current.BoardID, protocol.CardStatusUpdate{
		MiroLink: current.MiroLink,
		Status:   status,
		CodeLink: codeLink,
	})
	return loc, found, true, nil
}

func (r *Reconciler) broadcast(ctx context.Context, boardID string, update protocol.CardStatusUpdate) {
	ctx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()

	err := r.engine.Emit(ctx, boardID, protocol.EventCardStatus, update)
	switch {
	case err == nil:
	case errors.Is(err, rpc.ErrNotConnected):
		log.Debug().Str("board_id", boardID).Str("miro_link", update.MiroLink).Msg("reconcile: board offline, status not sent")
	default:
		log.Warn().Err(err).Str("board_id", boardID).Str("miro_link", update.MiroLink).Msg("reconcile: send card status")
	}
}

// ReconcileCard re-derives the status of the stored card with link and
// returns it afterwards. Cards without an anchor are returned unchanged.
func (r *Reconciler) ReconcileCard(ctx context.Context, link string) (domain.Card, error) {
	card, ok := r.store.CardByLink(link)
	if !ok {
		return domain.Card{}, fmt.Errorf("reconcile.Reconciler.ReconcileCard(%s): %w", link, domain.ErrNotFound)
	}
	if !card.HasAnchor() {
		return card, nil
	}
	if _, _, _, err := r.reconcile(ctx, card); err != nil {
		return domain.Card{}, err
	}
	card, _ = r.store.CardByLink(link)
	return card, nil
}

// ReconcilePath re-derives every card anchored at path and returns how many
// changed status.
func (r *Reconciler) ReconcilePath(ctx context.Context, path string) (int, error) {
	return r.reconcileAll(ctx, r.store.CardsByPath(path))
}

// ReconcileTree re-derives every card anchored below the directory dir.
func (r *Reconciler) ReconcileTree(ctx context.Context, dir string) (int, error) {
	return r.reconcileAll(ctx, r.store.CardsUnder(dir))
}

// ReconcileAll re-derives every anchored card in the store.
func (r *Reconciler) ReconcileAll(ctx context.Context) (int, error) {
	return r.reconcileAll(ctx, r.store.AllCards())
}

func (r *Reconciler) reconcileAll(ctx context.Context, cards []domain.Card) (int, error) {
	changed := 0
	var errs []error
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !card.HasAnchor() {
			continue
		}
		_, _, ok, err := r.reconcile(ctx, card)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

// HandleUpdate applies a board's card report: a nil card deletes, anything
// else is upserted under its board.
func (r *Reconciler) HandleUpdate(_ context.Context, ev events.UpdateCard) error {
	if ev.Card == nil {
		if !r.store.DeleteCardByLink(ev.MiroLink) {
			log.Debug().Str("miro_link", ev.MiroLink).Msg("reconcile: delete of unknown card")
		}
		return nil
	}

	card := ev.Card.Clone()
	if card.MiroLink == "" {
		card.MiroLink = ev.MiroLink
	}
	if card.BoardID == "" {
		if stored, ok := r.store.CardByLink(card.MiroLink); ok {
			card.BoardID = stored.BoardID
		}
	}
	if card.BoardID == "" {
		return fmt.Errorf("reconcile.Reconciler.HandleUpdate(%s): %w: boardId is required", card.MiroLink, domain.ErrInvalidCard)
	}
	if err := r.store.SetCard(card.BoardID, card); err != nil {
		return fmt.Errorf("reconcile.Reconciler.HandleUpdate(%s): %w", card.MiroLink, err)
	}
	return nil
}

// Attach routes board-originated navigate and update events into the
// reconciler. Failures are logged.
func (r *Reconciler) Attach(ctx context.Context, bus *events.Bus) (detach func()) {
	return bus.Subscribe(func(ev events.Event) {
		switch e := ev.(type) {
		case events.NavigateToCard:
			if _, _, err := r.Navigate(ctx, e.Card); err != nil {
				log.Warn().Err(err).Str("miro_link", e.Card.MiroLink).Msg("reconcile: navigate")
			}
		case events.UpdateCard:
			if err := r.HandleUpdate(ctx, e); err != nil {
				log.Warn().Err(err).Str("miro_link", e.MiroLink).Msg("reconcile: card update")
			}
		}
	})
}
