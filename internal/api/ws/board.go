package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/events"
	"github.com/gosuda/appexplorer/internal/protocol"
	"github.com/gosuda/appexplorer/internal/rpc"
)

// ServeBoard runs one board connection: identify the board, register its
// channel, sync its cards, then dispatch its events until it disconnects.
func (h *Hub) ServeBoard(w http.ResponseWriter, r *http.Request) {
	conn, err := h.accept(w, r)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	opts := []rpc.ChannelOption{rpc.WithDefaultTimeout(h.queryTimeout)}
	if h.metrics != nil {
		opts = append(opts, rpc.WithObserver(h.metrics.ObserveQuery))
		h.metrics.Connections.Inc()
	}
	ch := rpc.NewChannel(frameConn{conn: conn}, opts...)
	logger := log.With().Str("channel_id", ch.ID.String()).Logger()

	// Board-originated events are published from their own goroutine so a
	// bus handler may query this board without stalling the reader.
	inbox := make(chan events.Event, 64)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for ev := range inbox {
			h.bus.Publish(ev)
		}
	}()

	readDone := make(chan error, 1)
	go func() {
		err := h.readLoop(ctx, conn, ch, inbox)
		// Fail queries still waiting on this board, including the handshake.
		ch.Close()
		close(inbox)
		readDone <- err
	}()

	boardID, err := h.connect(ctx, ch)
	if err != nil {
		logger.Warn().Err(err).Msg("ws: board handshake failed")
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		cancel()
		<-readDone
		<-dispatchDone
		return
	}

	readErr := <-readDone
	<-dispatchDone

	if readErr != nil && !isNormalClose(readErr) {
		logger.Warn().Err(readErr).Str("board_id", boardID).Msg("ws: board connection lost")
	}

	if h.registry.Remove(boardID, ch) {
		if h.metrics != nil {
			h.metrics.BoardsConnected.Set(float64(h.registry.Len()))
		}
		logger.Info().Str("board_id", boardID).Msg("ws: board disconnected")
		h.bus.Publish(events.Disconnect{BoardID: boardID})
	} else {
		logger.Debug().Str("board_id", boardID).Msg("ws: stale board channel closed")
	}
}

// connect performs the handshake: getBoardInfo, register, upsert the
// board, full-replace its cards from the cards query, then announce it.
func (h *Hub) connect(ctx context.Context, ch *rpc.Channel) (string, error) {
	info, err := rpc.Call(ctx, ch, protocol.GetBoardInfo, protocol.NoParams{})
	if err != nil {
		return "", fmt.Errorf("ws.Hub.connect: %w", err)
	}
	if info.ID == "" {
		return "", fmt.Errorf("ws.Hub.connect: %w: empty board id", domain.ErrInvalidCard)
	}
	ch.SetBoardID(info.ID)

	if replaced := h.registry.Register(info.ID, ch); replaced != nil {
		log.Info().Str("board_id", info.ID).Str("replaced_channel", replaced.ID.String()).Msg("ws: newer connection replaces board channel")
	}
	if h.metrics != nil {
		h.metrics.BoardsConnected.Set(float64(h.registry.Len()))
	}

	board := h.store.AddBoard(info.ID, info.Name)

	cards, err := rpc.Call(ctx, ch, protocol.Cards, protocol.NoParams{})
	if err != nil {
		// The channel stays registered; the board can be synced later.
		log.Warn().Err(err).Str("board_id", info.ID).Msg("ws: initial card sync failed")
	} else if rejected := h.store.SetBoardCards(info.ID, cards); rejected > 0 {
		log.Warn().Str("board_id", info.ID).Int("rejected", rejected).Msg("ws: skipped invalid cards")
	}

	log.Info().Str("board_id", board.ID).Str("name", board.Name).Int("cards", len(cards)).Msg("ws: board connected")
	h.bus.Publish(events.Connect{Board: domain.BoardInfo{ID: board.ID, Name: board.Name}})
	return info.ID, nil
}

// readLoop decodes frames until the connection ends. Query results go to
// the channel's correlation table; other events go to inbox.
func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, ch *rpc.Channel, inbox chan<- events.Event) error {
	for {
		var f protocol.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return err
		}

		switch f.Event {
		case protocol.EventQueryResult:
			var resp protocol.QueryResponse
			if err := json.Unmarshal(f.Data, &resp); err != nil {
				log.Warn().Err(err).Msg("ws: malformed queryResult")
				continue
			}
			ch.Resolve(resp)

		case protocol.EventNavigateTo:
			var card domain.Card
			if err := json.Unmarshal(f.Data, &card); err != nil {
				log.Warn().Err(err).Msg("ws: malformed navigateTo")
				continue
			}
			if card.BoardID == "" {
				card.BoardID = ch.BoardID()
			}
			inbox <- events.NavigateToCard{Card: card}

		case protocol.EventCard:
			var upd protocol.CardUpdate
			if err := json.Unmarshal(f.Data, &upd); err != nil {
				log.Warn().Err(err).Msg("ws: malformed card update")
				continue
			}
			if upd.Card != nil && upd.Card.BoardID == "" {
				upd.Card.BoardID = ch.BoardID()
			}
			inbox <- events.UpdateCard{MiroLink: upd.URL, Card: upd.Card}

		default:
			log.Debug().Str("event", f.Event).Msg("ws: ignoring unknown event")
		}
	}
}
