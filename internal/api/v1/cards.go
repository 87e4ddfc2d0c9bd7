package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/protocol"
	"github.com/gosuda/appexplorer/internal/reconcile"
)

type ListCardsInput struct {
	Path string `query:"path" doc:"Only cards anchored to this workspace-relative path"`
}

type ListCardsOutput struct {
	Body []domain.Card
}

type CardLinkInput struct {
	Link string `query:"link" required:"true" minLength:"1" doc:"Miro link of the card"`
}

type GetCardOutput struct {
	Body *domain.Card
}

type NavigateCardOutput struct {
	Body struct {
		Card     domain.Card         `json:"card"`
		Found    bool                `json:"found"`
		Location *reconcile.Location `json:"location,omitempty"`
	}
}

type EmitCardOutput struct {
	Body struct {
		BoardID string `json:"boardId"`
		Event   string `json:"event"`
	}
}

func RegisterCardRoutes(api huma.API, store CardStore, boards BoardLink, nav Navigator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-cards",
		Method:      http.MethodGet,
		Path:        "/cards",
		Summary:     "List cards, optionally for one file",
		Tags:        []string{"Cards"},
	}, func(_ context.Context, input *ListCardsInput) (*ListCardsOutput, error) {
		if input.Path != "" {
			return &ListCardsOutput{Body: store.CardsByPath(input.Path)}, nil
		}
		return &ListCardsOutput{Body: store.AllCards()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-card",
		Method:      http.MethodGet,
		Path:        "/card",
		Summary:     "Get a card by its Miro link",
		Tags:        []string{"Cards"},
	}, func(_ context.Context, input *CardLinkInput) (*GetCardOutput, error) {
		card, ok := store.CardByLink(input.Link)
		if !ok {
			return nil, huma.Error404NotFound("card not found")
		}
		return &GetCardOutput{Body: &card}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-card",
		Method:        http.MethodDelete,
		Path:          "/card",
		Summary:       "Delete a card from whichever board holds it",
		Tags:          []string{"Cards"},
		DefaultStatus: http.StatusNoContent,
	}, func(_ context.Context, input *CardLinkInput) (*struct{}, error) {
		if !store.DeleteCardByLink(input.Link) {
			return nil, huma.Error404NotFound("card not found")
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "navigate-card",
		Method:      http.MethodPost,
		Path:        "/card/navigate",
		Summary:     "Resolve a card's anchor and update its status",
		Tags:        []string{"Cards"},
	}, func(ctx context.Context, input *CardLinkInput) (*NavigateCardOutput, error) {
		card, ok := store.CardByLink(input.Link)
		if !ok {
			return nil, huma.Error404NotFound("card not found")
		}

		loc, found, err := nav.Navigate(ctx, card)
		if err != nil {
			return nil, httpError("failed to navigate to card", err)
		}

		out := &NavigateCardOutput{}
		out.Body.Found = found
		if found {
			out.Body.Location = &loc
		}
		out.Body.Card = card
		if updated, ok := store.CardByLink(input.Link); ok {
			out.Body.Card = updated
		}
		return out, nil
	})

	emit := func(event string) func(context.Context, *CardLinkInput) (*EmitCardOutput, error) {
		return func(ctx context.Context, input *CardLinkInput) (*EmitCardOutput, error) {
			card, ok := store.CardByLink(input.Link)
			if !ok {
				return nil, huma.Error404NotFound("card not found")
			}
			if err := boards.Emit(ctx, card.BoardID, event, card.MiroLink); err != nil {
				log.Debug().Err(err).Str("board_id", card.BoardID).Str("event", event).Msg("api: emit to board")
				return nil, httpError("failed to reach board", err)
			}

			out := &EmitCardOutput{}
			out.Body.BoardID = card.BoardID
			out.Body.Event = event
			return out, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "hover-card",
		Method:      http.MethodPost,
		Path:        "/card/hover",
		Summary:     "Ask the owning board to highlight a card",
		Tags:        []string{"Cards"},
	}, emit(protocol.EventHoverCard))

	huma.Register(api, huma.Operation{
		OperationID: "select-card",
		Method:      http.MethodPost,
		Path:        "/card/select",
		Summary:     "Ask the owning board to select a card",
		Tags:        []string{"Cards"},
	}, emit(protocol.EventSelectCard))

	huma.Register(api, huma.Operation{
		OperationID:   "clear-store",
		Method:        http.MethodDelete,
		Path:          "/store",
		Summary:       "Forget every stored board and the workspace filter",
		Tags:          []string{"Cards"},
		DefaultStatus: http.StatusNoContent,
	}, func(_ context.Context, _ *struct{}) (*struct{}, error) {
		store.Clear()
		return nil, nil
	})
}
