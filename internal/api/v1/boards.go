package v1

import (
	"context"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/protocol"
	"github.com/gosuda/appexplorer/internal/rpc"
)

type BoardSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Cards     int    `json:"cards"`
	Connected bool   `json:"connected"`
}

type ListBoardsInput struct {
	All bool `query:"all" doc:"Ignore the workspace board filter"`
}

type ListBoardsOutput struct {
	Body []BoardSummary
}

type ConnectedBoardsOutput struct {
	Body struct {
		BoardIDs []string `json:"boardIds"`
	}
}

type GetBoardInput struct {
	BoardID string `path:"boardID" doc:"Board ID"`
}

type GetBoardOutput struct {
	Body *domain.Board
}

type WorkspaceBoardsBody struct {
	BoardIDs []string `json:"boardIds" doc:"Boards shown in this workspace"`
}

type SetWorkspaceBoardsInput struct {
	Body WorkspaceBoardsBody
}

type WorkspaceBoardsOutput struct {
	Body WorkspaceBoardsBody
}

type SyncBoardInput struct {
	BoardID string `path:"boardID" doc:"Board ID"`
}

type SyncBoardOutput struct {
	Body struct {
		BoardID  string `json:"boardId"`
		Cards    int    `json:"cards"`
		Rejected int    `json:"rejected"`
	}
}

func RegisterBoardRoutes(api huma.API, store CardStore, boards BoardLink) {
	huma.Register(api, huma.Operation{
		OperationID: "list-boards",
		Method:      http.MethodGet,
		Path:        "/boards",
		Summary:     "List known boards",
		Tags:        []string{"Boards"},
	}, func(_ context.Context, input *ListBoardsInput) (*ListBoardsOutput, error) {
		ids := store.WorkspaceBoards()
		if input.All {
			ids = store.BoardIDs()
		}

		connected := boards.Connected()
		out := make([]BoardSummary, 0, len(ids))
		for _, id := range ids {
			b, ok := store.Board(id)
			if !ok {
				continue
			}
			out = append(out, BoardSummary{
				ID:        b.ID,
				Name:      b.Name,
				Cards:     len(b.Cards),
				Connected: slices.Contains(connected, b.ID),
			})
		}
		return &ListBoardsOutput{Body: out}, nil
	})

	// Registered before /boards/{boardID} so the literal segment wins on
	// routers that match in registration order.
	huma.Register(api, huma.Operation{
		OperationID: "list-connected-boards",
		Method:      http.MethodGet,
		Path:        "/boards/connected",
		Summary:     "List boards with a live channel",
		Tags:        []string{"Boards"},
	}, func(_ context.Context, _ *struct{}) (*ConnectedBoardsOutput, error) {
		out := &ConnectedBoardsOutput{}
		out.Body.BoardIDs = boards.Connected()
		if out.Body.BoardIDs == nil {
			out.Body.BoardIDs = []string{}
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/boards/{boardID}",
		Summary:     "Get a board with its cards",
		Tags:        []string{"Boards"},
	}, func(_ context.Context, input *GetBoardInput) (*GetBoardOutput, error) {
		b, ok := store.Board(input.BoardID)
		if !ok {
			return nil, huma.Error404NotFound("board not found")
		}
		return &GetBoardOutput{Body: &b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-board",
		Method:      http.MethodPost,
		Path:        "/boards/{boardID}/sync",
		Summary:     "Re-read every card from a connected board",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *SyncBoardInput) (*SyncBoardOutput, error) {
		if _, ok := store.Board(input.BoardID); !ok {
			return nil, huma.Error404NotFound("board not found")
		}

		cards, err := rpc.Call(ctx, boards.Board(input.BoardID), protocol.Cards, protocol.NoParams{})
		if err != nil {
			return nil, httpError("failed to query board cards", err)
		}

		out := &SyncBoardOutput{}
		out.Body.BoardID = input.BoardID
		out.Body.Rejected = store.SetBoardCards(input.BoardID, cards)
		out.Body.Cards = len(cards) - out.Body.Rejected
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workspace-boards",
		Method:      http.MethodGet,
		Path:        "/workspace-boards",
		Summary:     "Get the workspace board filter",
		Tags:        []string{"Boards"},
	}, func(_ context.Context, _ *struct{}) (*WorkspaceBoardsOutput, error) {
		return &WorkspaceBoardsOutput{Body: WorkspaceBoardsBody{BoardIDs: nonNil(store.WorkspaceBoards())}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-workspace-boards",
		Method:      http.MethodPut,
		Path:        "/workspace-boards",
		Summary:     "Replace the workspace board filter",
		Tags:        []string{"Boards"},
	}, func(_ context.Context, input *SetWorkspaceBoardsInput) (*WorkspaceBoardsOutput, error) {
		store.SetWorkspaceBoards(input.Body.BoardIDs)
		return &WorkspaceBoardsOutput{Body: WorkspaceBoardsBody{BoardIDs: nonNil(store.WorkspaceBoards())}}, nil
	})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
