package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/editor"
)

type OpenEditorInput struct {
	SessionID string `path:"sessionID" doc:"Editor session ID"`
	Body      struct {
		Path string `json:"path" doc:"Workspace-relative path of the active file"`
	}
}

type CreateEditorInput struct {
	Body struct {
		Path string `json:"path" doc:"Workspace-relative path of the active file"`
	}
}

type OpenEditorOutput struct {
	Body struct {
		SessionID string        `json:"sessionId"`
		Path      string        `json:"path"`
		Cards     []domain.Card `json:"cards"`
	}
}

type EditorHoverInput struct {
	SessionID string `path:"sessionID" doc:"Editor session ID"`
	Word      string `query:"word" required:"true" minLength:"1" doc:"Word under the cursor"`
}

type EditorHoverOutput struct {
	Body struct {
		Card     domain.Card `json:"card"`
		Markdown string      `json:"markdown"`
	}
}

type CloseEditorInput struct {
	SessionID string `path:"sessionID" doc:"Editor session ID"`
}

func RegisterEditorRoutes(api huma.API, editors Editors) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-editor",
		Method:        http.MethodPost,
		Path:          "/editors",
		Summary:       "Start an editor session with a server-issued ID",
		Tags:          []string{"Editors"},
		DefaultStatus: http.StatusCreated,
	}, func(_ context.Context, input *CreateEditorInput) (*OpenEditorOutput, error) {
		id := editor.NewSessionID()
		cards, err := editors.Open(id, input.Body.Path)
		if err != nil {
			return nil, httpError("failed to open editor session", err)
		}

		out := &OpenEditorOutput{}
		out.Body.SessionID = id
		out.Body.Path = input.Body.Path
		out.Body.Cards = cards
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-editor",
		Method:      http.MethodPut,
		Path:        "/editors/{sessionID}",
		Summary:     "Point an editor session at a file",
		Tags:        []string{"Editors"},
	}, func(_ context.Context, input *OpenEditorInput) (*OpenEditorOutput, error) {
		cards, err := editors.Open(input.SessionID, input.Body.Path)
		if err != nil {
			return nil, httpError("failed to open editor session", err)
		}

		out := &OpenEditorOutput{}
		out.Body.SessionID = input.SessionID
		out.Body.Path = input.Body.Path
		out.Body.Cards = cards
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "editor-hover",
		Method:      http.MethodGet,
		Path:        "/editors/{sessionID}/hover",
		Summary:     "Get hover text for a word in the session's file",
		Tags:        []string{"Editors"},
	}, func(_ context.Context, input *EditorHoverInput) (*EditorHoverOutput, error) {
		card, ok := editors.CardForWord(input.SessionID, input.Word)
		if !ok {
			return nil, huma.Error404NotFound("no card for word")
		}

		out := &EditorHoverOutput{}
		out.Body.Card = card
		out.Body.Markdown = editor.HoverMarkdown(card)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-editor",
		Method:        http.MethodDelete,
		Path:          "/editors/{sessionID}",
		Summary:       "Forget an editor session",
		Tags:          []string{"Editors"},
		DefaultStatus: http.StatusNoContent,
	}, func(_ context.Context, input *CloseEditorInput) (*struct{}, error) {
		if !editors.Close(input.SessionID) {
			return nil, huma.Error404NotFound("editor session not found")
		}
		return nil, nil
	})
}
