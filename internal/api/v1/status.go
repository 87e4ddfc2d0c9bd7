package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/appexplorer/internal/status"
)

type GetStatusInput struct {
	Path string `query:"path" doc:"Path of the file open in the editor"`
}

type GetStatusOutput struct {
	Body status.Summary
}

func RegisterStatusRoutes(api huma.API, store CardStore, boards BoardLink) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Get the editor status bar summary",
		Tags:        []string{"Status"},
	}, func(_ context.Context, input *GetStatusInput) (*GetStatusOutput, error) {
		return &GetStatusOutput{Body: status.Render(store, len(boards.Connected()), input.Path)}, nil
	})
}
