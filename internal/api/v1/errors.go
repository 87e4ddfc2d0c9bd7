package v1

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/editor"
	"github.com/gosuda/appexplorer/internal/rpc"
)

// httpError maps domain and rpc sentinels onto status codes.
func httpError(msg string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound(msg, err)
	case errors.Is(err, domain.ErrInvalidCard), errors.Is(err, domain.ErrNoAnchor), errors.Is(err, editor.ErrInvalidSession):
		return huma.Error422UnprocessableEntity(msg, err)
	case errors.Is(err, rpc.ErrNotConnected), errors.Is(err, rpc.ErrChannelClosed):
		return huma.Error503ServiceUnavailable(msg, err)
	case errors.Is(err, rpc.ErrQueryTimeout):
		return huma.Error504GatewayTimeout(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
