package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/appexplorer/internal/api/v1"
	"github.com/gosuda/appexplorer/internal/api/ws"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterBoardRoutes(api, deps.Store, deps.Engine)
	v1.RegisterCardRoutes(api, deps.Store, deps.Engine, deps.Reconciler)
	v1.RegisterStatusRoutes(api, deps.Store, deps.Engine)
	v1.RegisterEditorRoutes(api, deps.Editors)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/board", hub.ServeBoard)
	r.Get("/events", hub.ServeEvents)
}
