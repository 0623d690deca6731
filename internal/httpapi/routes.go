package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/syncsound/syncsound/internal/registry"
	"github.com/syncsound/syncsound/internal/ws"
)

func SetupRoutes(reg *registry.Registry, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", NewRoomCode(reg, log))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(reg, log))
	return r
}
