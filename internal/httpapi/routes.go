package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/ws"
)

func SetupRoutes(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Post("/api/create-lobby", s.handleCreateLobby)
	r.Post("/api/join-lobby", s.handleJoinLobby)
	r.Post("/api/close-lobby", s.handleCloseLobby)
	r.Post("/api/export-lobby", s.handleExportLobby)
	r.Post("/api/import-lobby", s.handleImportLobby)
	r.Get("/api/lobbies/{code}/qr", s.handleQR)
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(s.hub, s.log))
	return r
}
