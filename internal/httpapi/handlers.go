package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/game"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/hub"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/lobby"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/snapshot"
)

// maxCodeAttempts bounds room-code collision retries. With a 36^4 code space
// this is practically unreachable.
const maxCodeAttempts = 32

const (
	roomCodeLen    = 4
	adminCodeLen   = 6
	roomCodeAlpha  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	adminCodeAlpha = "abcdefghijklmnopqrstuvwxyz0123456789"
)

type Server struct {
	hub   *hub.Hub
	pool  []game.Objective
	rules game.Rules
	store *snapshot.Store // nil when no database is configured
	log   *zap.Logger
}

func NewServer(h *hub.Hub, pool []game.Objective, rules game.Rules, store *snapshot.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{hub: h, pool: pool, rules: rules, store: store, log: log}
}

func generateCode(length int, alphabet string) (string, error) {
	code := make([]byte, length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		code[i] = alphabet[num.Int64()]
	}
	return string(code), nil
}

func (s *Server) handleCreateLobby(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BoardSize int `json:"boardSize"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BoardSize < game.MinBoardSize || req.BoardSize > game.MaxBoardSize {
		writeError(w, http.StatusBadRequest, "Invalid board size. Must be between 3 and 16.")
		return
	}
	if len(s.pool) < req.BoardSize*req.BoardSize {
		writeError(w, http.StatusInternalServerError, "Not enough objectives to create a board of this size. Please try a smaller size.")
		return
	}

	for attempts := 0; attempts < maxCodeAttempts; attempts++ {
		roomCode, err := generateCode(roomCodeLen, roomCodeAlpha)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate room code")
			return
		}
		adminCode, err := generateCode(adminCodeLen, adminCodeAlpha)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate admin code")
			return
		}

		state, err := game.NewState(roomCode, adminCode, req.BoardSize, s.pool, s.rules)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		reply := make(chan hub.CreateReply, 1)
		s.hub.Inbox() <- hub.CreateLobby{Code: roomCode, State: state, Reply: reply}
		if rep := <-reply; rep.Created {
			s.log.Info("lobby created",
				zap.String("room", roomCode),
				zap.Int("boardSize", req.BoardSize))
			writeJSON(w, http.StatusCreated, map[string]any{
				"roomCode":  roomCode,
				"adminCode": adminCode,
				"boardSize": req.BoardSize,
			})
			return
		}
		s.log.Warn("room code collision, regenerating", zap.String("room", roomCode))
	}
	writeError(w, http.StatusInternalServerError, "room code space exhausted")
}

func (s *Server) handleJoinLobby(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomCode  string `json:"roomCode"`
		Username  string `json:"username"`
		Role      string `json:"role"`
		AdminCode string `json:"adminCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Role == "participant" {
		writeError(w, http.StatusBadRequest, "Participants cannot join directly. They must request access.")
		return
	}
	if req.Role != "admin" {
		writeError(w, http.StatusBadRequest, "Invalid role or request.")
		return
	}

	view, status, msg := s.adminView(req.RoomCode, req.AdminCode)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"boardSize": view.State.BoardSize,
		"lobby":     game.BuildSnapshot(view.State),
	})
}

func (s *Server) handleCloseLobby(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomCode  string `json:"roomCode"`
		AdminCode string `json:"adminCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	_, status, msg := s.adminView(req.RoomCode, req.AdminCode)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}
	s.hub.Inbox() <- hub.RemoveLobby{Code: req.RoomCode}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleExportLobby(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot store not configured")
		return
	}
	var req struct {
		RoomCode  string `json:"roomCode"`
		AdminCode string `json:"adminCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	view, status, msg := s.adminView(req.RoomCode, req.AdminCode)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}
	if err := s.store.Save(r.Context(), game.BuildExport(view.State)); err != nil {
		s.log.Error("snapshot export failed", zap.String("room", req.RoomCode), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export lobby")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleImportLobby(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot store not configured")
		return
	}
	var req struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exp, err := s.store.Load(r.Context(), req.RoomCode)
	if errors.Is(err, snapshot.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no snapshot for this room")
		return
	}
	if err != nil {
		s.log.Error("snapshot import failed", zap.String("room", req.RoomCode), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to import lobby")
		return
	}

	reply := make(chan hub.CreateReply, 1)
	s.hub.Inbox() <- hub.CreateLobby{Code: exp.RoomCode, State: game.Restore(exp, s.rules), Reply: reply}
	if rep := <-reply; !rep.Created {
		writeError(w, http.StatusConflict, "lobby is already active")
		return
	}
	s.log.Info("lobby restored from snapshot", zap.String("room", exp.RoomCode))
	writeJSON(w, http.StatusOK, map[string]any{
		"roomCode":  exp.RoomCode,
		"boardSize": exp.BoardSize,
	})
}

// handleQR renders a PNG QR code pointing at the join page for a room.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	reply := make(chan *lobby.Lobby, 1)
	s.hub.Inbox() <- hub.GetLobby{Code: code, Reply: reply}
	if <-reply == nil {
		writeError(w, http.StatusNotFound, "Lobby not found.")
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	url := scheme + "://" + r.Host + "/?room=" + code
	png, err := qrcode.Encode(url, qrcode.Medium, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render qr code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// adminView looks a lobby up and checks the admin code. The code is a
// human-shareable room credential, not a security boundary, so a plain
// comparison is used.
func (s *Server) adminView(roomCode, adminCode string) (lobby.View, int, string) {
	reply := make(chan *lobby.Lobby, 1)
	s.hub.Inbox() <- hub.GetLobby{Code: roomCode, Reply: reply}
	lb := <-reply
	if lb == nil {
		return lobby.View{}, http.StatusNotFound, "Lobby not found."
	}

	stateReply := make(chan lobby.View, 1)
	lb.Inbox() <- lobby.GetState{Reply: stateReply}
	view := <-stateReply
	if view.State.AdminCode != adminCode {
		return lobby.View{}, http.StatusUnauthorized, "Invalid admin code."
	}
	return view, http.StatusOK, ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
