package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/game"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/hub"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/lobby"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/types"
)

const writeTimeout = 3 * time.Second

// Handler upgrades to a websocket and relays events between the connection
// and its lobby. The first accepted event must be joinRoom; everything after
// that is translated into a game command and fed to the lobby actor.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		out := make(chan types.ServerMessage, 16)
		var lb *lobby.Lobby

		defer func() {
			if lb != nil {
				// The lobby may already be disposed; never block on a
				// dead inbox.
				select {
				case lb.Inbox() <- lobby.Leave{ConnID: connID}:
				case <-lb.Done():
				}
			} else {
				close(out)
			}
		}()

		// Writer goroutine; exits when the lobby closes the outbox, or with
		// the connection if the lobby died without ever adopting it.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case m, ok := <-out:
					if !ok {
						return
					}
					payload, _ := json.Marshal(m)
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					_ = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
				case <-writeCtx.Done():
					return
				}
			}
		}()

		log.Debug("connection opened", zap.String("conn", connID))

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (lobby.Leave in defer):
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeControl(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}

			if cm.Type == types.MsgJoinRoom {
				if lb != nil {
					continue // already in a room
				}
				reply := make(chan *lobby.Lobby, 1)
				h.Inbox() <- hub.GetLobby{Code: cm.RoomCode, Reply: reply}
				found := <-reply
				if found == nil {
					writeControl(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "room not found"})
					continue
				}
				// The registry can hand back a lobby that disposed itself
				// between lookup and join. A Join sent to a dead actor would
				// never be answered, so treat it the same as a missing room.
				select {
				case <-found.Done():
					writeControl(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "room not found"})
					continue
				default:
				}
				select {
				case found.Inbox() <- lobby.Join{ConnID: connID, Outbox: out}:
					lb = found
				case <-found.Done():
					writeControl(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "room not found"})
				}
				continue
			}

			if lb == nil {
				writeControl(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "join a room first"})
				continue
			}

			cmd, ok := toCommand(cm, connID)
			if !ok {
				writeControl(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "unknown type"})
				continue
			}
			select {
			case lb.Inbox() <- lobby.FromClient{ConnID: connID, Cmd: cmd}:
			case <-lb.Done():
				writeControl(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "room closed"})
				return
			}
		}
	}
}

func toCommand(m types.ClientMessage, connID string) (game.Command, bool) {
	switch m.Type {
	case types.MsgRequestJoin:
		return game.Command{Type: game.CmdRequestJoin, ConnID: connID, Username: m.Username}, true
	case types.MsgApproveJoin:
		return game.Command{Type: game.CmdApproveJoin, Username: m.Username, Team: m.Team}, true
	case types.MsgRequestReview:
		return game.Command{Type: game.CmdRequestReview, Username: m.Username, Objectives: m.Objectives}, true
	case types.MsgMarkComplete:
		return game.Command{Type: game.CmdMarkComplete, Username: m.Username, Objective: m.ObjectiveName, Team: m.Team}, true
	case types.MsgDismissReview:
		return game.Command{Type: game.CmdDismissReview, Username: m.Username, Objective: m.ObjectiveName}, true
	case types.MsgManualChange:
		team := ""
		if m.NewTeam != nil {
			team = *m.NewTeam
		}
		return game.Command{Type: game.CmdManualChange, Objective: m.ObjectiveName, Team: team}, true
	case types.MsgTeamMessage:
		return game.Command{Type: game.CmdTeamMessage, Username: m.Username, Message: m.Message}, true
	default:
		return game.Command{}, false
	}
}

// writeControl sends a transport-level error straight on the socket, outside
// the lobby outbox, since the connection may not be in a room yet.
func writeControl(ctx context.Context, conn *websocket.Conn, m types.ServerMessage) {
	payload, _ := json.Marshal(m)
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
