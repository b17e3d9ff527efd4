package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/game"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Code  string
	State game.State
	Reply chan CreateReply
}

// CreateReply reports whether the code was free. An existing lobby is never
// overwritten; callers retry with a fresh code when Created is false.
type CreateReply struct {
	Lobby   *lobby.Lobby
	Created bool
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type RemoveLobby struct {
	Code string
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	// EmptyGrace is forwarded to every lobby; see lobby.Config.
	EmptyGrace time.Duration
	Logger     *zap.Logger
}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		log:     opts.Logger,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- CreateReply{Lobby: lb, Created: false}
					break
				}
				lb := lobby.NewLobby(h.ctx, lobby.Config{
					Code:       msg.Code,
					EmptyGrace: h.opts.EmptyGrace,
					OnEmpty: func(code string) {
						// Runs in the lobby goroutine; the hub loop
						// consumes independently, so this cannot deadlock.
						h.inbox <- RemoveLobby{Code: code}
					},
					Logger: h.log,
				}, msg.State)
				h.lobbies[msg.Code] = lb
				h.log.Info("lobby created", zap.String("room", msg.Code))
				msg.Reply <- CreateReply{Lobby: lb, Created: true}

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // may be nil

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					delete(h.lobbies, msg.Code)
					h.log.Info("lobby removed", zap.String("room", msg.Code))
					// Harmless if the lobby already shut itself down: the
					// message just sits in its buffered inbox.
					lb.Inbox() <- lobby.Shutdown{}
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Inbox() <- lobby.Shutdown{}
	}
	clear(h.lobbies)
	h.cancel()
}
