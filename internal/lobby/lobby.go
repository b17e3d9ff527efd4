package lobby

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/game"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/types"
)

type Msg interface{ isLobbyMsg() }

type FromClient struct {
	ConnID string
	Cmd    game.Command
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	ConnID string
	Outbox chan types.ServerMessage // where this connection receives pushes
}

func (Join) isLobbyMsg() {}

type Leave struct{ ConnID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// graceExpired is the internal empty-lobby timer firing. The generation
// counter lets the loop discard fires armed before a client came back.
type graceExpired struct{ gen int }

func (graceExpired) isLobbyMsg() {}

// View reflects internal state for tests and the HTTP layer without races.
type View struct {
	Version    int
	NumClients int
	State      game.State
}

type Config struct {
	Code string
	// EmptyGrace is how long a lobby with zero connections survives before
	// it disposes itself. Zero disables auto-disposal.
	EmptyGrace time.Duration
	// OnEmpty runs inside the lobby goroutine right before self-disposal,
	// so the registry can drop its entry.
	OnEmpty func(code string)
	Logger  *zap.Logger
}

type Lobby struct {
	inbox    chan Msg
	cfg      Config
	state    game.State
	version  int
	clients  map[string]chan types.ServerMessage
	graceGen int
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
}

func NewLobby(parent context.Context, cfg Config, initial game.State) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := &Lobby{
		inbox:   make(chan Msg, 64),
		cfg:     cfg,
		state:   initial,
		clients: make(map[string]chan types.ServerMessage),
		ctx:     ctx,
		cancel:  cancel,
		log:     cfg.Logger.With(zap.String("room", cfg.Code)),
	}

	go l.loop()
	return l
}

// Inbox exposes the message channel to the transport layer and tests.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the actor loop has exited. A message sent to the inbox
// after that point is never drained, so senders racing a disposal must select
// on this alongside the send.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.graceGen++ // a live client voids any pending disposal
				l.clients[msg.ConnID] = msg.Outbox
				msg.Outbox <- l.snapshotMsg()

			case Leave:
				if ch, ok := l.clients[msg.ConnID]; ok {
					close(ch)
					delete(l.clients, msg.ConnID)
				}
				l.apply(msg.ConnID, game.Command{Type: game.CmdDisconnect, ConnID: msg.ConnID})
				l.armGraceTimer()

			case FromClient:
				l.apply(msg.ConnID, msg.Cmd)

			case GetState:
				// The reply crosses goroutines, so it must not share
				// backing arrays with the state this loop keeps mutating.
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					State:      l.state.Clone(),
				}

			case graceExpired:
				if msg.gen != l.graceGen || len(l.clients) != 0 {
					break
				}
				l.log.Info("disposing empty lobby")
				if l.cfg.OnEmpty != nil {
					l.cfg.OnEmpty(l.cfg.Code)
				}
				l.shutdown()
				return

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

// apply runs one command through the state machine, then turns the resulting
// events into room-wide and point-to-point pushes. Rejections go only to the
// sender; nothing is broadcast unless state actually changed.
func (l *Lobby) apply(connID string, cmd game.Command) {
	events, newState, err := game.Apply(l.state, cmd)
	if err != nil {
		l.log.Debug("command rejected",
			zap.String("command", string(cmd.Type)),
			zap.Error(err))
		l.sendTo(connID, rejection(err))
		return
	}
	l.state = newState
	if len(events) == 0 {
		return
	}

	broadcast := false
	for _, ev := range events {
		switch ev.Type {
		case game.EvtTeamChat:
			l.fanOutChat(ev)
		case game.EvtParticipantApproved:
			l.sendTo(ev.ConnID, types.ServerMessage{
				Type:     types.MsgParticipantApproved,
				Username: ev.Username,
				Team:     ev.Team,
			})
			broadcast = true
		default:
			broadcast = true
		}
	}
	if broadcast {
		l.version++
		l.broadcast(l.snapshotMsg())
	}
}

func rejection(err error) types.ServerMessage {
	if errors.Is(err, game.ErrUsernameTaken) {
		return types.ServerMessage{Type: types.MsgJoinError, Error: err.Error()}
	}
	return types.ServerMessage{Type: types.MsgError, Error: err.Error()}
}

func (l *Lobby) snapshotMsg() types.ServerMessage {
	snap := game.BuildSnapshot(l.state)
	return types.ServerMessage{Type: types.MsgLobbyUpdate, Version: l.version, Lobby: &snap}
}

func (l *Lobby) sendTo(connID string, m types.ServerMessage) {
	ch, ok := l.clients[connID]
	if !ok {
		return
	}
	select {
	case ch <- m:
	default:
		l.drop(connID)
	}
}

func (l *Lobby) broadcast(m types.ServerMessage) {
	for id, ch := range l.clients {
		select {
		case ch <- m:
		default:
			// Client is slow/full - drop them.
			l.drop(id)
		}
	}
}

// fanOutChat delivers a team message only to connections bound to
// participants on the same team.
func (l *Lobby) fanOutChat(ev game.Event) {
	m := types.ServerMessage{
		Type:     types.MsgChatMessage,
		Username: ev.Username,
		Team:     ev.Team,
		Message:  ev.Message,
	}
	for _, p := range l.state.Participants {
		if p.Team == ev.Team && p.ConnID != "" {
			l.sendTo(p.ConnID, m)
		}
	}
}

func (l *Lobby) drop(connID string) {
	if ch, ok := l.clients[connID]; ok {
		close(ch)
		delete(l.clients, connID)
	}
}

func (l *Lobby) armGraceTimer() {
	if l.cfg.EmptyGrace <= 0 || len(l.clients) > 0 {
		return
	}
	l.graceGen++
	gen := l.graceGen
	time.AfterFunc(l.cfg.EmptyGrace, func() {
		select {
		case l.inbox <- graceExpired{gen: gen}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) shutdown() {
	for id, ch := range l.clients {
		close(ch) // tell the connection no more pushes are coming
		delete(l.clients, id)
	}
	l.cancel()
}
