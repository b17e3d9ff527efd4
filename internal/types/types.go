package types

import "github.com/NightHydra/PokemonBattleBingoWebsite/internal/game"

// Client -> Server event names.
const (
	MsgJoinRoom      = "joinRoom"
	MsgRequestJoin   = "requestJoin"
	MsgApproveJoin   = "approveJoin"
	MsgRequestReview = "requestReview"
	MsgMarkComplete  = "markComplete"
	MsgDismissReview = "dismissReview"
	MsgManualChange  = "manualChange"
	MsgTeamMessage   = "teamMessage"
)

// Server -> Client event names.
const (
	MsgLobbyUpdate         = "lobbyUpdate"
	MsgParticipantApproved = "participantApproved"
	MsgJoinError           = "joinError"
	MsgChatMessage         = "chatMessage"
	MsgError               = "error"
)

type ClientMessage struct {
	Type          string   `json:"type"`
	RoomCode      string   `json:"roomCode,omitempty"`
	Username      string   `json:"username,omitempty"`
	Team          string   `json:"team,omitempty"`
	ObjectiveName string   `json:"objectiveName,omitempty"`
	Objectives    []string `json:"objectiveNames,omitempty"`
	// NewTeam distinguishes "clear ownership" (null or absent) from an
	// assignment, so it stays a pointer.
	NewTeam *string `json:"newTeam,omitempty"`
	Message string  `json:"message,omitempty"`
}

type ServerMessage struct {
	Type     string         `json:"type"`
	Version  int            `json:"version,omitempty"`
	Lobby    *game.Snapshot `json:"lobby,omitempty"`
	Username string         `json:"username,omitempty"`
	Team     string         `json:"team,omitempty"`
	Message  string         `json:"message,omitempty"`
	Error    string         `json:"error,omitempty"`
}
