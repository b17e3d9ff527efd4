package game

import "slices"

// Snapshot is the client-facing view of a lobby, pushed in full after every
// accepted mutation. It omits the admin code, connection ids, and chat logs.
type Snapshot struct {
	RoomCode       string            `json:"roomCode"`
	BoardSize      int               `json:"boardSize"`
	Board          []Cell            `json:"board"`
	Participants   []ParticipantView `json:"participants"`
	PendingJoins   []PendingJoinView `json:"pendingJoins"`
	PendingReviews []ReviewRequest   `json:"pendingReviews"`
}

type ParticipantView struct {
	Username      string               `json:"username"`
	Team          string               `json:"team"`
	Connected     bool                 `json:"connected"`
	PendingReview []string             `json:"pendingReview"`
	Completed     []CompletedObjective `json:"completedObjectives"`
}

type PendingJoinView struct {
	Username string `json:"username"`
}

// BuildSnapshot copies everything it exposes. The snapshot is handed to
// writer goroutines that marshal it after the lobby has moved on, so it must
// not alias the live board or participant slices that Apply mutates in place.
func BuildSnapshot(s State) Snapshot {
	snap := Snapshot{
		RoomCode:       s.RoomCode,
		BoardSize:      s.BoardSize,
		Board:          slices.Clone(s.Board.Cells()),
		Participants:   make([]ParticipantView, 0, len(s.Participants)),
		PendingJoins:   make([]PendingJoinView, 0, len(s.PendingJoins)),
		PendingReviews: slices.Clone(s.PendingReviews),
	}
	if snap.PendingReviews == nil {
		snap.PendingReviews = []ReviewRequest{}
	}
	for _, p := range s.Participants {
		snap.Participants = append(snap.Participants, ParticipantView{
			Username:      p.Username,
			Team:          p.Team,
			Connected:     p.ConnID != "",
			PendingReview: slices.Clone(p.PendingReview),
			Completed:     slices.Clone(p.Completed),
		})
	}
	for _, pj := range s.PendingJoins {
		snap.PendingJoins = append(snap.PendingJoins, PendingJoinView{Username: pj.Username})
	}
	return snap
}

// Export is the persisted lobby layout. Connection handles cannot survive a
// restore, so participants are exported without them and the pending-join
// queue is dropped entirely.
type Export struct {
	RoomCode       string          `json:"roomCode"`
	AdminCode      string          `json:"adminSecret"`
	BoardSize      int             `json:"boardSize"`
	Board          Board           `json:"board"`
	Participants   []Participant   `json:"participants"`
	PendingReviews []ReviewRequest `json:"pendingReviews"`
}

// BuildExport deep-copies for the same reason BuildSnapshot does: the export
// is serialized outside the goroutine that owns the state.
func BuildExport(s State) Export {
	participants := cloneParticipants(s.Participants)
	for i := range participants {
		participants[i].ConnID = ""
	}
	return Export{
		RoomCode:       s.RoomCode,
		AdminCode:      s.AdminCode,
		BoardSize:      s.BoardSize,
		Board:          s.Board.Clone(),
		Participants:   participants,
		PendingReviews: slices.Clone(s.PendingReviews),
	}
}

// Restore rebuilds live state from an export. All connection references stay
// cleared and the pending-join queue starts empty.
func Restore(e Export, rules Rules) State {
	if rules.OnDisconnect == "" {
		rules.OnDisconnect = DisconnectRetain
	}
	if rules.ChatHistory == 0 {
		rules.ChatHistory = 100
	}
	participants := make([]Participant, len(e.Participants))
	copy(participants, e.Participants)
	for i := range participants {
		participants[i].ConnID = ""
		if participants[i].PendingReview == nil {
			participants[i].PendingReview = []string{}
		}
		if participants[i].Completed == nil {
			participants[i].Completed = []CompletedObjective{}
		}
	}
	reviews := e.PendingReviews
	if reviews == nil {
		reviews = []ReviewRequest{}
	}
	return State{
		RoomCode:       e.RoomCode,
		AdminCode:      e.AdminCode,
		BoardSize:      e.BoardSize,
		Board:          e.Board,
		Participants:   participants,
		PendingJoins:   []PendingJoin{},
		PendingReviews: reviews,
		Chat:           make(map[string][]ChatMessage),
		Rules:          rules,
	}
}
