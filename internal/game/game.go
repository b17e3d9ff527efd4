package game

import (
	"errors"
	"slices"
)

var ErrUsernameTaken = errors.New("username already exists or is pending approval")
var ErrUnknownParticipant = errors.New("unknown participant")
var ErrUnknownObjective = errors.New("objective is not on the board")
var ErrUnsupportedCommand = errors.New("unsupported command")

// DisconnectPolicy controls what happens to a participant record when its
// connection goes away.
type DisconnectPolicy string

const (
	// DisconnectRetain keeps the participant and clears the connection
	// reference so a later connection can re-bind under the same username.
	DisconnectRetain DisconnectPolicy = "retain"
	// DisconnectRemove deletes the participant outright, along with any
	// review requests they had queued.
	DisconnectRemove DisconnectPolicy = "remove"
)

type Rules struct {
	OnDisconnect DisconnectPolicy
	ChatHistory  int // max retained chat messages per team
}

type CompletedObjective struct {
	Name string `json:"name"`
	Team string `json:"team"`
}

// Participant is an approved user. The record is durable for the life of the
// lobby; ConnID is a non-owning back-reference to whichever live connection
// currently speaks for this username, empty while disconnected.
type Participant struct {
	Username      string               `json:"username"`
	Team          string               `json:"team"`
	ConnID        string               `json:"-"`
	PendingReview []string             `json:"pendingReview"`
	Completed     []CompletedObjective `json:"completedObjectives"`
}

type PendingJoin struct {
	Username string `json:"username"`
	ConnID   string `json:"-"`
}

// ReviewRequest is one admin-queue entry per (username, objective) pair.
type ReviewRequest struct {
	Username      string `json:"username"`
	ObjectiveName string `json:"objectiveName"`
}

type ChatMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type State struct {
	RoomCode       string
	AdminCode      string
	BoardSize      int
	Board          Board
	Participants   []Participant
	PendingJoins   []PendingJoin
	PendingReviews []ReviewRequest
	Chat           map[string][]ChatMessage // keyed by team
	Rules          Rules
}

// Clone returns a state sharing no backing arrays with the receiver. Apply
// mutates cells and participant slices in place, so any State that leaves
// the goroutine owning it must be a Clone, never a plain struct copy.
func (s State) Clone() State {
	out := s
	out.Board = s.Board.Clone()
	out.Participants = cloneParticipants(s.Participants)
	out.PendingJoins = slices.Clone(s.PendingJoins)
	out.PendingReviews = slices.Clone(s.PendingReviews)
	if s.Chat != nil {
		out.Chat = make(map[string][]ChatMessage, len(s.Chat))
		for team, log := range s.Chat {
			out.Chat[team] = slices.Clone(log)
		}
	}
	return out
}

type CommandType string

const (
	CmdRequestJoin   CommandType = "RequestJoin"
	CmdApproveJoin   CommandType = "ApproveJoin"
	CmdRequestReview CommandType = "RequestReview"
	CmdMarkComplete  CommandType = "MarkComplete"
	CmdDismissReview CommandType = "DismissReview"
	CmdManualChange  CommandType = "ManualChange"
	CmdTeamMessage   CommandType = "TeamMessage"
	CmdDisconnect    CommandType = "Disconnect"
)

type Command struct {
	Type       CommandType
	ConnID     string
	Username   string
	Team       string
	Objective  string
	Objectives []string
	Message    string
}

type EventType string

const (
	EvtJoinRequested       EventType = "JoinRequested"
	EvtParticipantApproved EventType = "ParticipantApproved"
	EvtReviewRequested     EventType = "ReviewRequested"
	EvtObjectiveCompleted  EventType = "ObjectiveCompleted"
	EvtReviewDismissed     EventType = "ReviewDismissed"
	EvtCellOverridden      EventType = "CellOverridden"
	EvtTeamChat            EventType = "TeamChat"
	EvtConnectionUnlinked  EventType = "ConnectionUnlinked"
	EvtParticipantRemoved  EventType = "ParticipantRemoved"
)

type Event struct {
	Type      EventType
	Username  string
	ConnID    string
	Team      string
	Objective string
	Message   string
}

// Apply runs one command against the lobby state. It returns the events that
// occurred, the resulting state, and an error when the command is rejected.
// A rejected command leaves the state untouched; a command that resolves to
// nothing (stale approval, already-settled review) succeeds with no events.
// The caller owns the state exclusively, so no locking happens here.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s

	switch cmd.Type {
	case CmdRequestJoin:
		for i := range newState.Participants {
			p := &newState.Participants[i]
			if p.Username != cmd.Username {
				continue
			}
			if p.ConnID != "" {
				return nil, s, ErrUsernameTaken
			}
			// Same username, no live connection: this is a reconnect.
			// Re-bind and let the client skip the approval queue.
			p.ConnID = cmd.ConnID
			return []Event{{Type: EvtParticipantApproved, Username: p.Username, ConnID: cmd.ConnID, Team: p.Team}}, newState, nil
		}
		for _, pj := range newState.PendingJoins {
			if pj.Username == cmd.Username {
				return nil, s, ErrUsernameTaken
			}
		}
		newState.PendingJoins = append(newState.PendingJoins, PendingJoin{Username: cmd.Username, ConnID: cmd.ConnID})
		return []Event{{Type: EvtJoinRequested, Username: cmd.Username}}, newState, nil

	case CmdApproveJoin:
		idx := -1
		for i, pj := range newState.PendingJoins {
			if pj.Username == cmd.Username {
				idx = i
				break
			}
		}
		if idx < 0 {
			// Already approved or gone; stale admin UI is not an error.
			return nil, s, nil
		}
		pj := newState.PendingJoins[idx]
		newState.PendingJoins = removePendingJoin(newState.PendingJoins, cmd.Username)
		newState.Participants = append(newState.Participants, Participant{
			Username:      pj.Username,
			Team:          cmd.Team,
			ConnID:        pj.ConnID,
			PendingReview: []string{},
			Completed:     []CompletedObjective{},
		})
		return []Event{{Type: EvtParticipantApproved, Username: pj.Username, ConnID: pj.ConnID, Team: cmd.Team}}, newState, nil

	case CmdRequestReview:
		p := findParticipant(newState, cmd.Username)
		if p == nil {
			return nil, s, ErrUnknownParticipant
		}
		for _, name := range cmd.Objectives {
			if _, ok := newState.Board.Cell(name); !ok {
				return nil, s, ErrUnknownObjective
			}
		}
		var events []Event
		for _, name := range cmd.Objectives {
			if !slices.Contains(p.PendingReview, name) {
				p.PendingReview = append(p.PendingReview, name)
			}
			if reviewQueued(newState.PendingReviews, cmd.Username, name) {
				continue
			}
			newState.PendingReviews = append(newState.PendingReviews, ReviewRequest{Username: cmd.Username, ObjectiveName: name})
			events = append(events, Event{Type: EvtReviewRequested, Username: cmd.Username, Objective: name})
		}
		return events, newState, nil

	case CmdMarkComplete:
		p := findParticipant(newState, cmd.Username)
		cell, ok := newState.Board.Cell(cmd.Objective)
		if p == nil || !ok {
			return nil, s, nil
		}
		p.PendingReview = removeString(p.PendingReview, cmd.Objective)
		p.Completed = append(p.Completed, CompletedObjective{Name: cmd.Objective, Team: cmd.Team})
		cell.Team = cmd.Team
		// Only one team can own a cell, so completion settles every
		// outstanding request for this objective, whoever filed it.
		newState.PendingReviews = removeReviewsForObjective(newState.PendingReviews, cmd.Objective)
		return []Event{{Type: EvtObjectiveCompleted, Username: cmd.Username, Objective: cmd.Objective, Team: cmd.Team}}, newState, nil

	case CmdDismissReview:
		p := findParticipant(newState, cmd.Username)
		if p == nil {
			return nil, s, nil
		}
		if !slices.Contains(p.PendingReview, cmd.Objective) &&
			!reviewQueued(newState.PendingReviews, cmd.Username, cmd.Objective) {
			// Already settled by completion or an earlier dismissal.
			return nil, s, nil
		}
		p.PendingReview = removeString(p.PendingReview, cmd.Objective)
		// Dismissal is per requester: other users' requests for the same
		// objective stay queued.
		newState.PendingReviews = removeReview(newState.PendingReviews, cmd.Username, cmd.Objective)
		return []Event{{Type: EvtReviewDismissed, Username: cmd.Username, Objective: cmd.Objective}}, newState, nil

	case CmdManualChange:
		cell, ok := newState.Board.Cell(cmd.Objective)
		if !ok {
			return nil, s, nil
		}
		cell.Team = cmd.Team // empty team clears ownership
		newState.PendingReviews = removeReviewsForObjective(newState.PendingReviews, cmd.Objective)
		return []Event{{Type: EvtCellOverridden, Objective: cmd.Objective, Team: cmd.Team}}, newState, nil

	case CmdTeamMessage:
		p := findParticipant(newState, cmd.Username)
		if p == nil {
			return nil, s, ErrUnknownParticipant
		}
		if newState.Chat == nil {
			newState.Chat = make(map[string][]ChatMessage)
		}
		log := append(newState.Chat[p.Team], ChatMessage{Username: cmd.Username, Message: cmd.Message})
		if max := newState.Rules.ChatHistory; max > 0 && len(log) > max {
			log = log[len(log)-max:]
		}
		newState.Chat[p.Team] = log
		return []Event{{Type: EvtTeamChat, Username: cmd.Username, Team: p.Team, Message: cmd.Message}}, newState, nil

	case CmdDisconnect:
		var events []Event
		for _, pj := range newState.PendingJoins {
			if pj.ConnID == cmd.ConnID {
				// Pending entries have nothing worth keeping across a drop.
				newState.PendingJoins = removePendingJoin(newState.PendingJoins, pj.Username)
				events = append(events, Event{Type: EvtParticipantRemoved, Username: pj.Username})
				break
			}
		}
		for i := range newState.Participants {
			p := &newState.Participants[i]
			if p.ConnID != cmd.ConnID {
				continue
			}
			if newState.Rules.OnDisconnect == DisconnectRemove {
				username := p.Username
				newState.Participants = removeParticipant(newState.Participants, username)
				newState.PendingReviews = removeReviewsByUser(newState.PendingReviews, username)
				events = append(events, Event{Type: EvtParticipantRemoved, Username: username})
			} else {
				p.ConnID = ""
				events = append(events, Event{Type: EvtConnectionUnlinked, Username: p.Username})
			}
			break
		}
		return events, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}
