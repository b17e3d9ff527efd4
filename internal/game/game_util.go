package game

import "slices"

// NewState generates a fresh lobby: board drawn from the pool, everything
// else empty. Generation never partially succeeds; a pool that is too small
// fails before any state exists.
func NewState(roomCode, adminCode string, boardSize int, pool []Objective, rules Rules) (State, error) {
	board, err := GenerateBoard(boardSize, pool)
	if err != nil {
		return State{}, err
	}
	if rules.OnDisconnect == "" {
		rules.OnDisconnect = DisconnectRetain
	}
	if rules.ChatHistory == 0 {
		rules.ChatHistory = 100
	}
	return State{
		RoomCode:       roomCode,
		AdminCode:      adminCode,
		BoardSize:      boardSize,
		Board:          board,
		Participants:   []Participant{},
		PendingJoins:   []PendingJoin{},
		PendingReviews: []ReviewRequest{},
		Chat:           make(map[string][]ChatMessage),
		Rules:          rules,
	}, nil
}

func findParticipant(s State, username string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].Username == username {
			return &s.Participants[i]
		}
	}
	return nil
}

// cloneParticipants copies the list and the nested per-participant slices,
// which Apply otherwise mutates through shared backing arrays.
func cloneParticipants(list []Participant) []Participant {
	out := slices.Clone(list)
	for i := range out {
		out[i].PendingReview = slices.Clone(out[i].PendingReview)
		out[i].Completed = slices.Clone(out[i].Completed)
	}
	return out
}

func removePendingJoin(list []PendingJoin, username string) []PendingJoin {
	out := make([]PendingJoin, 0, len(list))
	for _, pj := range list {
		if pj.Username != username {
			out = append(out, pj)
		}
	}
	return out
}

func removeParticipant(list []Participant, username string) []Participant {
	out := make([]Participant, 0, len(list))
	for _, p := range list {
		if p.Username != username {
			out = append(out, p)
		}
	}
	return out
}

func removeString(list []string, name string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != name {
			out = append(out, s)
		}
	}
	return out
}

func reviewQueued(list []ReviewRequest, username, objective string) bool {
	for _, r := range list {
		if r.Username == username && r.ObjectiveName == objective {
			return true
		}
	}
	return false
}

func removeReview(list []ReviewRequest, username, objective string) []ReviewRequest {
	out := make([]ReviewRequest, 0, len(list))
	for _, r := range list {
		if r.Username != username || r.ObjectiveName != objective {
			out = append(out, r)
		}
	}
	return out
}

func removeReviewsForObjective(list []ReviewRequest, objective string) []ReviewRequest {
	out := make([]ReviewRequest, 0, len(list))
	for _, r := range list {
		if r.ObjectiveName != objective {
			out = append(out, r)
		}
	}
	return out
}

func removeReviewsByUser(list []ReviewRequest, username string) []ReviewRequest {
	out := make([]ReviewRequest, 0, len(list))
	for _, r := range list {
		if r.Username != username {
			out = append(out, r)
		}
	}
	return out
}
