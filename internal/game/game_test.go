package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T, boardSize, poolSize int, rules Rules) State {
	t.Helper()
	s, err := NewState("AB12", "secret", boardSize, makePool(poolSize), rules)
	require.NoError(t, err)
	return s
}

// joinAndApprove walks a user through the full admission flow.
func joinAndApprove(t *testing.T, s State, username, team, connID string) State {
	t.Helper()
	_, s, err := Apply(s, Command{Type: CmdRequestJoin, Username: username, ConnID: connID})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdApproveJoin, Username: username, Team: team})
	require.NoError(t, err)
	return s
}

func TestNewState_InsufficientObjectives(t *testing.T) {
	_, err := NewState("AB12", "secret", 4, makePool(10), Rules{})
	require.ErrorIs(t, err, ErrInsufficientObjectives)
}

func TestRequestJoin_DuplicateUsernameRejected(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})

	events, s, err := Apply(s, Command{Type: CmdRequestJoin, Username: "alice", ConnID: "c1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EvtJoinRequested, events[0].Type)
	require.Len(t, s.PendingJoins, 1)

	// Second request while still pending.
	_, _, err = Apply(s, Command{Type: CmdRequestJoin, Username: "alice", ConnID: "c2"})
	require.ErrorIs(t, err, ErrUsernameTaken)

	// Still taken after approval.
	_, s, err = Apply(s, Command{Type: CmdApproveJoin, Username: "alice", Team: "red"})
	require.NoError(t, err)
	_, _, err = Apply(s, Command{Type: CmdRequestJoin, Username: "alice", ConnID: "c3"})
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestApproveJoin_MovesToParticipantsAndIsIdempotent(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	_, s, err := Apply(s, Command{Type: CmdRequestJoin, Username: "alice", ConnID: "c1"})
	require.NoError(t, err)

	events, s, err := Apply(s, Command{Type: CmdApproveJoin, Username: "alice", Team: "red"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EvtParticipantApproved, events[0].Type)
	require.Equal(t, "c1", events[0].ConnID, "approval must target the pending entry's connection")

	require.Empty(t, s.PendingJoins)
	require.Len(t, s.Participants, 1)
	require.Equal(t, "alice", s.Participants[0].Username)
	require.Equal(t, "red", s.Participants[0].Team)
	require.Empty(t, s.Participants[0].PendingReview)
	require.Empty(t, s.Participants[0].Completed)

	// A second approval for the same username is a silent no-op.
	events, s, err = Apply(s, Command{Type: CmdApproveJoin, Username: "alice", Team: "blue"})
	require.NoError(t, err)
	require.Empty(t, events)
	require.Len(t, s.Participants, 1)
	require.Equal(t, "red", s.Participants[0].Team)
}

func TestReviewLifecycle(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	require.Equal(t, 9, s.Board.Len())
	s = joinAndApprove(t, s, "alice", "red", "c1")

	obj := s.Board.Cells()[0].Name

	events, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, []ReviewRequest{{Username: "alice", ObjectiveName: obj}}, s.PendingReviews)
	require.Equal(t, []string{obj}, s.Participants[0].PendingReview)

	events, s, err = Apply(s, Command{Type: CmdMarkComplete, Username: "alice", Objective: obj, Team: "red"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EvtObjectiveCompleted, events[0].Type)

	cell, ok := s.Board.Cell(obj)
	require.True(t, ok)
	require.Equal(t, "red", cell.Team)
	require.Empty(t, s.PendingReviews)
	require.Empty(t, s.Participants[0].PendingReview)
	require.Equal(t, []CompletedObjective{{Name: obj, Team: "red"}}, s.Participants[0].Completed)
}

func TestRequestReview_IdempotentResubmit(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	obj := s.Board.Cells()[0].Name

	_, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)

	events, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)
	require.Empty(t, events, "resubmitting an already-pending objective changes nothing")
	require.Len(t, s.PendingReviews, 1)
	require.Equal(t, []string{obj}, s.Participants[0].PendingReview)
}

func TestRequestReview_UnknownObjectiveRejected(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	obj := s.Board.Cells()[0].Name

	_, after, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj, "bogus"}})
	require.ErrorIs(t, err, ErrUnknownObjective)
	require.Empty(t, after.PendingReviews, "rejection must not partially apply")
}

func TestRequestReview_UnknownParticipantRejected(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	obj := s.Board.Cells()[0].Name
	_, _, err := Apply(s, Command{Type: CmdRequestReview, Username: "ghost", Objectives: []string{obj}})
	require.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestMarkComplete_SettlesEveryRequesterForObjective(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	s = joinAndApprove(t, s, "bob", "blue", "c2")
	obj := s.Board.Cells()[0].Name
	other := s.Board.Cells()[1].Name

	_, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdRequestReview, Username: "bob", Objectives: []string{obj, other}})
	require.NoError(t, err)
	require.Len(t, s.PendingReviews, 3)

	_, s, err = Apply(s, Command{Type: CmdMarkComplete, Username: "alice", Objective: obj, Team: "red"})
	require.NoError(t, err)

	// Bob's request for the completed objective is gone too; his request for
	// the other objective survives.
	require.Equal(t, []ReviewRequest{{Username: "bob", ObjectiveName: other}}, s.PendingReviews)
	cell, _ := s.Board.Cell(obj)
	require.Equal(t, "red", cell.Team)
}

func TestMarkComplete_UnknownTargetsAreNoOps(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	obj := s.Board.Cells()[0].Name

	events, s, err := Apply(s, Command{Type: CmdMarkComplete, Username: "ghost", Objective: obj, Team: "red"})
	require.NoError(t, err)
	require.Empty(t, events)

	events, s, err = Apply(s, Command{Type: CmdMarkComplete, Username: "alice", Objective: "bogus", Team: "red"})
	require.NoError(t, err)
	require.Empty(t, events)

	cell, _ := s.Board.Cell(obj)
	require.Empty(t, cell.Team)
}

func TestDismissReview_RemovesOnlyMatchingPair(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	s = joinAndApprove(t, s, "bob", "blue", "c2")
	obj := s.Board.Cells()[0].Name

	_, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdRequestReview, Username: "bob", Objectives: []string{obj}})
	require.NoError(t, err)

	_, s, err = Apply(s, Command{Type: CmdDismissReview, Username: "alice", Objective: obj})
	require.NoError(t, err)

	require.Equal(t, []ReviewRequest{{Username: "bob", ObjectiveName: obj}}, s.PendingReviews)
	require.Empty(t, s.Participants[0].PendingReview)
	require.Equal(t, []string{obj}, s.Participants[1].PendingReview)

	cell, _ := s.Board.Cell(obj)
	require.Empty(t, cell.Team, "dismissal never claims the cell")
}

func TestDismissReview_AlreadySettledIsSilent(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	obj := s.Board.Cells()[0].Name
	other := s.Board.Cells()[1].Name

	_, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)
	events, s, err := Apply(s, Command{Type: CmdDismissReview, Username: "alice", Objective: obj})
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Dismissing the same pair again finds nothing to clear; no event means
	// no pointless re-broadcast.
	events, s, err = Apply(s, Command{Type: CmdDismissReview, Username: "alice", Objective: obj})
	require.NoError(t, err)
	require.Empty(t, events)

	// Same when completion already settled the request.
	_, s, err = Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{other}})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdMarkComplete, Username: "alice", Objective: other, Team: "red"})
	require.NoError(t, err)
	events, _, err = Apply(s, Command{Type: CmdDismissReview, Username: "alice", Objective: other})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestManualChange_SetsClearsAndFlushesQueue(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	obj := s.Board.Cells()[0].Name

	_, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)

	_, s, err = Apply(s, Command{Type: CmdManualChange, Objective: obj, Team: "blue"})
	require.NoError(t, err)
	cell, _ := s.Board.Cell(obj)
	require.Equal(t, "blue", cell.Team)
	require.Empty(t, s.PendingReviews)

	_, s, err = Apply(s, Command{Type: CmdManualChange, Objective: obj, Team: ""})
	require.NoError(t, err)
	cell, _ = s.Board.Cell(obj)
	require.Empty(t, cell.Team)

	events, _, err := Apply(s, Command{Type: CmdManualChange, Objective: "bogus", Team: "red"})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestDisconnect_RetainKeepsParticipant(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{OnDisconnect: DisconnectRetain})
	s = joinAndApprove(t, s, "alice", "red", "c1")

	events, s, err := Apply(s, Command{Type: CmdDisconnect, ConnID: "c1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EvtConnectionUnlinked, events[0].Type)

	require.Len(t, s.Participants, 1)
	require.Empty(t, s.Participants[0].ConnID)
	require.Equal(t, "red", s.Participants[0].Team)
}

func TestDisconnect_RemoveDeletesParticipantAndRequests(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{OnDisconnect: DisconnectRemove})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	obj := s.Board.Cells()[0].Name
	_, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)

	events, s, err := Apply(s, Command{Type: CmdDisconnect, ConnID: "c1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EvtParticipantRemoved, events[0].Type)

	require.Empty(t, s.Participants)
	require.Empty(t, s.PendingReviews)
}

func TestDisconnect_DropsPendingJoin(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	_, s, err := Apply(s, Command{Type: CmdRequestJoin, Username: "alice", ConnID: "c1"})
	require.NoError(t, err)

	_, s, err = Apply(s, Command{Type: CmdDisconnect, ConnID: "c1"})
	require.NoError(t, err)
	require.Empty(t, s.PendingJoins)
}

func TestRequestJoin_RebindsAfterDisconnect(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{OnDisconnect: DisconnectRetain})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	_, s, err := Apply(s, Command{Type: CmdDisconnect, ConnID: "c1"})
	require.NoError(t, err)

	events, s, err := Apply(s, Command{Type: CmdRequestJoin, Username: "alice", ConnID: "c2"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EvtParticipantApproved, events[0].Type, "reconnect skips the approval queue")
	require.Equal(t, "c2", events[0].ConnID)

	require.Empty(t, s.PendingJoins)
	require.Equal(t, "c2", s.Participants[0].ConnID)
	require.Equal(t, "red", s.Participants[0].Team)
}

func TestTeamMessage(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{ChatHistory: 2})
	s = joinAndApprove(t, s, "alice", "red", "c1")

	events, s, err := Apply(s, Command{Type: CmdTeamMessage, Username: "alice", Message: "found one"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EvtTeamChat, events[0].Type)
	require.Equal(t, "red", events[0].Team, "message routes by the sender's team")

	// The per-team log is bounded.
	_, s, err = Apply(s, Command{Type: CmdTeamMessage, Username: "alice", Message: "second"})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdTeamMessage, Username: "alice", Message: "third"})
	require.NoError(t, err)
	require.Equal(t, []ChatMessage{{Username: "alice", Message: "second"}, {Username: "alice", Message: "third"}}, s.Chat["red"])

	_, _, err = Apply(s, Command{Type: CmdTeamMessage, Username: "ghost", Message: "hi"})
	require.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestSnapshot_OmitsSecrets(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")

	snap := BuildSnapshot(s)
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NotContains(t, string(data), "secret")
	require.NotContains(t, string(data), "c1")
	require.True(t, snap.Participants[0].Connected)
}

func TestBuildSnapshot_DetachedFromLiveState(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	obj := s.Board.Cells()[0].Name
	_, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)

	snap := BuildSnapshot(s)
	_, _, err = Apply(s, Command{Type: CmdMarkComplete, Username: "alice", Objective: obj, Team: "red"})
	require.NoError(t, err)

	// The snapshot predates the completion and must keep saying so even
	// though Apply mutated the board cell in place.
	require.Empty(t, snap.Board[0].Team)
	require.Equal(t, []ReviewRequest{{Username: "alice", ObjectiveName: obj}}, snap.PendingReviews)
	require.Equal(t, []string{obj}, snap.Participants[0].PendingReview)
	require.Empty(t, snap.Participants[0].Completed)
}

func TestBuildExport_DetachedFromLiveState(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	obj := s.Board.Cells()[0].Name
	_, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)

	exp := BuildExport(s)
	_, _, err = Apply(s, Command{Type: CmdMarkComplete, Username: "alice", Objective: obj, Team: "red"})
	require.NoError(t, err)

	cell, ok := exp.Board.Cell(obj)
	require.True(t, ok)
	require.Empty(t, cell.Team)
	require.Len(t, exp.PendingReviews, 1)
	require.Equal(t, []string{obj}, exp.Participants[0].PendingReview)
}

func TestStateClone_DetachedFromOriginal(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	obj := s.Board.Cells()[0].Name
	_, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)

	clone := s.Clone()
	_, _, err = Apply(s, Command{Type: CmdMarkComplete, Username: "alice", Objective: obj, Team: "red"})
	require.NoError(t, err)

	// The original's cell changed underfoot; the clone did not follow.
	liveCell, _ := s.Board.Cell(obj)
	require.Equal(t, "red", liveCell.Team)
	clonedCell, _ := clone.Board.Cell(obj)
	require.Empty(t, clonedCell.Team)
	require.Len(t, clone.PendingReviews, 1)
	require.Equal(t, []string{obj}, clone.Participants[0].PendingReview)
	require.Empty(t, clone.Participants[0].Completed)
}

func TestExportRestore_RoundTrip(t *testing.T) {
	s := newTestState(t, 3, 25, Rules{})
	s = joinAndApprove(t, s, "alice", "red", "c1")
	obj := s.Board.Cells()[0].Name
	_, s, err := Apply(s, Command{Type: CmdRequestReview, Username: "alice", Objectives: []string{obj}})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdRequestJoin, Username: "bob", ConnID: "c2"})
	require.NoError(t, err)

	data, err := json.Marshal(BuildExport(s))
	require.NoError(t, err)
	var exp Export
	require.NoError(t, json.Unmarshal(data, &exp))

	restored := Restore(exp, s.Rules)
	require.Equal(t, s.RoomCode, restored.RoomCode)
	require.Equal(t, s.AdminCode, restored.AdminCode)
	require.Equal(t, s.Board.Cells(), restored.Board.Cells())
	require.Equal(t, s.PendingReviews, restored.PendingReviews)

	// Connections cannot be revived across a restore.
	require.Len(t, restored.Participants, 1)
	require.Empty(t, restored.Participants[0].ConnID)
	require.Empty(t, restored.PendingJoins, "pending joins are reset on restore")
}
