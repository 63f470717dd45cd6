package server

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pong-arena/server/internal/store"
)

func joinFour(t *testing.T, hub *Hub) *tournament {
	t.Helper()
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		hub.HandleTournamentJoin(id, "")
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	for _, tr := range hub.tournaments {
		if tr.Status == tournamentActive {
			return tr
		}
	}
	t.Fatal("no active tournament after four joins")
	return nil
}

func TestPendingTournamentExistsAtStartup(t *testing.T) {
	hub := newTestHub(t)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.NotEmpty(t, hub.pendingTournamentID)
	tr := hub.tournaments[hub.pendingTournamentID]
	require.NotNil(t, tr)
	require.Equal(t, tournamentPending, tr.Status)
}

func TestFourthJoinStartsTournament(t *testing.T) {
	hub := newTestHub(t)
	tr := joinFour(t, hub)

	hub.mu.Lock()
	defer hub.mu.Unlock()

	require.Equal(t, tournamentActive, tr.Status)
	require.Equal(t, 1, tr.CurrentRound)
	require.Len(t, tr.Matches, 2)

	seen := make(map[string]bool)
	for _, m := range tr.Matches {
		require.Equal(t, 1, m.Round)
		require.NotEmpty(t, m.RoomID)
		room := hub.rooms[m.RoomID]
		require.NotNil(t, room, "semifinal room missing")
		require.True(t, room.started)
		require.NotNil(t, room.loop, "semifinal loop not running")
		require.Equal(t, tr.ID, room.tournamentID)
		seen[m.Player1] = true
		seen[m.Player2] = true
	}
	require.Len(t, seen, 4, "every participant should be seated in round one")

	// A new pending slot is not opened until this one finishes.
	require.Empty(t, hub.pendingTournamentID)
}

func TestTournamentStartVacatesCasualRoom(t *testing.T) {
	hub := newTestHub(t)
	mem := hub.store.(*store.Memory)
	casual := joinPair(t, hub, "p1", "mate")

	tr := joinFour(t, hub)

	hub.mu.Lock()
	_, casualAlive := hub.rooms[casual.ID]
	bracketRoom := hub.rooms[hub.userRooms["p1"]]
	var seated bool
	if bracketRoom != nil {
		seated = bracketRoom.seats.Contains("p1")
	}
	hub.mu.Unlock()

	require.False(t, casualAlive, "casual room should resolve when the bracket seats p1")
	require.NotNil(t, bracketRoom, "p1 should map to a bracket room")
	require.Equal(t, tr.ID, bracketRoom.tournamentID)
	require.True(t, seated)

	match, ok := mem.GetMatch(casual.ID)
	require.True(t, ok, "forfeited casual game should be recorded")
	require.Equal(t, "mate", match.WinnerID, "stood-up opponent wins the casual game")
}

func TestTournamentStartVacatesWaitingRoom(t *testing.T) {
	hub := newTestHub(t)
	mem := hub.store.(*store.Memory)
	hub.HandleGameJoin("p1", "")

	hub.mu.Lock()
	waitingRoomID := hub.userRooms["p1"]
	hub.mu.Unlock()
	require.NotEmpty(t, waitingRoomID)

	joinFour(t, hub)

	hub.mu.Lock()
	_, waitingAlive := hub.rooms[waitingRoomID]
	bracketRoomID := hub.userRooms["p1"]
	hub.mu.Unlock()

	require.False(t, waitingAlive, "empty waiting room should be deleted")
	require.NotEmpty(t, bracketRoomID)
	require.NotEqual(t, waitingRoomID, bracketRoomID)

	_, ok := mem.GetMatch(waitingRoomID)
	require.False(t, ok, "no match record for a game that never started")
}

func TestDoubleTournamentJoinRejected(t *testing.T) {
	hub := newTestHub(t)
	hub.HandleTournamentJoin("p1", "")
	hub.HandleTournamentJoin("p1", "")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	tr := hub.tournaments[hub.pendingTournamentID]
	require.Equal(t, []string{"p1"}, tr.Participants)
}

func TestTournamentLeaveWhilePending(t *testing.T) {
	hub := newTestHub(t)
	hub.HandleTournamentJoin("p1", "")
	hub.HandleTournamentJoin("p2", "")
	hub.HandleTournamentLeave("p1", "")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	tr := hub.tournaments[hub.pendingTournamentID]
	require.Equal(t, []string{"p2"}, tr.Participants)
	_, enrolled := hub.userTournaments["p1"]
	require.False(t, enrolled)
}

// finishMatch resolves one live tournament match by having the loser
// walk out, which forfeits to the opponent.
func finishMatch(t *testing.T, hub *Hub, tr *tournament, round int, winnerOf func(m *tournamentMatch) string) {
	t.Helper()
	hub.mu.Lock()
	matches := tr.roundMatches(round)
	type pending struct{ loser, roomID string }
	var work []pending
	for _, m := range matches {
		if m.WinnerID != "" {
			continue
		}
		winner := winnerOf(m)
		loser := m.Player1
		if loser == winner {
			loser = m.Player2
		}
		work = append(work, pending{loser: loser, roomID: m.RoomID})
	}
	hub.mu.Unlock()

	for _, w := range work {
		hub.HandleGameLeave(w.loser, w.roomID)
	}
}

func TestTournamentRunsToCompletion(t *testing.T) {
	hub := newTestHub(t)
	tr := joinFour(t, hub)

	// Player1 of each match wins its semifinal.
	finishMatch(t, hub, tr, 1, func(m *tournamentMatch) string { return m.Player1 })

	hub.mu.Lock()
	require.Equal(t, 2, tr.CurrentRound, "final round should open after both semifinals")
	finals := tr.roundMatches(2)
	require.Len(t, finals, 1)
	final := finals[0]
	require.NotEmpty(t, final.RoomID)
	require.NotNil(t, hub.rooms[final.RoomID], "final room missing")
	semis := tr.roundMatches(1)
	require.Equal(t, semis[0].WinnerID, final.Player1, "winners pair positionally")
	require.Equal(t, semis[1].WinnerID, final.Player2, "winners pair positionally")
	hub.mu.Unlock()

	finishMatch(t, hub, tr, 2, func(m *tournamentMatch) string { return m.Player1 })
	champion := final.Player1

	hub.mu.Lock()
	require.Equal(t, tournamentCompleted, tr.Status)
	require.Equal(t, champion, tr.WinnerID)
	require.Empty(t, hub.userTournaments, "memberships should clear when the bracket ends")
	require.NotEmpty(t, hub.pendingTournamentID, "a fresh tournament should open")
	require.NotEqual(t, tr.ID, hub.pendingTournamentID)
	hub.mu.Unlock()

	user, err := hub.store.GetUserByID(context.Background(), champion)
	require.NoError(t, err)
	require.Equal(t, 1, user.TournamentWins)
}

func TestRecordMatchResultIdempotent(t *testing.T) {
	hub := newTestHub(t)
	tr := joinFour(t, hub)

	hub.mu.Lock()
	first := tr.roundMatches(1)[0]
	matchID := first.ID
	winner := first.Player1
	hub.mu.Unlock()

	hub.RecordMatchResult(matchID, winner)
	hub.RecordMatchResult(matchID, first.Player2)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Equal(t, winner, first.WinnerID, "second record must not overwrite the winner")
	require.Len(t, tr.Matches, 2, "no final until the round completes")
}

func TestUnknownMatchResultIgnored(t *testing.T) {
	hub := newTestHub(t)
	tr := joinFour(t, hub)

	hub.RecordMatchResult("no-such-match", "p1")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Len(t, tr.Matches, 2)
	require.Equal(t, 1, tr.CurrentRound)
}

func TestTournamentLeaveMidMatchForfeits(t *testing.T) {
	hub := newTestHub(t)
	tr := joinFour(t, hub)

	hub.mu.Lock()
	first := tr.roundMatches(1)[0]
	leaver := first.Player1
	opponent := first.Player2
	hub.mu.Unlock()

	hub.HandleTournamentLeave(leaver, "")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Equal(t, opponent, first.WinnerID, "opponent should advance on walkover")
	_, enrolled := hub.userTournaments[leaver]
	require.False(t, enrolled)
}

// relockStore wraps a store and re-acquires the hub mutex around every
// tournament-path write. A caller issuing the write while holding the
// mutex deadlocks, so the suite catches persistence running under the
// hub lock.
type relockStore struct {
	store.Store
	mu *sync.Mutex
}

func (s *relockStore) relock() {
	if s.mu == nil {
		return
	}
	s.mu.Lock()
	s.mu.Unlock()
}

func (s *relockStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	s.relock()
	return s.Store.GetUserByID(ctx, id)
}

func (s *relockStore) IncrementTournamentWins(ctx context.Context, userID string) error {
	s.relock()
	return s.Store.IncrementTournamentWins(ctx, userID)
}

func (s *relockStore) SetUserTournament(ctx context.Context, userID, tournamentID string) error {
	s.relock()
	return s.Store.SetUserTournament(ctx, userID, tournamentID)
}

func (s *relockStore) CreateMatch(ctx context.Context, match store.MatchRecord) error {
	s.relock()
	return s.Store.CreateMatch(ctx, match)
}

func (s *relockStore) SetMatchWinner(ctx context.Context, matchID, winnerID string) error {
	s.relock()
	return s.Store.SetMatchWinner(ctx, matchID, winnerID)
}

func (s *relockStore) CreateTournament(ctx context.Context, record store.TournamentRecord) error {
	s.relock()
	return s.Store.CreateTournament(ctx, record)
}

func (s *relockStore) UpdateTournament(ctx context.Context, record store.TournamentRecord) error {
	s.relock()
	return s.Store.UpdateTournament(ctx, record)
}

func TestTournamentPersistenceRunsOutsideHubLock(t *testing.T) {
	wrapped := &relockStore{Store: store.NewMemory()}
	hub := NewHubWithConfig(HubConfig{
		Logger: discardLogger(),
		Store:  wrapped,
		Seed:   42,
	})
	wrapped.mu = &hub.mu
	t.Cleanup(func() {
		hub.mu.Lock()
		for _, room := range hub.rooms {
			hub.stopLoopLocked(room)
		}
		hub.mu.Unlock()
	})

	tr := joinFour(t, hub)
	finishMatch(t, hub, tr, 1, func(m *tournamentMatch) string { return m.Player1 })
	finishMatch(t, hub, tr, 2, func(m *tournamentMatch) string { return m.Player1 })

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Equal(t, tournamentCompleted, tr.Status)
	require.NotEmpty(t, tr.WinnerID)
}

func TestJoinActiveTournamentRejected(t *testing.T) {
	hub := newTestHub(t)
	tr := joinFour(t, hub)

	hub.HandleTournamentJoin("p5", tr.ID)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.NotContains(t, tr.Participants, "p5")
	_, enrolled := hub.userTournaments["p5"]
	require.False(t, enrolled)
}
