package server

import (
	"context"
	"testing"

	"pong-arena/server/internal/store"
)

// joinPair seats two players in a fresh room and returns it. The game
// starts automatically when the second player joins.
func joinPair(t *testing.T, hub *Hub, a, b string) *Room {
	t.Helper()
	hub.HandleGameJoin(a, "")

	hub.mu.Lock()
	roomID := hub.userRooms[a]
	hub.mu.Unlock()
	if roomID == "" {
		t.Fatalf("no room created for %s", a)
	}

	hub.HandleGameJoin(b, roomID)

	hub.mu.Lock()
	room := hub.rooms[roomID]
	hub.mu.Unlock()
	if room == nil {
		t.Fatalf("room %s vanished after second join", roomID)
	}
	return room
}

func TestJoinEmptyRoomIDCreatesRoom(t *testing.T) {
	hub := newTestHub(t)
	hub.HandleGameJoin("alice", "")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.rooms) != 1 {
		t.Fatalf("rooms = %d, want 1", len(hub.rooms))
	}
	roomID := hub.userRooms["alice"]
	if roomID == "" {
		t.Fatal("alice not tracked in userRooms")
	}
	if hub.rooms[roomID].started {
		t.Fatal("single-player room should not be started")
	}
}

func TestSecondJoinStartsGame(t *testing.T) {
	hub := newTestHub(t)
	room := joinPair(t, hub, "alice", "bob")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if !room.started {
		t.Fatal("room should start once both seats fill")
	}
	if room.loop == nil {
		t.Fatal("tick loop not running for a started room")
	}
	left, _ := room.seats.LeftPlayer()
	right, _ := room.seats.RightPlayer()
	if left != "alice" || right != "bob" {
		t.Fatalf("seats = (%q, %q), want (alice, bob)", left, right)
	}
}

func TestJoinRejections(t *testing.T) {
	hub := newTestHub(t)
	room := joinPair(t, hub, "alice", "bob")

	// Unknown room.
	hub.HandleGameJoin("carol", "no-such-room")
	hub.mu.Lock()
	if _, ok := hub.userRooms["carol"]; ok {
		t.Fatal("carol should not be seated after joining an unknown room")
	}
	hub.mu.Unlock()

	// Full (and already started) room.
	hub.HandleGameJoin("carol", room.ID)
	hub.mu.Lock()
	if room.seats.Contains("carol") {
		t.Fatal("carol should not squeeze into a full room")
	}
	hub.mu.Unlock()

	// Double join by a seated player.
	hub.HandleGameJoin("alice", "")
	hub.mu.Lock()
	if len(hub.rooms) != 1 {
		t.Fatal("seated player should not open a second room")
	}
	hub.mu.Unlock()
}

func TestMoveClampsToField(t *testing.T) {
	hub := newTestHub(t)
	room := joinPair(t, hub, "alice", "bob")

	hub.HandleMove("alice", room.ID, -50)
	hub.HandleMove("bob", room.ID, 5000)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if got := room.state.Paddles["alice"].Y; got != 0 {
		t.Fatalf("alice paddle Y = %v, want clamped to 0", got)
	}
	if got := room.state.Paddles["bob"].Y; got != paddleMaxY {
		t.Fatalf("bob paddle Y = %v, want clamped to %v", got, paddleMaxY)
	}
}

func TestMoveRejectsNonMember(t *testing.T) {
	hub := newTestHub(t)
	room := joinPair(t, hub, "alice", "bob")

	hub.HandleMove("mallory", room.ID, 100)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := room.state.Paddles["mallory"]; ok {
		t.Fatal("non-member move should not create a paddle")
	}
}

func TestDisconnectPausesRunningGame(t *testing.T) {
	hub := newTestHub(t)
	room := joinPair(t, hub, "alice", "bob")

	hub.HandleDisconnect("alice", nil)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if !room.state.Paused {
		t.Fatal("game should pause when a player disconnects")
	}
	if room.loop != nil {
		t.Fatal("tick loop should stop while paused")
	}
	if !room.seats.Contains("alice") {
		t.Fatal("disconnected player must keep their seat for reconnection")
	}
	if room.forfeit == nil {
		t.Fatal("forfeiture timer should be armed")
	}
}

func TestDisconnectFromUnstartedRoomRemovesPlayer(t *testing.T) {
	hub := newTestHub(t)
	hub.HandleGameJoin("alice", "")

	hub.mu.Lock()
	roomID := hub.userRooms["alice"]
	hub.mu.Unlock()

	hub.HandleDisconnect("alice", nil)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.rooms[roomID]; ok {
		t.Fatal("empty unstarted room should be deleted")
	}
	if _, ok := hub.userRooms["alice"]; ok {
		t.Fatal("alice should be released from userRooms")
	}
}

func TestForfeitDeclaresOpponentWinner(t *testing.T) {
	hub := newTestHub(t)
	room := joinPair(t, hub, "alice", "bob")
	roomID := room.ID

	hub.HandleDisconnect("alice", nil)
	// Fire the forfeiture directly instead of waiting out the grace
	// period.
	hub.forfeitRoom(roomID, "alice")

	hub.mu.Lock()
	if _, ok := hub.rooms[roomID]; ok {
		hub.mu.Unlock()
		t.Fatal("resolved room should be deleted")
	}
	hub.mu.Unlock()

	mem := hub.store.(*store.Memory)
	match, ok := mem.GetMatch(roomID)
	if !ok {
		t.Fatal("match not persisted")
	}
	if match.WinnerID != "bob" {
		t.Fatalf("winner = %q, want bob", match.WinnerID)
	}

	snapshot := hub.TelemetrySnapshot()
	if snapshot.Forfeits != 1 {
		t.Fatalf("forfeits = %d, want 1", snapshot.Forfeits)
	}
}

func TestSecondDisconnectKeepsOriginalForfeitTimer(t *testing.T) {
	hub := newTestHub(t)
	room := joinPair(t, hub, "alice", "bob")
	roomID := room.ID

	hub.HandleDisconnect("alice", nil)

	hub.mu.Lock()
	first := room.forfeit
	hub.mu.Unlock()
	if first == nil {
		t.Fatal("no forfeiture timer armed after the first disconnect")
	}

	hub.HandleDisconnect("bob", nil)

	hub.mu.Lock()
	rearmed := room.forfeit != first
	hub.mu.Unlock()
	if rearmed {
		t.Fatal("second disconnect must not re-arm the forfeiture timer")
	}

	// The standing timer still targets the first player to drop.
	hub.forfeitRoom(roomID, "alice")

	mem := hub.store.(*store.Memory)
	match, ok := mem.GetMatch(roomID)
	if !ok {
		t.Fatal("match not persisted")
	}
	if match.WinnerID != "bob" {
		t.Fatalf("winner = %q, want bob (first to abandon loses)", match.WinnerID)
	}
}

func TestReconnectDisarmsForfeit(t *testing.T) {
	hub := newTestHub(t)
	room := joinPair(t, hub, "alice", "bob")
	roomID := room.ID

	hub.HandleDisconnect("alice", nil)
	hub.HandleReconnect("alice")

	// A late timer fire must be a no-op: the pause was cleared.
	hub.forfeitRoom(roomID, "alice")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	got, ok := hub.rooms[roomID]
	if !ok {
		t.Fatal("room should survive a reconnect inside the grace period")
	}
	if got.state.Paused {
		t.Fatal("game should resume after reconnect")
	}
	if got.loop == nil {
		t.Fatal("tick loop should restart after reconnect")
	}
	if got.forfeit != nil {
		t.Fatal("forfeiture timer should be disarmed")
	}
}

func TestReconnectWithoutPausedGame(t *testing.T) {
	hub := newTestHub(t)
	hub.HandleReconnect("stranger")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.rooms) != 0 {
		t.Fatal("reconnect with no game should not create state")
	}
}

func TestLeaveRunningGameForfeitsImmediately(t *testing.T) {
	hub := newTestHub(t)
	room := joinPair(t, hub, "alice", "bob")
	roomID := room.ID

	hub.HandleGameLeave("alice", roomID)

	hub.mu.Lock()
	if _, ok := hub.rooms[roomID]; ok {
		hub.mu.Unlock()
		t.Fatal("room should be deleted after a mid-game leave")
	}
	hub.mu.Unlock()

	mem := hub.store.(*store.Memory)
	match, ok := mem.GetMatch(roomID)
	if !ok {
		t.Fatal("match not persisted")
	}
	if match.WinnerID != "bob" {
		t.Fatalf("winner = %q, want bob", match.WinnerID)
	}

	user, err := mem.GetUserByID(context.Background(), "bob")
	if err != nil {
		t.Fatalf("bob not in store: %v", err)
	}
	if user.Wins != 1 {
		t.Fatalf("bob wins = %d, want 1", user.Wins)
	}
}

func TestLeaveUnstartedRoomJustRemoves(t *testing.T) {
	hub := newTestHub(t)
	hub.HandleGameJoin("alice", "")

	hub.mu.Lock()
	roomID := hub.userRooms["alice"]
	hub.mu.Unlock()

	hub.HandleGameLeave("alice", roomID)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.rooms[roomID]; ok {
		t.Fatal("empty room should be deleted after its only player leaves")
	}

	mem := hub.store.(*store.Memory)
	if _, ok := mem.GetMatch(roomID); ok {
		t.Fatal("no match should be recorded for an abandoned lobby")
	}
}

func TestScoredWinCommitsOutcome(t *testing.T) {
	hub := newTestHub(t)
	room := joinPair(t, hub, "alice", "bob")
	roomID := room.ID

	hub.mu.Lock()
	loop := room.loop
	room.state.Scores["alice"] = winningScore - 1
	room.state.Paddles["bob"] = PaddleState{Y: 0}
	room.state.Ball = BallState{X: 805, Y: 350, VX: 5, VY: 0}
	hub.mu.Unlock()

	if alive := hub.step(roomID, loop); alive {
		t.Fatal("step should report the loop done after a win")
	}

	hub.mu.Lock()
	if _, ok := hub.rooms[roomID]; ok {
		hub.mu.Unlock()
		t.Fatal("room should be deleted after the game resolves")
	}
	hub.mu.Unlock()

	mem := hub.store.(*store.Memory)
	match, ok := mem.GetMatch(roomID)
	if !ok {
		t.Fatal("match not persisted")
	}
	if match.WinnerID != "alice" {
		t.Fatalf("winner = %q, want alice", match.WinnerID)
	}

	snapshot := hub.TelemetrySnapshot()
	if snapshot.GamesPlayed != 1 {
		t.Fatalf("gamesPlayed = %d, want 1", snapshot.GamesPlayed)
	}
}
