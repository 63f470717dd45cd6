package server

import (
	"context"
	"fmt"
	"time"

	"pong-arena/server/internal/store"
	"pong-arena/server/logging"
	logmatch "pong-arena/server/logging/match"
)

const (
	reasonScore                = "score"
	reasonOpponentDisconnected = "opponent-disconnected"
	reasonPlayerLeft           = "player-left"
)

func roomRef(roomID string) logging.EntityRef {
	return logging.EntityRef{ID: roomID, Kind: logging.EntityKindRoom}
}

// HandleGameJoin creates a room when roomID is empty, otherwise seats
// the user in the existing room. A second seat makes the room eligible
// and the game starts immediately.
func (h *Hub) HandleGameJoin(userID, roomID string) {
	h.mu.Lock()

	if roomID == "" {
		if _, ok := h.userRooms[userID]; ok {
			h.mu.Unlock()
			h.sendError(userID, ErrAlreadyJoined)
			return
		}
		room := h.createRoomLocked(userID, RoomOptions{})
		id := room.ID
		h.mu.Unlock()
		h.registry.SendTo(userID, gameEnvelope("room-created", roomCreatedPayload{RoomID: id}))
		return
	}

	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		h.sendError(userID, ErrRoomNotFound)
		return
	}
	if _, ok := h.userRooms[userID]; ok {
		h.mu.Unlock()
		h.sendError(userID, ErrAlreadyJoined)
		return
	}
	if room.seats.Len() >= 2 {
		h.mu.Unlock()
		h.sendError(userID, ErrRoomFull)
		return
	}
	if room.started {
		h.mu.Unlock()
		h.sendError(userID, ErrGameAlreadyStarted)
		return
	}

	h.addPlayerLocked(room, userID)
	players := room.seats.IDs()
	conns := snapshotConnsLocked(room)
	ready := room.seats.Len() == 2
	h.mu.Unlock()

	h.pushToConns(conns, gameEnvelope("joined", joinedPayload{RoomID: roomID, Players: players}))
	if ready {
		h.StartGame(roomID)
	}
}

// HandleGameStart is the explicit start request. Idempotent once the
// game is running.
func (h *Hub) HandleGameStart(userID, roomID string) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		h.sendError(userID, ErrRoomNotFound)
		return
	}
	if !room.seats.Contains(userID) {
		h.mu.Unlock()
		h.sendError(userID, ErrNotInRoom)
		return
	}
	if room.seats.Len() < 2 {
		h.mu.Unlock()
		h.sendError(userID, &Reject{Kind: RejectValidation, Reason: "waiting for an opponent"})
		return
	}
	h.mu.Unlock()
	h.StartGame(roomID)
}

// StartGame begins the tick loop for a full room. Calling it on a room
// that is already running is a no-op.
func (h *Hub) StartGame(roomID string) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok || room.started || room.seats.Len() < 2 {
		h.mu.Unlock()
		return
	}
	room.started = true
	room.startedAt = time.Now()
	room.state.GameOver = false
	room.state.Paused = false
	room.resetServe()
	h.startLoopLocked(room)

	leftID, _ := room.seats.LeftPlayer()
	rightID, _ := room.seats.RightPlayer()
	conns := snapshotConnsLocked(room)
	tick := room.tick
	h.mu.Unlock()

	h.pushToConns(conns, gameEnvelope("game-started", gameStartedPayload{
		RoomID:      roomID,
		LeftPlayer:  leftID,
		RightPlayer: rightID,
	}))
	logmatch.Started(context.Background(), h.publisher, tick, roomRef(roomID), logmatch.StartedPayload{
		LeftPlayer:  leftID,
		RightPlayer: rightID,
	})
}

// HandleMove applies a paddle position from player input, clamped to
// the playfield. Moves are applied directly; the tick loop broadcasts
// the result.
func (h *Hub) HandleMove(userID, roomID string, y float64) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		h.sendError(userID, ErrRoomNotFound)
		return
	}
	if !room.seats.Contains(userID) {
		h.mu.Unlock()
		h.sendError(userID, ErrNotInRoom)
		return
	}
	if y < 0 {
		y = 0
	} else if y > paddleMaxY {
		y = paddleMaxY
	}
	room.state.Paddles[userID] = PaddleState{Y: y}
	h.mu.Unlock()
}

// HandleStateRequest sends the requester a snapshot of the room state.
func (h *Hub) HandleStateRequest(userID, roomID string) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		h.sendError(userID, ErrRoomNotFound)
		return
	}
	state := snapshotStateLocked(room)
	tick := room.tick
	h.mu.Unlock()

	h.registry.SendTo(userID, gameEnvelope("state-update", stateUpdatePayload{
		RoomID: roomID,
		Tick:   tick,
		State:  state,
	}))
}

// HandleDisconnect reacts to a connection closing. A running game is
// paused and a forfeiture timer armed; the player keeps their seat so a
// reconnect can resume. sub scopes the registry unbind to the closing
// connection so a rebind that already replaced it is untouched.
func (h *Hub) HandleDisconnect(userID string, sub *subscriber) {
	h.registry.Unregister(userID, sub)

	h.mu.Lock()
	roomID, ok := h.userRooms[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}

	delete(room.conns, userID)

	if !room.started || room.state.GameOver {
		h.removePlayerLocked(room, userID)
		remaining := room.seats.IDs()
		conns := snapshotConnsLocked(room)
		if room.seats.Len() == 0 {
			h.deleteRoomLocked(room)
		}
		h.mu.Unlock()
		if len(remaining) > 0 {
			h.pushToConns(conns, gameEnvelope("player left", playerLeftPayload{
				RoomID:     roomID,
				LeftPlayer: userID,
			}))
		}
		return
	}

	if room.state.Paused {
		// The opponent is already gone and a forfeiture timer is armed
		// against them. The original timer stands: the first player to
		// abandon the game still loses it.
		h.mu.Unlock()
		return
	}

	room.state.Paused = true
	h.stopLoopLocked(room)
	room.forfeit = time.AfterFunc(reconnectGrace, func() {
		h.forfeitRoom(roomID, userID)
	})
	conns := snapshotConnsLocked(room)
	tick := room.tick
	h.mu.Unlock()

	timeoutSeconds := int(reconnectGrace / time.Second)
	h.pushToConns(conns, gameEnvelope("paused", pausedPayload{
		RoomID:         roomID,
		Reason:         "disconnect",
		UserID:         userID,
		Message:        fmt.Sprintf("Opponent disconnected. Forfeiting in %d seconds.", timeoutSeconds),
		TimeoutSeconds: timeoutSeconds,
	}))
	logmatch.Paused(context.Background(), h.publisher, tick, roomRef(roomID), logmatch.PausedPayload{
		Reason:         "disconnect",
		TimeoutSeconds: timeoutSeconds,
	})
}

// forfeitRoom is the forfeiture timer callback. It re-validates the
// paused state under the lock at fire time: a reconnect that raced the
// timer has already cleared Paused, so the late fire is a no-op.
func (h *Hub) forfeitRoom(roomID, disconnectedID string) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if !room.state.Paused || room.state.GameOver {
		h.mu.Unlock()
		return
	}
	winnerID, ok := room.seats.Opponent(disconnectedID)
	if !ok {
		h.deleteRoomLocked(room)
		h.mu.Unlock()
		return
	}
	outcome := h.resolveGameLocked(room, winnerID, reasonOpponentDisconnected)
	h.mu.Unlock()

	h.counters.IncrementForfeits()
	h.commitOutcome(outcome)
}

// HandleReconnect rebinds the user's fresh connection into their room,
// resumes the loop, and disarms the forfeiture timer.
func (h *Hub) HandleReconnect(userID string) {
	sub, _ := h.registry.Lookup(userID)

	h.mu.Lock()
	roomID, ok := h.userRooms[userID]
	if !ok {
		h.mu.Unlock()
		h.sendError(userID, ErrNoPausedGame)
		return
	}
	room := h.rooms[roomID]
	if sub != nil {
		room.conns[userID] = sub
	}
	if room.forfeit != nil {
		room.forfeit.Stop()
		room.forfeit = nil
	}
	room.state.Paused = false
	if room.started && !room.state.GameOver {
		h.startLoopLocked(room)
	}
	conns := snapshotConnsLocked(room)
	state := snapshotStateLocked(room)
	tick := room.tick
	h.mu.Unlock()

	h.pushToConns(conns, gameEnvelope("resumed", resumedPayload{RoomID: roomID, UserID: userID}))
	h.registry.SendTo(userID, gameEnvelope("state-update", stateUpdatePayload{
		RoomID: roomID,
		Tick:   tick,
		State:  state,
	}))
	logmatch.Resumed(context.Background(), h.publisher, tick, roomRef(roomID))
}

// HandleGameLeave is a voluntary exit. Leaving a live two-player game
// forfeits it immediately, with no grace period.
func (h *Hub) HandleGameLeave(userID, roomID string) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		h.sendError(userID, ErrRoomNotFound)
		return
	}
	if !room.seats.Contains(userID) {
		h.mu.Unlock()
		h.sendError(userID, ErrNotInRoom)
		return
	}

	if room.started && !room.state.GameOver && room.seats.Len() == 2 {
		winnerID, _ := room.seats.Opponent(userID)
		outcome := h.resolveGameLocked(room, winnerID, reasonPlayerLeft)
		outcome.leftPlayer = userID
		h.mu.Unlock()
		h.counters.IncrementForfeits()
		h.commitOutcome(outcome)
		return
	}

	h.removePlayerLocked(room, userID)
	remaining := room.seats.IDs()
	conns := snapshotConnsLocked(room)
	if room.seats.Len() == 0 {
		h.deleteRoomLocked(room)
	}
	h.mu.Unlock()

	if len(remaining) > 0 {
		h.pushToConns(conns, gameEnvelope("player left", playerLeftPayload{
			RoomID:     roomID,
			LeftPlayer: userID,
		}))
	}
}

// vacateCurrentRoomLocked pulls the user out of whatever room they
// currently occupy, with voluntary-leave semantics: a live game is
// forfeited to the stood-up opponent, a waiting room is simply left.
// Bracket seating calls this so a user never holds two room mappings.
func (h *Hub) vacateCurrentRoomLocked(userID string, fx *deferred) {
	roomID, ok := h.userRooms[userID]
	if !ok {
		return
	}
	room, ok := h.rooms[roomID]
	if !ok {
		delete(h.userRooms, userID)
		return
	}

	if room.started && !room.state.GameOver && room.seats.Len() == 2 {
		winnerID, _ := room.seats.Opponent(userID)
		outcome := h.resolveGameLocked(room, winnerID, reasonPlayerLeft)
		outcome.leftPlayer = userID
		fx.outcomes = append(fx.outcomes, outcome)
		return
	}

	h.removePlayerLocked(room, userID)
	remaining := room.seats.IDs()
	if room.seats.Len() == 0 {
		h.deleteRoomLocked(room)
	}
	env := gameEnvelope("player left", playerLeftPayload{
		RoomID:     roomID,
		LeftPlayer: userID,
	})
	for _, pid := range remaining {
		fx.sends = append(fx.sends, directSend{userID: pid, env: env})
	}
}

// gameOutcome captures everything needed to finish a decided game once
// the hub lock is released.
type gameOutcome struct {
	roomID       string
	winnerID     string
	loserID      string
	reason       string
	leftPlayer   string
	finalScore   map[string]int
	player1      string
	player2      string
	score1       int
	score2       int
	matchID      string
	tournamentID string
	round        int
	startedAt    time.Time
	endedAt      time.Time
	tick         uint64
	conns        map[string]*subscriber
}

// resolveGameLocked transitions a room to its terminal state and clears
// its membership. Side effects (persistence, stats, tournament
// progression, notifications) run later in commitOutcome so the lock is
// never held across I/O.
func (h *Hub) resolveGameLocked(room *Room, winnerID, reason string) gameOutcome {
	room.state.GameOver = true
	room.state.Paused = false
	room.winnerID = winnerID
	room.endedAt = time.Now()
	h.stopLoopLocked(room)
	if room.forfeit != nil {
		room.forfeit.Stop()
		room.forfeit = nil
	}

	loserID, _ := room.seats.Opponent(winnerID)
	player1, _ := room.seats.LeftPlayer()
	player2, _ := room.seats.RightPlayer()

	matchID := room.matchID
	if matchID == "" {
		matchID = room.ID
	}

	outcome := gameOutcome{
		roomID:       room.ID,
		winnerID:     winnerID,
		loserID:      loserID,
		reason:       reason,
		finalScore:   make(map[string]int, len(room.state.Scores)),
		player1:      player1,
		player2:      player2,
		score1:       room.state.Scores[player1],
		score2:       room.state.Scores[player2],
		matchID:      matchID,
		tournamentID: room.tournamentID,
		round:        room.round,
		startedAt:    room.startedAt,
		endedAt:      room.endedAt,
		tick:         room.tick,
		conns:        snapshotConnsLocked(room),
	}
	for id, score := range room.state.Scores {
		outcome.finalScore[id] = score
	}

	h.deleteRoomLocked(room)
	return outcome
}

// commitOutcome performs the side effects of a decided game. Failures
// here are observed and swallowed: the outcome is already authoritative
// and must not be undone by downstream I/O.
func (h *Hub) commitOutcome(outcome gameOutcome) {
	ctx := context.Background()

	if outcome.reason == reasonPlayerLeft {
		if sub, ok := outcome.conns[outcome.winnerID]; ok {
			h.pushToConns(map[string]*subscriber{outcome.winnerID: sub}, gameEnvelope("player left", playerLeftPayload{
				RoomID:            outcome.roomID,
				Winner:            outcome.winnerID,
				FinalScore:        outcome.finalScore,
				LeftPlayer:        outcome.leftPlayer,
				IsTournamentMatch: outcome.tournamentID != "",
				TournamentID:      outcome.tournamentID,
				Round:             outcome.round,
			}))
		}
	} else {
		message := "Game over."
		if outcome.reason == reasonOpponentDisconnected {
			message = "Opponent failed to reconnect in time."
		}
		h.pushToConns(outcome.conns, gameEnvelope("game-over", gameOverPayload{
			RoomID:            outcome.roomID,
			Winner:            outcome.winnerID,
			FinalScore:        outcome.finalScore,
			Message:           message,
			IsTournamentMatch: outcome.tournamentID != "",
			TournamentID:      outcome.tournamentID,
			Round:             outcome.round,
		}))
	}

	record := store.MatchRecord{
		ID:           outcome.matchID,
		Player1ID:    outcome.player1,
		Player2ID:    outcome.player2,
		TournamentID: outcome.tournamentID,
		Round:        outcome.round,
		WinnerID:     outcome.winnerID,
		Score1:       outcome.score1,
		Score2:       outcome.score2,
		StartedAt:    outcome.startedAt,
		EndedAt:      outcome.endedAt,
	}
	if err := h.store.SaveMatchResult(ctx, record); err != nil {
		h.logger.Printf("failed to persist match %s: %v", outcome.matchID, err)
		logmatch.PersistenceFailed(ctx, h.publisher, outcome.tick, roomRef(outcome.roomID), logmatch.PersistenceFailedPayload{
			Op:    "saveMatchResult",
			Error: err.Error(),
		})
	}

	stats := []store.PlayerStat{{UserID: outcome.winnerID, Won: true}}
	if outcome.loserID != "" {
		stats = append(stats, store.PlayerStat{UserID: outcome.loserID, Won: false})
	}
	if err := h.store.UpdatePlayerStats(ctx, stats); err != nil {
		h.logger.Printf("failed to update stats for match %s: %v", outcome.matchID, err)
	}

	h.counters.IncrementGamesPlayed()

	logmatch.Ended(ctx, h.publisher, outcome.tick, roomRef(outcome.roomID), logmatch.EndedPayload{
		WinnerID:   outcome.winnerID,
		Reason:     outcome.reason,
		FinalScore: outcome.finalScore,
	})

	if outcome.tournamentID != "" {
		h.RecordMatchResult(outcome.matchID, outcome.winnerID)
	}
}
