package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pong-arena/server/internal/store"
	"pong-arena/server/logging"
	logtournament "pong-arena/server/logging/tournament"
)

const (
	tournamentPending   = "pending"
	tournamentActive    = "active"
	tournamentCompleted = "completed"
)

// tournament is a four-player single-elimination bracket: two
// semifinals feed one final. A fresh pending tournament always exists
// so there is something to join.
type tournament struct {
	ID           string
	Name         string
	Status       string
	Participants []string
	Matches      []*tournamentMatch
	CurrentRound int
	WinnerID     string
	CreatedAt    time.Time
}

type tournamentMatch struct {
	ID       string
	Player1  string
	Player2  string
	WinnerID string
	Round    int
	RoomID   string
}

func tournamentRef(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindTournament}
}

// ensurePendingTournamentLocked guarantees an open pending tournament.
// The persistence write is queued on fx for after the lock drops.
func (h *Hub) ensurePendingTournamentLocked(fx *deferred) *tournament {
	if h.pendingTournamentID != "" {
		if t, ok := h.tournaments[h.pendingTournamentID]; ok && t.Status == tournamentPending {
			return t
		}
	}

	h.tournamentSeq++
	t := &tournament{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("Tournament #%d", h.tournamentSeq),
		Status:    tournamentPending,
		CreatedAt: time.Now(),
	}
	h.tournaments[t.ID] = t
	h.pendingTournamentID = t.ID

	record := store.TournamentRecord{
		ID:         t.ID,
		Name:       t.Name,
		MaxPlayers: tournamentSize,
		Status:     t.Status,
	}
	fx.work = append(fx.work, func(ctx context.Context) {
		if err := h.store.CreateTournament(ctx, record); err != nil {
			h.logger.Printf("failed to persist tournament %s: %v", record.ID, err)
		}
	})
	return t
}

func (t *tournament) hasParticipant(userID string) bool {
	for _, id := range t.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *tournament) matchByID(matchID string) *tournamentMatch {
	for _, m := range t.Matches {
		if m.ID == matchID {
			return m
		}
	}
	return nil
}

func (t *tournament) roundMatches(round int) []*tournamentMatch {
	var out []*tournamentMatch
	for _, m := range t.Matches {
		if m.Round == round {
			out = append(out, m)
		}
	}
	return out
}

func (t *tournament) bracketView() []bracketMatch {
	out := make([]bracketMatch, 0, len(t.Matches))
	for _, m := range t.Matches {
		out = append(out, bracketMatch{
			MatchID:  m.ID,
			Player1:  m.Player1,
			Player2:  m.Player2,
			WinnerID: m.WinnerID,
			Round:    m.Round,
			RoomID:   m.RoomID,
		})
	}
	return out
}

// HandleTournamentJoin enrolls the user in the pending tournament. An
// empty tournamentID targets the current pending one. The fourth
// enrollment starts the bracket.
func (h *Hub) HandleTournamentJoin(userID, tournamentID string) {
	var fx deferred
	h.mu.Lock()

	if _, ok := h.userTournaments[userID]; ok {
		h.mu.Unlock()
		h.sendError(userID, ErrAlreadyInTournament)
		return
	}

	var t *tournament
	if tournamentID == "" {
		t = h.ensurePendingTournamentLocked(&fx)
	} else {
		var ok bool
		t, ok = h.tournaments[tournamentID]
		if !ok {
			h.mu.Unlock()
			h.sendError(userID, ErrTournamentNotFound)
			return
		}
	}
	if t.Status != tournamentPending {
		h.mu.Unlock()
		fx.run(h)
		h.sendError(userID, ErrTournamentNotPending)
		return
	}
	if len(t.Participants) >= tournamentSize {
		h.mu.Unlock()
		fx.run(h)
		h.sendError(userID, ErrTournamentFull)
		return
	}

	t.Participants = append(t.Participants, userID)
	h.userTournaments[userID] = t.ID

	participants := append([]string(nil), t.Participants...)
	id := t.ID
	full := len(t.Participants) == tournamentSize

	joined := tournamentEnvelope("playerJoined", tournamentPlayerJoinedPayload{
		TournamentID: id,
		UserID:       userID,
		Participants: participants,
		MaxPlayers:   tournamentSize,
	})
	for _, pid := range participants {
		fx.sends = append(fx.sends, directSend{userID: pid, env: joined})
	}
	fx.work = append(fx.work, func(ctx context.Context) {
		if err := h.store.SetUserTournament(ctx, userID, id); err != nil {
			h.logger.Printf("failed to persist tournament membership for %s: %v", userID, err)
		}
	})
	if full {
		h.startTournamentLocked(t, &fx)
	}
	h.mu.Unlock()

	fx.run(h)
}

// startTournamentLocked shuffles the field, schedules both semifinals,
// and spins up their rooms, queueing notifications and persistence on
// fx.
func (h *Hub) startTournamentLocked(t *tournament, fx *deferred) {
	t.Status = tournamentActive
	t.CurrentRound = 1
	if t.ID == h.pendingTournamentID {
		h.pendingTournamentID = ""
	}

	seeded := append([]string(nil), t.Participants...)
	h.rng.Shuffle(len(seeded), func(i, j int) {
		seeded[i], seeded[j] = seeded[j], seeded[i]
	})

	for i := 0; i < len(seeded); i += 2 {
		t.Matches = append(t.Matches, &tournamentMatch{
			ID:      uuid.NewString(),
			Player1: seeded[i],
			Player2: seeded[i+1],
			Round:   1,
		})
	}

	started := tournamentEnvelope("tournamentStarted", tournamentStartedPayload{
		TournamentID: t.ID,
		Bracket:      t.bracketView(),
		CurrentRound: 1,
	})
	for _, pid := range t.Participants {
		fx.sends = append(fx.sends, directSend{userID: pid, env: started})
	}
	h.launchRoundLocked(t, 1, fx)

	record := store.TournamentRecord{
		ID:         t.ID,
		Name:       t.Name,
		MaxPlayers: tournamentSize,
		Status:     t.Status,
		StartAt:    time.Now(),
	}
	fx.work = append(fx.work, func(ctx context.Context) {
		if err := h.store.UpdateTournament(ctx, record); err != nil {
			h.logger.Printf("failed to persist tournament %s: %v", record.ID, err)
		}
	})
	logtournament.Started(context.Background(), h.publisher, tournamentRef(t.ID), logtournament.StartedPayload{
		Participants: append([]string(nil), t.Participants...),
	})
}

// launchRoundLocked creates a room per match in the round, seats both
// players, and starts the loops. Players still occupying a room are
// vacated first so the bracket room becomes their only mapping.
func (h *Hub) launchRoundLocked(t *tournament, round int, fx *deferred) {
	for _, m := range t.roundMatches(round) {
		h.vacateCurrentRoomLocked(m.Player1, fx)
		h.vacateCurrentRoomLocked(m.Player2, fx)

		room := h.createRoomLocked(m.Player1, RoomOptions{
			TournamentID: t.ID,
			MatchID:      m.ID,
			Round:        m.Round,
		})
		h.addPlayerLocked(room, m.Player2)
		m.RoomID = room.ID

		room.started = true
		room.startedAt = time.Now()
		room.resetServe()
		h.startLoopLocked(room)

		record := store.MatchRecord{
			ID:           m.ID,
			Player1ID:    m.Player1,
			Player2ID:    m.Player2,
			TournamentID: t.ID,
			Round:        m.Round,
			StartedAt:    room.startedAt,
		}
		fx.work = append(fx.work, func(ctx context.Context) {
			if err := h.store.CreateMatch(ctx, record); err != nil {
				h.logger.Printf("failed to persist match %s: %v", record.ID, err)
			}
		})

		players := []string{m.Player1, m.Player2}
		fx.sends = append(fx.sends,
			directSend{userID: m.Player1, env: tournamentEnvelope("matchStarted", matchStartedPayload{
				MatchID:  m.ID,
				Opponent: m.Player2,
				Round:    m.Round,
				RoomID:   room.ID,
				Players:  players,
			})},
			directSend{userID: m.Player2, env: tournamentEnvelope("matchStarted", matchStartedPayload{
				MatchID:  m.ID,
				Opponent: m.Player1,
				Round:    m.Round,
				RoomID:   room.ID,
				Players:  players,
			})},
		)
	}
}

// RecordMatchResult feeds a finished tournament match back into the
// bracket. Recording the same match twice is a no-op.
func (h *Hub) RecordMatchResult(matchID, winnerID string) {
	var fx deferred
	h.mu.Lock()
	var t *tournament
	var m *tournamentMatch
	for _, candidate := range h.tournaments {
		if found := candidate.matchByID(matchID); found != nil {
			t, m = candidate, found
			break
		}
	}
	if t == nil || t.Status != tournamentActive || m.WinnerID != "" {
		h.mu.Unlock()
		return
	}
	h.recordMatchResultLocked(t, m, winnerID, &fx)
	h.mu.Unlock()

	if err := h.store.SetMatchWinner(context.Background(), matchID, winnerID); err != nil {
		h.logger.Printf("failed to persist winner of match %s: %v", matchID, err)
	}
	fx.run(h)
}

func (h *Hub) recordMatchResultLocked(t *tournament, m *tournamentMatch, winnerID string, fx *deferred) {
	m.WinnerID = winnerID

	completed := tournamentEnvelope("matchCompleted", matchCompletedPayload{
		TournamentID: t.ID,
		MatchID:      m.ID,
		WinnerID:     winnerID,
		Round:        m.Round,
	})
	for _, pid := range t.Participants {
		fx.sends = append(fx.sends, directSend{userID: pid, env: completed})
	}

	round := t.roundMatches(m.Round)
	for _, rm := range round {
		if rm.WinnerID == "" {
			return
		}
	}

	// Round complete. Winners pair positionally for the next round.
	winners := make([]string, 0, len(round))
	for _, rm := range round {
		winners = append(winners, rm.WinnerID)
	}
	roundDone := tournamentEnvelope("roundCompleted", roundCompletedPayload{
		TournamentID: t.ID,
		Round:        m.Round,
	})
	for _, pid := range t.Participants {
		fx.sends = append(fx.sends, directSend{userID: pid, env: roundDone})
	}

	if len(winners) == 1 {
		h.finalizeTournamentLocked(t, winners[0], fx)
		return
	}

	t.CurrentRound = m.Round + 1
	for i := 0; i < len(winners); i += 2 {
		t.Matches = append(t.Matches, &tournamentMatch{
			ID:      uuid.NewString(),
			Player1: winners[i],
			Player2: winners[i+1],
			Round:   t.CurrentRound,
		})
	}

	next := tournamentEnvelope("nextRoundStarted", nextRoundStartedPayload{
		TournamentID: t.ID,
		Round:        t.CurrentRound,
		Winners:      winners,
	})
	for _, pid := range t.Participants {
		fx.sends = append(fx.sends, directSend{userID: pid, env: next})
	}
	h.launchRoundLocked(t, t.CurrentRound, fx)

	logtournament.RoundAdvanced(context.Background(), h.publisher, tournamentRef(t.ID), logtournament.RoundAdvancedPayload{
		Round:   t.CurrentRound,
		Winners: winners,
	})
}

// finalizeTournamentLocked crowns the champion, releases every
// participant, and opens a fresh pending tournament. The store writes
// and the closing notifications go through fx so they run unlocked, in
// order, after the round-completed sends.
func (h *Hub) finalizeTournamentLocked(t *tournament, winnerID string, fx *deferred) {
	t.Status = tournamentCompleted
	t.WinnerID = winnerID

	participants := append([]string(nil), t.Participants...)
	for _, pid := range participants {
		delete(h.userTournaments, pid)
	}

	tournamentID := t.ID
	name := t.Name
	fx.work = append(fx.work, func(ctx context.Context) {
		winnerName := winnerID
		if user, err := h.store.GetUserByID(ctx, winnerID); err == nil && user.Username != "" {
			winnerName = user.Username
		}
		if err := h.store.IncrementTournamentWins(ctx, winnerID); err != nil {
			h.logger.Printf("failed to record tournament win for %s: %v", winnerID, err)
		}
		if err := h.store.UpdateTournament(ctx, store.TournamentRecord{
			ID:         tournamentID,
			Name:       name,
			MaxPlayers: tournamentSize,
			Status:     tournamentCompleted,
			EndAt:      time.Now(),
			WinnerID:   winnerID,
		}); err != nil {
			h.logger.Printf("failed to persist tournament %s: %v", tournamentID, err)
		}
		for _, pid := range participants {
			if err := h.store.SetUserTournament(ctx, pid, ""); err != nil {
				h.logger.Printf("failed to clear tournament membership for %s: %v", pid, err)
			}
		}

		ended := tournamentEnvelope("tournamentEnded", tournamentEndedPayload{
			TournamentID:   tournamentID,
			WinnerID:       winnerID,
			WinnerUsername: winnerName,
			Message:        fmt.Sprintf("%s won the tournament!", winnerName),
		})
		for _, pid := range participants {
			h.registry.SendTo(pid, ended)
		}
	})

	fresh := h.ensurePendingTournamentLocked(fx)
	created := tournamentEnvelope("newTournamentCreated", newTournamentCreatedPayload{
		TournamentID: fresh.ID,
	})
	fx.work = append(fx.work, func(ctx context.Context) {
		for _, pid := range h.registry.ListOnlineUserIDs() {
			h.registry.SendTo(pid, created)
		}
	})

	logtournament.Ended(context.Background(), h.publisher, tournamentRef(t.ID), logtournament.EndedPayload{
		WinnerID: winnerID,
	})
}

// HandleTournamentLeave withdraws the user. Leaving mid-match forfeits
// that match to the opponent.
func (h *Hub) HandleTournamentLeave(userID, tournamentID string) {
	h.mu.Lock()
	id, ok := h.userTournaments[userID]
	if !ok || (tournamentID != "" && tournamentID != id) {
		h.mu.Unlock()
		h.sendError(userID, ErrNotInTournament)
		return
	}
	t := h.tournaments[id]

	if t.Status == tournamentPending {
		for i, pid := range t.Participants {
			if pid == userID {
				t.Participants = append(t.Participants[:i], t.Participants[i+1:]...)
				break
			}
		}
		delete(h.userTournaments, userID)
		participants := append([]string(nil), t.Participants...)
		h.mu.Unlock()

		if err := h.store.SetUserTournament(context.Background(), userID, ""); err != nil {
			h.logger.Printf("failed to clear tournament membership for %s: %v", userID, err)
		}
		left := tournamentEnvelope("playerLeft", tournamentPlayerJoinedPayload{
			TournamentID: id,
			UserID:       userID,
			Participants: participants,
			MaxPlayers:   tournamentSize,
		})
		var sends []directSend
		for _, pid := range participants {
			sends = append(sends, directSend{userID: pid, env: left})
		}
		h.flush(sends)
		return
	}

	// Active bracket: find the user's live match and forfeit it.
	var outcome *gameOutcome
	for _, m := range t.roundMatches(t.CurrentRound) {
		if m.WinnerID != "" || (m.Player1 != userID && m.Player2 != userID) {
			continue
		}
		if room, ok := h.rooms[m.RoomID]; ok && !room.state.GameOver {
			winnerID, _ := room.seats.Opponent(userID)
			resolved := h.resolveGameLocked(room, winnerID, reasonPlayerLeft)
			resolved.leftPlayer = userID
			outcome = &resolved
		}
		break
	}
	delete(h.userTournaments, userID)
	h.mu.Unlock()

	if err := h.store.SetUserTournament(context.Background(), userID, ""); err != nil {
		h.logger.Printf("failed to clear tournament membership for %s: %v", userID, err)
	}
	if outcome != nil {
		h.counters.IncrementForfeits()
		h.commitOutcome(*outcome)
	}
}

// HandleTournamentDetails reports the user's tournament, or the pending
// one when the user is unenrolled.
func (h *Hub) HandleTournamentDetails(userID string) {
	var fx deferred
	h.mu.Lock()
	var t *tournament
	if id, ok := h.userTournaments[userID]; ok {
		t = h.tournaments[id]
	} else {
		t = h.ensurePendingTournamentLocked(&fx)
	}
	payload := tournamentDetailsPayload{
		TournamentID: t.ID,
		Name:         t.Name,
		Status:       t.Status,
		MaxPlayers:   tournamentSize,
		Participants: append([]string(nil), t.Participants...),
		CurrentRound: t.CurrentRound,
	}
	h.mu.Unlock()
	fx.run(h)

	h.registry.SendTo(userID, tournamentEnvelope("details", payload))
}

// HandleTournamentBracket reports the bracket of the user's tournament.
func (h *Hub) HandleTournamentBracket(userID string) {
	h.mu.Lock()
	id, ok := h.userTournaments[userID]
	if !ok {
		h.mu.Unlock()
		h.sendError(userID, ErrNotInTournament)
		return
	}
	t := h.tournaments[id]
	payload := tournamentBracketPayload{
		TournamentID: t.ID,
		CurrentRound: t.CurrentRound,
		Bracket:      t.bracketView(),
	}
	h.mu.Unlock()

	h.registry.SendTo(userID, tournamentEnvelope("bracket", payload))
}
