package server

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// BallState is the authoritative ball position and velocity.
type BallState struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// PaddleState is one player's paddle position (top edge).
type PaddleState struct {
	Y float64 `json:"y"`
}

// GameState is the per-room simulation state broadcast to clients.
type GameState struct {
	Ball     BallState              `json:"ball"`
	Paddles  map[string]PaddleState `json:"paddles"`
	Scores   map[string]int         `json:"scores"`
	GameOver bool                   `json:"gameOver"`
	Paused   bool                   `json:"paused"`
}

// playerSeats is an ordered pair of player identities. The first seat
// is the left paddle, the second the right; insertion order is the
// seating order.
type playerSeats struct {
	ids []string
}

func (s *playerSeats) Add(id string) bool {
	if len(s.ids) >= 2 || s.Contains(id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

func (s *playerSeats) Remove(id string) {
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return
		}
	}
}

func (s *playerSeats) Contains(id string) bool {
	for _, existing := range s.ids {
		if existing == id {
			return true
		}
	}
	return false
}

func (s *playerSeats) Len() int {
	return len(s.ids)
}

func (s *playerSeats) LeftPlayer() (string, bool) {
	if len(s.ids) < 1 {
		return "", false
	}
	return s.ids[0], true
}

func (s *playerSeats) RightPlayer() (string, bool) {
	if len(s.ids) < 2 {
		return "", false
	}
	return s.ids[1], true
}

// Opponent returns the other seated player, if any.
func (s *playerSeats) Opponent(id string) (string, bool) {
	for _, existing := range s.ids {
		if existing != id {
			return existing, true
		}
	}
	return "", false
}

func (s *playerSeats) IDs() []string {
	return append([]string(nil), s.ids...)
}

func (s *playerSeats) Clear() {
	s.ids = nil
}

// Room is one two-player match session. All fields are guarded by the
// hub mutex; the tick loop and the dispatch path both go through it.
type Room struct {
	ID    string
	seats playerSeats
	conns map[string]*subscriber
	state GameState

	started    bool
	loop       *tickLoop
	tick       uint64
	serveCount int
	rng        *rand.Rand

	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
	winnerID  string

	tournamentID string
	round        int
	matchID      string

	forfeit *time.Timer
}

// RoomOptions carries the optional tournament linkage for a new room.
type RoomOptions struct {
	TournamentID string
	Round        int
	MatchID      string
}

func (h *Hub) createRoomLocked(creatorID string, opts RoomOptions) *Room {
	room := &Room{
		ID:           uuid.NewString(),
		conns:        make(map[string]*subscriber),
		createdAt:    time.Now(),
		tournamentID: opts.TournamentID,
		round:        opts.Round,
		matchID:      opts.MatchID,
		rng:          rand.New(rand.NewSource(h.rng.Int63())),
		state: GameState{
			Paddles: make(map[string]PaddleState),
			Scores:  make(map[string]int),
		},
	}
	h.rooms[room.ID] = room
	h.addPlayerLocked(room, creatorID)
	return room
}

// addPlayerLocked seats userID and initializes its paddle and score.
// Callers must have validated joinability already.
func (h *Hub) addPlayerLocked(room *Room, userID string) {
	room.seats.Add(userID)
	room.state.Paddles[userID] = PaddleState{Y: defaultPaddleY}
	room.state.Scores[userID] = 0
	if sub, ok := h.registry.Lookup(userID); ok {
		room.conns[userID] = sub
	}
	h.userRooms[userID] = room.ID
}

func (h *Hub) removePlayerLocked(room *Room, userID string) {
	room.seats.Remove(userID)
	delete(room.conns, userID)
	if h.userRooms[userID] == room.ID {
		delete(h.userRooms, userID)
	}
}

func (h *Hub) deleteRoomLocked(room *Room) {
	if room.forfeit != nil {
		room.forfeit.Stop()
		room.forfeit = nil
	}
	h.stopLoopLocked(room)
	for _, id := range room.seats.IDs() {
		if h.userRooms[id] == room.ID {
			delete(h.userRooms, id)
		}
	}
	room.seats.Clear()
	room.conns = make(map[string]*subscriber)
	delete(h.rooms, room.ID)
}

// snapshotStateLocked deep-copies the room state for marshaling after
// the hub lock is released.
func snapshotStateLocked(room *Room) GameState {
	state := room.state
	state.Paddles = make(map[string]PaddleState, len(room.state.Paddles))
	for id, paddle := range room.state.Paddles {
		state.Paddles[id] = paddle
	}
	state.Scores = make(map[string]int, len(room.state.Scores))
	for id, score := range room.state.Scores {
		state.Scores[id] = score
	}
	return state
}

func snapshotConnsLocked(room *Room) map[string]*subscriber {
	conns := make(map[string]*subscriber, len(room.conns))
	for id, sub := range room.conns {
		conns[id] = sub
	}
	return conns
}
