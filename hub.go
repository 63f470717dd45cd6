package server

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pong-arena/server/internal/store"
	"pong-arena/server/internal/telemetry"
	"pong-arena/server/logging"
)

// HubConfig carries the collaborators a hub needs. Zero values fall
// back to a stdlib logger, a no-op publisher, and an in-memory store.
type HubConfig struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Store     store.Store
	Seed      int64
}

func DefaultHubConfig() HubConfig {
	return HubConfig{}
}

// Hub owns every live room, the connection registry, and the tournament
// slots. One mutex guards all room and tournament state: the dispatch
// path and every room's tick callback serialize through it, which is
// what makes per-room mutation race-free.
type Hub struct {
	mu sync.Mutex

	logger    telemetry.Logger
	publisher logging.Publisher
	store     store.Store
	counters  *telemetryCounters
	registry  *Registry

	rooms     map[string]*Room
	userRooms map[string]string

	tournaments         map[string]*tournament
	userTournaments     map[string]string
	pendingTournamentID string
	tournamentSeq       int

	rng *rand.Rand
}

func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

func NewHubWithConfig(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	st := cfg.Store
	if st == nil {
		st = store.NewMemory()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	counters := newTelemetryCounters()
	h := &Hub{
		logger:          logger,
		publisher:       publisher,
		store:           st,
		counters:        counters,
		registry:        newRegistry(logger, counters),
		rooms:           make(map[string]*Room),
		userRooms:       make(map[string]string),
		tournaments:     make(map[string]*tournament),
		userTournaments: make(map[string]string),
		rng:             rand.New(rand.NewSource(seed)),
	}

	var fx deferred
	h.mu.Lock()
	h.ensurePendingTournamentLocked(&fx)
	h.mu.Unlock()
	fx.run(h)

	return h
}

// Registry exposes the connection registry for transports and tests.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Connect binds a fresh websocket connection to userID and makes sure a
// profile row exists for it.
func (h *Hub) Connect(userID string, conn *websocket.Conn) *subscriber {
	sub := h.registry.Register(userID, conn)
	if err := h.store.EnsureUser(context.Background(), userID, ""); err != nil {
		h.logger.Printf("failed to ensure user %s: %v", userID, err)
	}
	return sub
}

// Dispatch routes one decoded command to its handler. The switch is
// exhaustive over the command types in messages.go.
func (h *Hub) Dispatch(userID string, cmd Command) {
	switch c := cmd.(type) {
	case JoinGameCommand:
		h.HandleGameJoin(userID, c.RoomID)
	case StartGameCommand:
		h.HandleGameStart(userID, c.RoomID)
	case LeaveGameCommand:
		h.HandleGameLeave(userID, c.RoomID)
	case MovePaddleCommand:
		h.HandleMove(userID, c.RoomID, c.Y)
	case StateRequestCommand:
		h.HandleStateRequest(userID, c.RoomID)
	case ReconnectCommand:
		h.HandleReconnect(userID)
	case JoinTournamentCommand:
		h.HandleTournamentJoin(userID, c.TournamentID)
	case LeaveTournamentCommand:
		h.HandleTournamentLeave(userID, c.TournamentID)
	case TournamentDetailsCommand:
		h.HandleTournamentDetails(userID)
	case TournamentBracketCommand:
		h.HandleTournamentBracket(userID)
	case ChatSendCommand:
		h.HandleChatSend(userID, c.ReceiverID, c.Content)
	case ChatReadCommand:
		h.HandleChatRead(userID, c.SenderID)
	default:
		h.logger.Printf("unhandled command %T from %s", cmd, userID)
	}
}

func (h *Hub) sendError(userID string, err error) {
	h.registry.SendTo(userID, errorEnvelope(err.Error()))
}

// directSend is a queued notification flushed after the hub lock is
// released.
type directSend struct {
	userID string
	env    outboundEnvelope
}

func (h *Hub) flush(sends []directSend) {
	for _, send := range sends {
		h.registry.SendTo(send.userID, send.env)
	}
}

// deferred accumulates work queued while the hub lock is held:
// notifications to flush, persistence to run, and games decided along
// the way. run executes all of it after the lock is released.
type deferred struct {
	sends    []directSend
	outcomes []gameOutcome
	work     []func(context.Context)
}

func (d *deferred) run(h *Hub) {
	h.flush(d.sends)
	ctx := context.Background()
	for _, w := range d.work {
		w(ctx)
	}
	for _, outcome := range d.outcomes {
		h.counters.IncrementForfeits()
		h.commitOutcome(outcome)
	}
}

// pushToConns marshals env once and writes it to each room connection.
// Failures are logged and counted, never propagated.
func (h *Hub) pushToConns(conns map[string]*subscriber, env outboundEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Printf("failed to marshal %s envelope: %v", env.Type, err)
		return
	}
	for id, sub := range conns {
		if sub == nil {
			continue
		}
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Printf("failed to push %s to %s: %v", env.Event, id, err)
			h.counters.RecordSendFailure()
			continue
		}
		h.counters.RecordSend(len(data))
	}
}

// TelemetrySnapshot exposes counters for the diagnostics endpoint.
func (h *Hub) TelemetrySnapshot() telemetrySnapshot {
	return h.counters.Snapshot()
}

// DiagnosticsSnapshot summarizes live state for the diagnostics endpoint.
type DiagnosticsSnapshot struct {
	ActiveRooms       int      `json:"activeRooms"`
	RunningRooms      int      `json:"runningRooms"`
	OnlineUsers       []string `json:"onlineUsers"`
	ActiveTournaments int      `json:"activeTournaments"`
}

func (h *Hub) Diagnostics() DiagnosticsSnapshot {
	h.mu.Lock()
	snapshot := DiagnosticsSnapshot{
		ActiveRooms: len(h.rooms),
	}
	for _, room := range h.rooms {
		if room.loop != nil {
			snapshot.RunningRooms++
		}
	}
	for _, t := range h.tournaments {
		if t.Status == tournamentActive {
			snapshot.ActiveTournaments++
		}
	}
	h.mu.Unlock()
	snapshot.OnlineUsers = h.registry.ListOnlineUserIDs()
	return snapshot
}
