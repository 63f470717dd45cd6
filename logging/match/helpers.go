package match

import (
	"context"

	"pong-arena/server/logging"
)

const (
	// EventStarted is emitted when a room's simulation loop begins.
	EventStarted logging.EventType = "match.started"
	// EventPaused is emitted when a disconnect suspends a running match.
	EventPaused logging.EventType = "match.paused"
	// EventResumed is emitted when a reconnect restarts a paused match.
	EventResumed logging.EventType = "match.resumed"
	// EventEnded is emitted when a match reaches a terminal state.
	EventEnded logging.EventType = "match.ended"
	// EventPersistenceFailed is emitted when a result write is swallowed.
	EventPersistenceFailed logging.EventType = "match.persistence_failed"
)

// StartedPayload captures the seating for a new match.
type StartedPayload struct {
	LeftPlayer  string `json:"leftPlayer"`
	RightPlayer string `json:"rightPlayer"`
}

// PausedPayload captures why and for how long a match is suspended.
type PausedPayload struct {
	Reason         string `json:"reason"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// EndedPayload captures the outcome of a finished match.
type EndedPayload struct {
	WinnerID   string         `json:"winnerId"`
	Reason     string         `json:"reason"`
	FinalScore map[string]int `json:"finalScore"`
}

// PersistenceFailedPayload carries the swallowed error text.
type PersistenceFailedPayload struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

func Started(ctx context.Context, pub logging.Publisher, tick uint64, room logging.EntityRef, payload StartedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventStarted,
		Tick:     tick,
		Actor:    room,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatch,
		Payload:  payload,
	})
}

func Paused(ctx context.Context, pub logging.Publisher, tick uint64, room logging.EntityRef, payload PausedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventPaused,
		Tick:     tick,
		Actor:    room,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatch,
		Payload:  payload,
	})
}

func Resumed(ctx context.Context, pub logging.Publisher, tick uint64, room logging.EntityRef) {
	publish(ctx, pub, logging.Event{
		Type:     EventResumed,
		Tick:     tick,
		Actor:    room,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatch,
	})
}

func Ended(ctx context.Context, pub logging.Publisher, tick uint64, room logging.EntityRef, payload EndedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventEnded,
		Tick:     tick,
		Actor:    room,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatch,
		Payload:  payload,
	})
}

func PersistenceFailed(ctx context.Context, pub logging.Publisher, tick uint64, room logging.EntityRef, payload PersistenceFailedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventPersistenceFailed,
		Tick:     tick,
		Actor:    room,
		Severity: logging.SeverityError,
		Category: logging.CategoryMatch,
		Payload:  payload,
	})
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, event)
}
