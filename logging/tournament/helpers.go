package tournament

import (
	"context"

	"pong-arena/server/logging"
)

const (
	EventStarted       logging.EventType = "tournament.started"
	EventRoundAdvanced logging.EventType = "tournament.round_advanced"
	EventEnded         logging.EventType = "tournament.ended"
)

type StartedPayload struct {
	Participants []string `json:"participants"`
}

type RoundAdvancedPayload struct {
	Round   int      `json:"round"`
	Winners []string `json:"winners"`
}

type EndedPayload struct {
	WinnerID string `json:"winnerId"`
}

func Started(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload StartedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventStarted,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTournament,
		Payload:  payload,
	})
}

func RoundAdvanced(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload RoundAdvancedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventRoundAdvanced,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTournament,
		Payload:  payload,
	})
}

func Ended(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload EndedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventEnded,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTournament,
		Payload:  payload,
	})
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, event)
}
