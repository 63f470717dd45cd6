package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"

	"pong-arena/server/logging"
)

// Console renders events as single-line text. With color enabled it
// routes through a tint slog handler, otherwise through a plain one.
type Console struct {
	logger *slog.Logger
}

func NewConsole(w io.Writer, cfg logging.ConsoleConfig) *Console {
	var handler slog.Handler
	if cfg.UseColor {
		handler = tint.NewHandler(w, &tint.Options{Level: slog.LevelDebug})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return &Console{logger: slog.New(handler)}
}

func (s *Console) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	attrs := []any{
		slog.Uint64("tick", event.Tick),
		slog.String("actor", formatEntity(event.Actor)),
	}
	if event.Category != "" {
		attrs = append(attrs, slog.String("category", event.Category))
	}
	if targets := formatTargets(event.Targets); targets != "" {
		attrs = append(attrs, slog.String("targets", targets))
	}
	if payload := formatPayload(event.Payload); payload != "" {
		attrs = append(attrs, slog.String("payload", payload))
	}
	s.logger.Log(context.Background(), severityLevel(event.Severity), string(event.Type), attrs...)
	return nil
}

func (s *Console) Close(context.Context) error {
	return nil
}

func severityLevel(sev logging.Severity) slog.Level {
	switch sev {
	case logging.SeverityDebug:
		return slog.LevelDebug
	case logging.SeverityWarn:
		return slog.LevelWarn
	case logging.SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

func formatTargets(targets []logging.EntityRef) string {
	if len(targets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, formatEntity(target))
	}
	return strings.Join(parts, ",")
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}
