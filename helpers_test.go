package server

import (
	"io"
	"log"

	"pong-arena/server/internal/telemetry"
)

func discardLogger() telemetry.Logger {
	return telemetry.WrapLogger(log.New(io.Discard, "", 0))
}
