package server

import "time"

const (
	ProtocolVersion = 1

	writeWait = 10 * time.Second

	tickRate     = 60 // simulation ticks per second
	tickInterval = time.Second / tickRate

	fieldWidth     = 800.0
	fieldHeight    = 400.0
	paddleWidth    = 10.0
	paddleHeight   = 100.0
	paddleMaxY     = fieldHeight - paddleHeight
	defaultPaddleY = (fieldHeight - paddleHeight) / 2

	ballRadius         = 8.0
	ballBaseSpeed      = 5.0
	ballSpeedIncrement = 1.05 // per paddle hit
	ballSpeedCap       = 1.8  // multiple of ballBaseSpeed
	ballDeflectFactor  = 0.5
	serveAngleJitter   = 0.25 // radians

	winningScore = 5

	reconnectGrace = 30 * time.Second
	flashDuration  = 150 * time.Millisecond

	tournamentSize = 4
)

// TickRate reports the simulation frequency for diagnostics payloads.
func TickRate() int {
	return tickRate
}

// ReconnectGrace reports the forfeiture window granted to a disconnected player.
func ReconnectGrace() time.Duration {
	return reconnectGrace
}
