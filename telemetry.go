package server

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

type telemetryCounters struct {
	gamesPlayed        atomic.Uint64
	forfeits           atomic.Uint64
	envelopesSent      atomic.Uint64
	bytesSent          atomic.Uint64
	sendFailures       atomic.Uint64
	droppedEnvelopes   atomic.Uint64
	tickDurationMillis atomic.Int64
	debug              bool
}

type telemetrySnapshot struct {
	GamesPlayed      uint64 `json:"gamesPlayed"`
	Forfeits         uint64 `json:"forfeits"`
	EnvelopesSent    uint64 `json:"envelopesSent"`
	BytesSent        uint64 `json:"bytesSent"`
	SendFailures     uint64 `json:"sendFailures"`
	DroppedEnvelopes uint64 `json:"droppedEnvelopes"`
	TickDuration     int64  `json:"tickDurationMillis"`
}

func newTelemetryCounters() *telemetryCounters {
	t := &telemetryCounters{}
	if os.Getenv("DEBUG_TELEMETRY") == "1" {
		t.debug = true
	}
	return t
}

func (t *telemetryCounters) IncrementGamesPlayed() {
	t.gamesPlayed.Add(1)
}

func (t *telemetryCounters) IncrementForfeits() {
	t.forfeits.Add(1)
}

func (t *telemetryCounters) RecordSend(bytes int) {
	if bytes < 0 {
		bytes = 0
	}
	t.envelopesSent.Add(1)
	t.bytesSent.Add(uint64(bytes))
}

func (t *telemetryCounters) RecordSendFailure() {
	t.sendFailures.Add(1)
}

func (t *telemetryCounters) RecordDroppedEnvelope() {
	t.droppedEnvelopes.Add(1)
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
	if t.debug {
		fmt.Printf(
			"[telemetry] tick=%dms envelopes=%d bytes=%d failures=%d\n",
			millis,
			t.envelopesSent.Load(),
			t.bytesSent.Load(),
			t.sendFailures.Load(),
		)
	}
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	return telemetrySnapshot{
		GamesPlayed:      t.gamesPlayed.Load(),
		Forfeits:         t.forfeits.Load(),
		EnvelopesSent:    t.envelopesSent.Load(),
		BytesSent:        t.bytesSent.Load(),
		SendFailures:     t.sendFailures.Load(),
		DroppedEnvelopes: t.droppedEnvelopes.Load(),
		TickDuration:     t.tickDurationMillis.Load(),
	}
}
