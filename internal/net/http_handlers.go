package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	server "pong-arena/server"
)

type HTTPHandlerConfig struct {
	Logger *log.Logger
}

// NewHTTPHandler wires the health, diagnostics, and websocket routes.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string `json:"status"`
			ServerTime int64  `json:"serverTime"`
			TickRate   int    `json:"tickRate"`
			Hub        any    `json:"hub"`
			Telemetry  any    `json:"telemetry"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   server.TickRate(),
			Hub:        hub.Diagnostics(),
			Telemetry:  hub.TelemetrySnapshot(),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			nethttp.Error(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	mux.HandleFunc("/ws", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		userID := r.URL.Query().Get("id")
		if userID == "" {
			nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("upgrade failed for %s: %v", userID, err)
			return
		}

		sub := hub.Connect(userID, conn)

		// Read loop: decode inbound envelopes until the connection
		// drops, then hand the disconnect to the hub. Malformed frames
		// are dropped with a warning; they never kill the session.
		go func() {
			defer func() {
				conn.Close()
				hub.HandleDisconnect(userID, sub)
			}()

			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						logger.Printf("read error for %s: %v", userID, err)
					}
					return
				}

				var env server.Envelope
				if err := json.Unmarshal(payload, &env); err != nil {
					logger.Printf("malformed envelope from %s: %v", userID, err)
					continue
				}

				cmd, err := server.DecodeCommand(env)
				if err != nil {
					logger.Printf("dropping envelope from %s: %v", userID, err)
					continue
				}

				hub.Dispatch(userID, cmd)
			}
		}()
	})

	return mux
}
