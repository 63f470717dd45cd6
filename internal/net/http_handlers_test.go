package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	server "pong-arena/server"
)

func newTestHandler(t *testing.T) (http.Handler, *server.Hub) {
	t.Helper()
	hub := server.NewHubWithConfig(server.DefaultHubConfig())
	return NewHTTPHandler(hub, HTTPHandlerConfig{}), hub
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics payload: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", payload["status"])
	}
	if payload["tickRate"] != float64(server.TickRate()) {
		t.Fatalf("tickRate = %v, want %d", payload["tickRate"], server.TickRate())
	}
	if _, ok := payload["telemetry"].(map[string]any); !ok {
		t.Fatalf("expected telemetry object, got %T", payload["telemetry"])
	}
}

func TestWebsocketRequiresID(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing id, got %d", resp.Code)
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	handler, hub := newTestHandler(t)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?id=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Join with no room: the hub should create one and answer with
	// room-created.
	join := `{"type":"game","event":"join"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(join)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var reply struct {
		Type  string `json:"type"`
		Event string `json:"event"`
		Data  struct {
			RoomID string `json:"roomId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if reply.Type != "game" || reply.Event != "room-created" {
		t.Fatalf("reply = %s", payload)
	}
	if reply.Data.RoomID == "" {
		t.Fatal("room-created reply missing roomId")
	}

	snapshot := hub.Diagnostics()
	if snapshot.ActiveRooms != 1 {
		t.Fatalf("activeRooms = %d, want 1", snapshot.ActiveRooms)
	}
}

func TestWebsocketDropsMalformedFrames(t *testing.T) {
	handler, hub := newTestHandler(t)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?id=bob"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Garbage, then a valid join: the session must survive the former.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"game","event":"join"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("expected a reply after the malformed frame, got %v", err)
	}

	snapshot := hub.Diagnostics()
	if snapshot.ActiveRooms != 1 {
		t.Fatalf("activeRooms = %d, want 1", snapshot.ActiveRooms)
	}
}
