package server

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pong-arena/server/internal/telemetry"
)

// subscriber wraps one live websocket connection. Writes are serialized
// through its mutex; the connection itself is owned by the Registry.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{conn: conn}
}

// WriteMessage sends one frame under the write deadline.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	if s == nil || s.conn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *subscriber) close() {
	if s == nil || s.conn == nil {
		return
	}
	s.conn.Close()
}

// Registry binds each user identity to at most one live connection.
// Rebinding replaces the previous handle; the stale connection is
// closed so its read loop unwinds.
type Registry struct {
	mu       sync.Mutex
	subs     map[string]*subscriber
	logger   telemetry.Logger
	counters *telemetryCounters
}

func newRegistry(logger telemetry.Logger, counters *telemetryCounters) *Registry {
	return &Registry{
		subs:     make(map[string]*subscriber),
		logger:   logger,
		counters: counters,
	}
}

// Register binds conn to userID, replacing any prior binding.
func (r *Registry) Register(userID string, conn *websocket.Conn) *subscriber {
	sub := newSubscriber(conn)
	r.mu.Lock()
	existing := r.subs[userID]
	r.subs[userID] = sub
	r.mu.Unlock()
	if existing != nil {
		existing.close()
	}
	return sub
}

// Unregister removes the binding for userID. When sub is non-nil the
// binding is only removed if it still points at sub, so a rebind that
// raced the old read loop's teardown is preserved.
func (r *Registry) Unregister(userID string, sub *subscriber) {
	r.mu.Lock()
	current, ok := r.subs[userID]
	if ok && (sub == nil || current == sub) {
		delete(r.subs, userID)
	} else {
		current = nil
	}
	r.mu.Unlock()
	if current != nil {
		current.close()
	}
}

// Lookup returns the live subscriber for userID, if any.
func (r *Registry) Lookup(userID string) (*subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[userID]
	return sub, ok
}

// SendTo pushes one envelope to userID. Delivery is best effort: a
// missing binding or a write failure is observed and swallowed, never
// surfaced to the caller, because the state change that produced the
// envelope has already committed.
func (r *Registry) SendTo(userID string, env outboundEnvelope) {
	r.mu.Lock()
	sub, ok := r.subs[userID]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.write(userID, sub, env)
}

// BroadcastAll sends one envelope to every bound connection.
func (r *Registry) BroadcastAll(env outboundEnvelope) {
	r.mu.Lock()
	subs := make(map[string]*subscriber, len(r.subs))
	for id, sub := range r.subs {
		subs[id] = sub
	}
	r.mu.Unlock()

	for id, sub := range subs {
		r.write(id, sub, env)
	}
}

// ListOnlineUserIDs returns a sorted snapshot of bound identities.
func (r *Registry) ListOnlineUserIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) write(userID string, sub *subscriber, env outboundEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		r.logger.Printf("failed to marshal envelope for %s: %v", userID, err)
		return
	}
	if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
		r.logger.Printf("failed to send to %s: %v", userID, err)
		if r.counters != nil {
			r.counters.RecordSendFailure()
		}
		return
	}
	if r.counters != nil {
		r.counters.RecordSend(len(data))
	}
}
