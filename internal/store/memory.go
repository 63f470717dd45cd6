package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store used in tests and as a fallback when no
// database path is configured.
type Memory struct {
	mu          sync.RWMutex
	users       map[string]User
	matches     map[string]MatchRecord
	tournaments map[string]TournamentRecord
	messages    []Message
}

func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]User),
		matches:     make(map[string]MatchRecord),
		tournaments: make(map[string]TournamentRecord),
	}
}

func (m *Memory) EnsureUser(ctx context.Context, id, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; ok {
		return nil
	}
	if username == "" {
		username = id
	}
	m.users[id] = User{ID: id, Username: username, CreatedAt: time.Now()}
	return nil
}

func (m *Memory) GetUserByID(ctx context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (m *Memory) UpdatePlayerStats(ctx context.Context, stats []PlayerStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stat := range stats {
		user, ok := m.users[stat.UserID]
		if !ok {
			user = User{ID: stat.UserID, Username: stat.UserID, CreatedAt: time.Now()}
		}
		if stat.Won {
			user.Wins++
		} else {
			user.Losses++
		}
		m.users[stat.UserID] = user
	}
	return nil
}

func (m *Memory) IncrementTournamentWins(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		user = User{ID: userID, Username: userID, CreatedAt: time.Now()}
	}
	user.TournamentWins++
	m.users[userID] = user
	return nil
}

func (m *Memory) SetUserTournament(ctx context.Context, userID, tournamentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		user = User{ID: userID, Username: userID, CreatedAt: time.Now()}
	}
	user.CurrentTournamentID = tournamentID
	m.users[userID] = user
	return nil
}

func (m *Memory) SaveMatchResult(ctx context.Context, match MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[match.ID] = match
	return nil
}

func (m *Memory) CreateMatch(ctx context.Context, match MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[match.ID] = match
	return nil
}

func (m *Memory) SetMatchWinner(ctx context.Context, matchID, winnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	match.WinnerID = winnerID
	match.EndedAt = time.Now()
	m.matches[matchID] = match
	return nil
}

// GetMatch is a test helper; the hub never reads match rows back.
func (m *Memory) GetMatch(id string) (MatchRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match, ok := m.matches[id]
	return match, ok
}

func (m *Memory) CreateTournament(ctx context.Context, t TournamentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tournaments[t.ID] = t
	return nil
}

func (m *Memory) UpdateTournament(ctx context.Context, t TournamentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tournaments[t.ID]; !ok {
		return ErrNotFound
	}
	m.tournaments[t.ID] = t
	return nil
}

func (m *Memory) GetActiveTournamentID(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, t := range m.tournaments {
		if t.Status == "active" {
			return id, nil
		}
	}
	return "", ErrNotFound
}

func (m *Memory) GetTournamentParticipants(ctx context.Context, id string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for _, user := range m.users {
		if user.CurrentTournamentID == id {
			ids = append(ids, user.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) SaveMessage(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *Memory) MarkMessagesRead(ctx context.Context, senderID, readerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].SenderID == senderID && m.messages[i].ReceiverID == readerID {
			m.messages[i].Read = true
		}
	}
	return nil
}

// Messages is a test helper returning a snapshot of stored messages.
func (m *Memory) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	copied := make([]Message, len(m.messages))
	copy(copied, m.messages)
	return copied
}

func (m *Memory) Close() error {
	return nil
}
