package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// User is the persisted player profile consulted by the game and
// tournament services.
type User struct {
	ID                  string
	Username            string
	Wins                int
	Losses              int
	TournamentWins      int
	CurrentTournamentID string
	CreatedAt           time.Time
}

// MatchRecord is one finished or scheduled match row. TournamentID is
// empty for casual rooms.
type MatchRecord struct {
	ID           string
	Player1ID    string
	Player2ID    string
	TournamentID string
	Round        int
	WinnerID     string
	Score1       int
	Score2       int
	StartedAt    time.Time
	EndedAt      time.Time
}

// TournamentRecord mirrors the coordinator's tournament state.
type TournamentRecord struct {
	ID         string
	Name       string
	MaxPlayers int
	Status     string
	StartAt    time.Time
	EndAt      time.Time
	WinnerID   string
}

// Message is one persisted chat message.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	SentAt     time.Time
	Read       bool
}

// PlayerStat is one per-player outcome applied after a match resolves.
type PlayerStat struct {
	UserID string
	Won    bool
}

// Store is the persistence surface consumed by the hub. Implementations
// must be safe for concurrent use.
type Store interface {
	EnsureUser(ctx context.Context, id, username string) error
	GetUserByID(ctx context.Context, id string) (User, error)
	UpdatePlayerStats(ctx context.Context, stats []PlayerStat) error
	IncrementTournamentWins(ctx context.Context, userID string) error
	SetUserTournament(ctx context.Context, userID, tournamentID string) error

	SaveMatchResult(ctx context.Context, match MatchRecord) error
	CreateMatch(ctx context.Context, match MatchRecord) error
	SetMatchWinner(ctx context.Context, matchID, winnerID string) error

	CreateTournament(ctx context.Context, t TournamentRecord) error
	UpdateTournament(ctx context.Context, t TournamentRecord) error
	GetActiveTournamentID(ctx context.Context) (string, error)
	GetTournamentParticipants(ctx context.Context, id string) ([]string, error)

	SaveMessage(ctx context.Context, msg Message) error
	MarkMessagesRead(ctx context.Context, senderID, readerID string) error

	Close() error
}
