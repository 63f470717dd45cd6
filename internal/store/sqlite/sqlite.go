package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"pong-arena/server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	wins INTEGER NOT NULL DEFAULT 0,
	losses INTEGER NOT NULL DEFAULT 0,
	tournament_wins INTEGER NOT NULL DEFAULT 0,
	current_tournament_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS matches (
	id TEXT PRIMARY KEY,
	player1_id TEXT NOT NULL,
	player2_id TEXT NOT NULL,
	tournament_id TEXT NOT NULL DEFAULT '',
	round INTEGER NOT NULL DEFAULT 0,
	winner_id TEXT NOT NULL DEFAULT '',
	score1 INTEGER NOT NULL DEFAULT 0,
	score2 INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP,
	ended_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS tournaments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	max_players INTEGER NOT NULL,
	status TEXT NOT NULL,
	start_at TIMESTAMP,
	end_at TIMESTAMP,
	winner_id TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	content TEXT NOT NULL,
	sent_at TIMESTAMP NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0
);
`

// Storage implements store.Store on a SQLite database.
type Storage struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and bootstraps
// the schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent result commits.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) EnsureUser(ctx context.Context, id, username string) error {
	if username == "" {
		username = id
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, username, time.Now())
	return err
}

func (s *Storage) GetUserByID(ctx context.Context, id string) (store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, wins, losses, tournament_wins, current_tournament_id, created_at
		 FROM users WHERE id = ?`, id)
	var user store.User
	err := row.Scan(&user.ID, &user.Username, &user.Wins, &user.Losses,
		&user.TournamentWins, &user.CurrentTournamentID, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, store.ErrNotFound
	}
	if err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Storage) UpdatePlayerStats(ctx context.Context, stats []store.PlayerStat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stat := range stats {
		if err := s.ensureUserTx(ctx, tx, stat.UserID); err != nil {
			return err
		}
		column := "losses"
		if stat.Won {
			column = "wins"
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE users SET %s = %s + 1 WHERE id = ?`, column, column),
			stat.UserID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Storage) ensureUserTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, id, time.Now())
	return err
}

func (s *Storage) IncrementTournamentWins(ctx context.Context, userID string) error {
	if err := s.EnsureUser(ctx, userID, ""); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET tournament_wins = tournament_wins + 1 WHERE id = ?`, userID)
	return err
}

func (s *Storage) SetUserTournament(ctx context.Context, userID, tournamentID string) error {
	if err := s.EnsureUser(ctx, userID, ""); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET current_tournament_id = ? WHERE id = ?`, tournamentID, userID)
	return err
}

func (s *Storage) SaveMatchResult(ctx context.Context, match store.MatchRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (id, player1_id, player2_id, tournament_id, round, winner_id, score1, score2, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			winner_id = excluded.winner_id,
			score1 = excluded.score1,
			score2 = excluded.score2,
			ended_at = excluded.ended_at`,
		match.ID, match.Player1ID, match.Player2ID, match.TournamentID, match.Round,
		match.WinnerID, match.Score1, match.Score2, match.StartedAt, match.EndedAt)
	return err
}

func (s *Storage) CreateMatch(ctx context.Context, match store.MatchRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (id, player1_id, player2_id, tournament_id, round, winner_id, score1, score2, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		match.ID, match.Player1ID, match.Player2ID, match.TournamentID, match.Round,
		match.WinnerID, match.Score1, match.Score2, match.StartedAt, match.EndedAt)
	return err
}

func (s *Storage) SetMatchWinner(ctx context.Context, matchID, winnerID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE matches SET winner_id = ?, ended_at = ? WHERE id = ?`,
		winnerID, time.Now(), matchID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetMatch reads one match row back; used by tests and diagnostics.
func (s *Storage) GetMatch(ctx context.Context, id string) (store.MatchRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, player1_id, player2_id, tournament_id, round, winner_id, score1, score2
		 FROM matches WHERE id = ?`, id)
	var match store.MatchRecord
	err := row.Scan(&match.ID, &match.Player1ID, &match.Player2ID, &match.TournamentID,
		&match.Round, &match.WinnerID, &match.Score1, &match.Score2)
	if errors.Is(err, sql.ErrNoRows) {
		return store.MatchRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.MatchRecord{}, err
	}
	return match, nil
}

func (s *Storage) CreateTournament(ctx context.Context, t store.TournamentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tournaments (id, name, max_players, status, start_at, end_at, winner_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.MaxPlayers, t.Status, t.StartAt, t.EndAt, t.WinnerID)
	return err
}

func (s *Storage) UpdateTournament(ctx context.Context, t store.TournamentRecord) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tournaments SET name = ?, max_players = ?, status = ?, start_at = ?, end_at = ?, winner_id = ?
		 WHERE id = ?`,
		t.Name, t.MaxPlayers, t.Status, t.StartAt, t.EndAt, t.WinnerID, t.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Storage) GetActiveTournamentID(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM tournaments WHERE status = 'active' ORDER BY start_at DESC LIMIT 1`)
	var id string
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Storage) GetTournamentParticipants(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM users WHERE current_tournament_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		ids = append(ids, userID)
	}
	return ids, rows.Err()
}

func (s *Storage) SaveMessage(ctx context.Context, msg store.Message) error {
	read := 0
	if msg.Read {
		read = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content, sent_at, is_read)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.SentAt, read)
	return err
}

func (s *Storage) MarkMessagesRead(ctx context.Context, senderID, readerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE sender_id = ? AND receiver_id = ?`,
		senderID, readerID)
	return err
}
