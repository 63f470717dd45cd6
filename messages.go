package server

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire shape for every inbound client message.
type Envelope struct {
	Type       string          `json:"type"`
	Event      string          `json:"event,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceiverID string          `json:"receiverId,omitempty"`
	SenderID   string          `json:"senderId,omitempty"`
	Content    string          `json:"content,omitempty"`
}

type outboundEnvelope struct {
	Ver   int    `json:"ver"`
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func gameEnvelope(event string, data any) outboundEnvelope {
	return outboundEnvelope{Ver: ProtocolVersion, Type: "game", Event: event, Data: data}
}

func tournamentEnvelope(event string, data any) outboundEnvelope {
	return outboundEnvelope{Ver: ProtocolVersion, Type: "tournament", Event: event, Data: data}
}

func chatEnvelope(event string, data any) outboundEnvelope {
	return outboundEnvelope{Ver: ProtocolVersion, Type: "message", Event: event, Data: data}
}

func errorEnvelope(message string) outboundEnvelope {
	return outboundEnvelope{Ver: ProtocolVersion, Type: "error", Data: errorPayload{Message: message}}
}

// Command is the decoded form of one inbound envelope. The concrete
// types below are the only implementations; the router's type switch is
// exhaustive over them.
type Command interface {
	isCommand()
}

type JoinGameCommand struct {
	RoomID string // empty requests a fresh room
}

type StartGameCommand struct {
	RoomID string
}

type LeaveGameCommand struct {
	RoomID string
}

type MovePaddleCommand struct {
	RoomID string
	Y      float64
}

type StateRequestCommand struct {
	RoomID string
}

type ReconnectCommand struct{}

type JoinTournamentCommand struct {
	TournamentID string // empty targets the pending tournament
}

type LeaveTournamentCommand struct {
	TournamentID string
}

type TournamentDetailsCommand struct{}

type TournamentBracketCommand struct{}

type ChatSendCommand struct {
	ReceiverID string
	Content    string
}

type ChatReadCommand struct {
	SenderID string
}

func (JoinGameCommand) isCommand()          {}
func (StartGameCommand) isCommand()         {}
func (LeaveGameCommand) isCommand()         {}
func (MovePaddleCommand) isCommand()        {}
func (StateRequestCommand) isCommand()      {}
func (ReconnectCommand) isCommand()         {}
func (JoinTournamentCommand) isCommand()    {}
func (LeaveTournamentCommand) isCommand()   {}
func (TournamentDetailsCommand) isCommand() {}
func (TournamentBracketCommand) isCommand() {}
func (ChatSendCommand) isCommand()          {}
func (ChatReadCommand) isCommand()          {}

type gamePayload struct {
	RoomID string   `json:"roomId"`
	Y      *float64 `json:"y,omitempty"`
}

type tournamentPayload struct {
	TournamentID string `json:"tournamentId"`
}

// DecodeCommand maps an envelope onto its typed command. Unknown types
// or events come back as errors; callers drop the message with a
// warning rather than closing the connection.
func DecodeCommand(env Envelope) (Command, error) {
	switch env.Type {
	case "game":
		return decodeGameCommand(env)
	case "tournament":
		return decodeTournamentCommand(env)
	case "message":
		if env.ReceiverID == "" {
			return nil, fmt.Errorf("message without receiverId")
		}
		return ChatSendCommand{ReceiverID: env.ReceiverID, Content: env.Content}, nil
	case "read":
		if env.SenderID == "" {
			return nil, fmt.Errorf("read receipt without senderId")
		}
		return ChatReadCommand{SenderID: env.SenderID}, nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
}

func decodeGameCommand(env Envelope) (Command, error) {
	var payload gamePayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("malformed game payload: %w", err)
		}
	}
	switch env.Event {
	case "join":
		return JoinGameCommand{RoomID: payload.RoomID}, nil
	case "start":
		if payload.RoomID == "" {
			return nil, fmt.Errorf("game start without roomId")
		}
		return StartGameCommand{RoomID: payload.RoomID}, nil
	case "leave":
		if payload.RoomID == "" {
			return nil, fmt.Errorf("game leave without roomId")
		}
		return LeaveGameCommand{RoomID: payload.RoomID}, nil
	case "move":
		if payload.RoomID == "" || payload.Y == nil {
			return nil, fmt.Errorf("game move without roomId or y")
		}
		return MovePaddleCommand{RoomID: payload.RoomID, Y: *payload.Y}, nil
	case "state":
		if payload.RoomID == "" {
			return nil, fmt.Errorf("game state without roomId")
		}
		return StateRequestCommand{RoomID: payload.RoomID}, nil
	case "reconnect":
		return ReconnectCommand{}, nil
	default:
		return nil, fmt.Errorf("unknown game event %q", env.Event)
	}
}

func decodeTournamentCommand(env Envelope) (Command, error) {
	var payload tournamentPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("malformed tournament payload: %w", err)
		}
	}
	switch env.Event {
	case "join":
		return JoinTournamentCommand{TournamentID: payload.TournamentID}, nil
	case "leave":
		return LeaveTournamentCommand{TournamentID: payload.TournamentID}, nil
	case "get-details":
		return TournamentDetailsCommand{}, nil
	case "get-bracket":
		return TournamentBracketCommand{}, nil
	default:
		return nil, fmt.Errorf("unknown tournament event %q", env.Event)
	}
}

// Outbound payloads.

type errorPayload struct {
	Message string `json:"message"`
}

type roomCreatedPayload struct {
	RoomID string `json:"roomId"`
}

type joinedPayload struct {
	RoomID  string   `json:"roomId"`
	Players []string `json:"players"`
}

type gameStartedPayload struct {
	RoomID      string `json:"roomId"`
	LeftPlayer  string `json:"leftPlayer"`
	RightPlayer string `json:"rightPlayer"`
}

type stateUpdatePayload struct {
	RoomID string    `json:"roomId"`
	Tick   uint64    `json:"t"`
	State  GameState `json:"state"`
}

type pausedPayload struct {
	RoomID         string `json:"roomId"`
	Reason         string `json:"reason"`
	UserID         string `json:"userId"`
	Message        string `json:"message"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type resumedPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type playerLeftPayload struct {
	RoomID            string         `json:"roomId"`
	Winner            string         `json:"winner,omitempty"`
	FinalScore        map[string]int `json:"finalScore,omitempty"`
	LeftPlayer        string         `json:"leftPlayer"`
	IsTournamentMatch bool           `json:"isTournamentMatch"`
	TournamentID      string         `json:"tournamentId,omitempty"`
	Round             int            `json:"round,omitempty"`
}

type gameOverPayload struct {
	RoomID            string         `json:"roomId"`
	Winner            string         `json:"winner"`
	FinalScore        map[string]int `json:"finalScore"`
	Message           string         `json:"message"`
	IsTournamentMatch bool           `json:"isTournamentMatch"`
	TournamentID      string         `json:"tournamentId,omitempty"`
	Round             int            `json:"round,omitempty"`
}

type flashPayload struct {
	RoomID string     `json:"roomId"`
	Flash  flashFrame `json:"flash"`
}

type flashFrame struct {
	Type      string `json:"type"`
	Index     int    `json:"index"`
	Duration  int64  `json:"duration"`
	Timestamp int64  `json:"timestamp"`
}

type chatMessagePayload struct {
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
	SentAt   int64  `json:"sentAt"`
}

type chatDeliveredPayload struct {
	ReceiverID string `json:"receiverId"`
	SentAt     int64  `json:"sentAt"`
}

type chatReadPayload struct {
	ReaderID string `json:"readerId"`
}

type tournamentPlayerJoinedPayload struct {
	TournamentID string   `json:"tournamentId"`
	UserID       string   `json:"userId"`
	Participants []string `json:"participants"`
	MaxPlayers   int      `json:"maxPlayers"`
}

type bracketMatch struct {
	MatchID  string `json:"matchId"`
	Player1  string `json:"player1"`
	Player2  string `json:"player2"`
	WinnerID string `json:"winnerId,omitempty"`
	Round    int    `json:"round"`
	RoomID   string `json:"roomId,omitempty"`
}

type tournamentStartedPayload struct {
	TournamentID string         `json:"tournamentId"`
	Bracket      []bracketMatch `json:"bracket"`
	CurrentRound int            `json:"currentRound"`
}

type matchStartedPayload struct {
	MatchID  string   `json:"matchId"`
	Opponent string   `json:"opponent"`
	Round    int      `json:"round"`
	RoomID   string   `json:"roomId"`
	Players  []string `json:"players"`
}

type matchCompletedPayload struct {
	TournamentID string `json:"tournamentId"`
	MatchID      string `json:"matchId"`
	WinnerID     string `json:"winnerId"`
	Round        int    `json:"round"`
}

type roundCompletedPayload struct {
	TournamentID string `json:"tournamentId"`
	Round        int    `json:"round"`
}

type nextRoundStartedPayload struct {
	TournamentID string   `json:"tournamentId"`
	Round        int      `json:"round"`
	Winners      []string `json:"winners"`
}

type tournamentEndedPayload struct {
	TournamentID   string `json:"tournamentId"`
	WinnerID       string `json:"winnerId"`
	WinnerUsername string `json:"winnerUsername"`
	Message        string `json:"message"`
}

type newTournamentCreatedPayload struct {
	TournamentID string `json:"tournamentId"`
}

type tournamentDetailsPayload struct {
	TournamentID string   `json:"tournamentId"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	MaxPlayers   int      `json:"maxPlayers"`
	Participants []string `json:"participants"`
	CurrentRound int      `json:"currentRound"`
}

type tournamentBracketPayload struct {
	TournamentID string         `json:"tournamentId"`
	CurrentRound int            `json:"currentRound"`
	Bracket      []bracketMatch `json:"bracket"`
}
