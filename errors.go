package server

// RejectKind classifies why an operation was refused. Rejections are
// reported back to the requesting connection and never mutate state.
type RejectKind int

const (
	RejectValidation RejectKind = iota
	RejectConflict
	RejectNotFound
)

// Reject is a typed refusal of a client operation.
type Reject struct {
	Kind   RejectKind
	Reason string
}

func (r *Reject) Error() string {
	return r.Reason
}

var (
	ErrRoomNotFound       = &Reject{Kind: RejectNotFound, Reason: "room not found"}
	ErrAlreadyJoined      = &Reject{Kind: RejectConflict, Reason: "already joined"}
	ErrRoomFull           = &Reject{Kind: RejectConflict, Reason: "room full"}
	ErrGameAlreadyStarted = &Reject{Kind: RejectConflict, Reason: "game already started"}
	ErrNotInRoom          = &Reject{Kind: RejectValidation, Reason: "not a player in this room"}
	ErrNoPausedGame       = &Reject{Kind: RejectNotFound, Reason: "no paused game to reconnect"}

	ErrTournamentNotFound   = &Reject{Kind: RejectNotFound, Reason: "tournament not found"}
	ErrTournamentNotPending = &Reject{Kind: RejectConflict, Reason: "tournament is not accepting players"}
	ErrTournamentFull       = &Reject{Kind: RejectConflict, Reason: "tournament full"}
	ErrAlreadyInTournament  = &Reject{Kind: RejectConflict, Reason: "already in a tournament"}
	ErrNotInTournament      = &Reject{Kind: RejectValidation, Reason: "not a tournament participant"}
)
