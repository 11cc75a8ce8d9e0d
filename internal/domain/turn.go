package domain

import (
	"errors"
	"time"
)

// ReplyKind classifies what the companion sent back.
type ReplyKind string

const (
	ReplyNone  ReplyKind = "none"
	ReplyText  ReplyKind = "text"
	ReplyImage ReplyKind = "image"
)

// AuthorRole says who wrote a rendered chat row.
type AuthorRole string

const (
	AuthorUser      AuthorRole = "user"
	AuthorCompanion AuthorRole = "companion"
)

// Turn is one send-and-receive exchange. It is owned by the exchange engine
// until finalized and must not be modified afterwards.
type Turn struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	SentText     string    `json:"sent_text"`
	SentAt       time.Time `json:"sent_at"`
	Delivered    bool      `json:"delivered"`
	ReplyKind    ReplyKind `json:"reply_kind"`
	ReplyContent string    `json:"reply_content,omitempty"`
	// ReplyAt is nil when no reply was classified.
	ReplyAt *time.Time `json:"reply_at,omitempty"`
}

// ReplyCandidate is a snapshot of one visible reply row taken at poll time.
type ReplyCandidate struct {
	Position int
	Author   AuthorRole
	Kind     ReplyKind
	Content  string
}

// OutcomeKind is the top-level result of handling one user input.
type OutcomeKind int

const (
	OutcomeReplied OutcomeKind = iota
	OutcomeTerminate
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReplied:
		return "replied"
	case OutcomeTerminate:
		return "terminate"
	case OutcomeError:
		return "error"
	}
	return "unknown"
}

// Per-turn failures. They never end the session.
var (
	ErrSubmitNotFound      = errors.New("message input not found")
	ErrDeliveryUnconfirmed = errors.New("message delivery could not be confirmed")
	ErrNoReply             = errors.New("no reply received")
	ErrImageFollowUpFailed = errors.New("image follow-up control not found")

	ErrEmptyMessage   = errors.New("message is empty")
	ErrTurnInProgress = errors.New("another turn is still in progress")
)

// Outcome reports how a turn ended. Turn is nil for Terminate and for
// failures that happened before anything was sent.
type Outcome struct {
	Kind OutcomeKind
	Err  error
	Turn *Turn
}

// Reason returns a short label for metrics and logs.
func (o Outcome) Reason() string {
	switch {
	case o.Kind != OutcomeError:
		return o.Kind.String()
	case errors.Is(o.Err, ErrSubmitNotFound):
		return "submit_not_found"
	case errors.Is(o.Err, ErrDeliveryUnconfirmed):
		return "delivery_unconfirmed"
	case errors.Is(o.Err, ErrNoReply):
		return "no_reply"
	case errors.Is(o.Err, ErrImageFollowUpFailed):
		return "image_follow_up_failed"
	case errors.Is(o.Err, ErrEmptyMessage):
		return "empty_message"
	case errors.Is(o.Err, ErrTurnInProgress):
		return "turn_in_progress"
	}
	return "error"
}
