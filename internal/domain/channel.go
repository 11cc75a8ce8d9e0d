package domain

import (
	"context"
	"time"
)

// TranscriptSink is an append-only per-session log. Append must be durable
// before it returns and must never overwrite earlier lines.
type TranscriptSink interface {
	Append(ctx context.Context, sessionID string, at time.Time, line string) error
}

// TurnRecorder stores finalized turns.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, turn Turn, outcome string) error
}

// InputSource yields user input one line at a time. Next returns io.EOF
// when no more input will arrive.
type InputSource interface {
	Next(ctx context.Context) (string, error)
}

// Prompter asks the user to pick one of a fixed set of options and returns
// the raw answer.
type Prompter interface {
	Choose(ctx context.Context, question string, options []string) (string, error)
}

// Reporter presents turn outcomes to the user.
type Reporter interface {
	Report(ctx context.Context, outcome Outcome)
	Notice(ctx context.Context, text string)
}

// Channel bundles the three user-facing capabilities a session needs.
type Channel interface {
	InputSource
	Prompter
	Reporter
	Name() string
}
