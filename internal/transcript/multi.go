package transcript

import (
	"context"
	"log/slog"
	"time"

	"replicli/internal/domain"
)

// Multi writes to a primary sink and best-effort mirrors. Only a primary
// failure is returned; mirror failures are logged.
type Multi struct {
	primary domain.TranscriptSink
	mirrors []domain.TranscriptSink
	logger  *slog.Logger
}

func NewMulti(logger *slog.Logger, primary domain.TranscriptSink, mirrors ...domain.TranscriptSink) *Multi {
	return &Multi{primary: primary, mirrors: mirrors, logger: logger}
}

func (m *Multi) Append(ctx context.Context, sessionID string, at time.Time, line string) error {
	if err := m.primary.Append(ctx, sessionID, at, line); err != nil {
		return err
	}
	for _, s := range m.mirrors {
		if err := s.Append(ctx, sessionID, at, line); err != nil {
			m.logger.Warn("transcript mirror append failed", "session", sessionID, "err", err)
		}
	}
	return nil
}
