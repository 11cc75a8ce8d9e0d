// Package transcript persists the per-session conversation log.
//
// The primary sink is a plain text file per session, grouped by day:
//
//	<dir>/2024-05-01/05-01-2024_21-14-03.txt
//	21:14:09: You: hello
//	21:14:16: Replika: hi there!
//
// SQLiteStore mirrors the same lines and the finalized turns into a database
// so that sessions can be listed and replayed.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SessionIDLayout formats the session start time into a session ID.
const SessionIDLayout = "01-02-2006_15-04-05"

// NewSessionID returns the ID for a session started at t.
func NewSessionID(t time.Time) string {
	return t.Format(SessionIDLayout)
}

// FileLog appends transcript lines to <dir>/<date>/<sessionID>.txt.
type FileLog struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

func NewFileLog(dir string, logger *slog.Logger) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create transcript directory %s: %w", dir, err)
	}
	return &FileLog{dir: dir, logger: logger}, nil
}

// Path returns the file a line written at `at` for sessionID lands in.
func (f *FileLog) Path(sessionID string, at time.Time) string {
	return filepath.Join(f.dir, at.Format("2006-01-02"), sessionID+".txt")
}

// Append writes one line and syncs it to disk. Each line is a single
// write on an O_APPEND descriptor, so concurrent writers never interleave
// within a line.
func (f *FileLog) Append(ctx context.Context, sessionID string, at time.Time, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}

	path := f.Path(sessionID, at)
	record := at.Format("15:04:05") + ": " + flatten(line) + "\n"

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript day dir: %w", err)
	}
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript %s: %w", path, err)
	}
	if _, err := fh.WriteString(record); err != nil {
		fh.Close()
		return fmt.Errorf("write transcript %s: %w", path, err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return fmt.Errorf("sync transcript %s: %w", path, err)
	}
	if err := fh.Close(); err != nil {
		return err
	}

	f.logger.Debug("transcript line appended", "session", sessionID, "path", path)
	return nil
}

// flatten trims the line and folds embedded newlines so one record stays
// one line on disk.
func flatten(line string) string {
	line = strings.TrimSpace(line)
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(line)
}
