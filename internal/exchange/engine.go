// Package exchange runs one message-exchange turn against the companion chat:
// submit, confirm delivery, settle, collect the reply and, for image
// replies, the follow-up dialog.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"replicli/internal/domain"
	"replicli/internal/metrics"
)

// Timeouts holds the wait budgets and deliberate delays of a turn.
type Timeouts struct {
	Submit     time.Duration // locate the message input
	Delivery   time.Duration // outbound bubble echo
	Settle     time.Duration // fixed pause before polling for a reply
	Collect    time.Duration // reply rows to render
	ImageProbe time.Duration // image attachment after an empty text reply

	ImageContinue time.Duration // pause after "send another one"
	ImageStop     time.Duration // pause after "stop"
}

// Engine executes turns. It borrows the driver from its owner and never
// releases it.
type Engine struct {
	driver        domain.Driver
	locators      domain.Locators
	sink          domain.TranscriptSink
	prompter      domain.Prompter
	collector     *Collector
	timeouts      Timeouts
	companionName string
	sessionID     string
	logger        *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu sync.Mutex
}

type EngineConfig struct {
	Driver        domain.Driver
	Locators      domain.Locators
	Sink          domain.TranscriptSink
	Prompter      domain.Prompter
	Timeouts      Timeouts
	CompanionName string
	SessionID     string
	Logger        *slog.Logger

	// Sleep and Now default to real time.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		driver:        cfg.Driver,
		locators:      cfg.Locators,
		sink:          cfg.Sink,
		prompter:      cfg.Prompter,
		timeouts:      cfg.Timeouts,
		companionName: cfg.CompanionName,
		sessionID:     cfg.SessionID,
		logger:        cfg.Logger,
		sleep:         cfg.Sleep,
		now:           cfg.Now,
	}
	if e.sleep == nil {
		e.sleep = Sleep
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.companionName == "" {
		e.companionName = "Replika"
	}
	e.collector = NewCollector(CollectorConfig{
		Driver:     cfg.Driver,
		Locators:   cfg.Locators,
		ImageProbe: cfg.Timeouts.ImageProbe,
		Logger:     cfg.Logger,
	})
	return e
}

// SessionID returns the transcript namespace the engine writes to.
func (e *Engine) SessionID() string { return e.sessionID }

// IsTerminate reports whether raw is a session termination command.
func IsTerminate(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "exit", "quit":
		return true
	}
	return false
}

// ExecuteTurn handles one user input. It never panics on page failures;
// every per-turn problem comes back as an error Outcome.
func (e *Engine) ExecuteTurn(ctx context.Context, raw string) domain.Outcome {
	if IsTerminate(raw) {
		return domain.Outcome{Kind: domain.OutcomeTerminate}
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return domain.Outcome{Kind: domain.OutcomeError, Err: domain.ErrEmptyMessage}
	}
	if !e.mu.TryLock() {
		return domain.Outcome{Kind: domain.OutcomeError, Err: domain.ErrTurnInProgress}
	}
	defer e.mu.Unlock()

	metrics.ActiveTurns.Inc()
	defer metrics.ActiveTurns.Dec()

	out := e.run(ctx, text)
	metrics.TurnsTotal(out.Reason()).Inc()
	if out.Err != nil {
		e.logger.Warn("turn failed", "session", e.sessionID, "reason", out.Reason(), "err", out.Err)
	}
	return out
}

func (e *Engine) run(ctx context.Context, text string) domain.Outcome {
	turn := &domain.Turn{
		ID:        uuid.NewString(),
		SessionID: e.sessionID,
		SentText:  text,
		ReplyKind: domain.ReplyNone,
	}
	log := e.logger.With("turn", turn.ID)

	// Submit
	input, err := e.locators.Get(domain.RoleMessageInput)
	if err != nil {
		return failed(err, nil)
	}
	if err := e.driver.WaitAndType(ctx, input, text, true, e.timeouts.Submit); err != nil {
		if ctx.Err() != nil {
			return failed(ctx.Err(), nil)
		}
		return failed(fmt.Errorf("%w: %w", domain.ErrSubmitNotFound, err), nil)
	}
	turn.SentAt = e.now()
	log.Debug("message submitted", "chars", len(text))

	// ConfirmDelivery. The outbound line is written whether or not the
	// echo shows up, and survives cancellation.
	bubble, err := e.locators.Get(domain.RoleOutboundBubble)
	if err != nil {
		return failed(err, nil)
	}
	_, deliveryErr := e.driver.WaitForPresence(ctx, bubble.WithText(text), e.timeouts.Delivery)
	turn.Delivered = deliveryErr == nil
	e.appendLine(context.WithoutCancel(ctx), "You: "+text)

	if deliveryErr != nil {
		if ctx.Err() != nil {
			return failed(ctx.Err(), turn)
		}
		return failed(fmt.Errorf("%w: %w", domain.ErrDeliveryUnconfirmed, deliveryErr), turn)
	}
	log.Debug("delivery confirmed")

	// Settle
	if err := e.sleep(ctx, e.timeouts.Settle); err != nil {
		return failed(err, turn)
	}

	// CollectReply
	cand, err := e.collector.CollectLatest(ctx, e.timeouts.Collect)
	if err != nil {
		if ctx.Err() != nil {
			return failed(ctx.Err(), turn)
		}
		return failed(fmt.Errorf("%w: %w", domain.ErrNoReply, err), turn)
	}

	switch cand.Kind {
	case domain.ReplyText:
		e.finalize(turn, cand)
		e.appendLine(context.WithoutCancel(ctx), fmt.Sprintf("%s: %s", e.companionName, cand.Content))
		log.Info("text reply received", "chars", len(cand.Content))
		return domain.Outcome{Kind: domain.OutcomeReplied, Turn: turn}

	case domain.ReplyImage:
		e.finalize(turn, cand)
		e.appendLine(context.WithoutCancel(ctx), fmt.Sprintf("%s (image): %s", e.companionName, cand.Content))
		log.Info("image reply received", "src", cand.Content)
		if err := e.imageFollowUp(ctx, cand.Content); err != nil {
			return failed(err, turn)
		}
		return domain.Outcome{Kind: domain.OutcomeReplied, Turn: turn}
	}

	return failed(domain.ErrNoReply, turn)
}

func (e *Engine) finalize(turn *domain.Turn, cand domain.ReplyCandidate) {
	at := e.now()
	turn.ReplyKind = cand.Kind
	turn.ReplyContent = cand.Content
	turn.ReplyAt = &at

	metrics.RepliesTotal(string(cand.Kind)).Inc()
	if !turn.SentAt.IsZero() {
		metrics.ReplyLatency.Observe(at.Sub(turn.SentAt).Seconds())
	}
}

// appendLine writes one transcript record. A failed write is logged and
// does not change the turn's outcome.
func (e *Engine) appendLine(ctx context.Context, line string) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Append(ctx, e.sessionID, e.now(), line); err != nil {
		e.logger.Error("transcript append failed", "session", e.sessionID, "err", err)
	}
}

func failed(err error, turn *domain.Turn) domain.Outcome {
	return domain.Outcome{Kind: domain.OutcomeError, Err: err, Turn: turn}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
