package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"replicli/internal/domain"
)

// Collector finds the latest companion reply on the page. It re-reads the
// rendered conversation on every call instead of tracking deltas: reply
// text streams in after its row appears, and the UI only ever appends rows.
type Collector struct {
	driver     domain.Driver
	locators   domain.Locators
	imageProbe time.Duration
	logger     *slog.Logger
}

type CollectorConfig struct {
	Driver   domain.Driver
	Locators domain.Locators
	// ImageProbe bounds the wait for image attachments once no text reply
	// was found.
	ImageProbe time.Duration
	Logger     *slog.Logger
}

func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Collector{
		driver:     cfg.Driver,
		locators:   cfg.Locators,
		imageProbe: cfg.ImageProbe,
		logger:     cfg.Logger,
	}
}

type rowLocators struct {
	row, marker, text domain.Locator
}

func (c *Collector) rowLocators() (rowLocators, error) {
	var (
		rl  rowLocators
		err error
	)
	if rl.row, err = c.locators.Get(domain.RoleReplyRow); err != nil {
		return rl, err
	}
	if rl.marker, err = c.locators.Get(domain.RoleCompanionMarker); err != nil {
		return rl, err
	}
	if rl.text, err = c.locators.Get(domain.RoleReplyText); err != nil {
		return rl, err
	}
	return rl, nil
}

// CollectLatest waits up to timeout for reply rows and returns the latest
// companion reply. A candidate with Kind ReplyNone means nothing usable was
// found; the error is reserved for cancellation and broken locators.
func (c *Collector) CollectLatest(ctx context.Context, timeout time.Duration) (domain.ReplyCandidate, error) {
	none := domain.ReplyCandidate{Position: -1, Kind: domain.ReplyNone}

	rl, err := c.rowLocators()
	if err != nil {
		return none, err
	}
	if _, err := c.driver.WaitForPresence(ctx, rl.row, timeout); err != nil {
		if ctx.Err() != nil {
			return none, ctx.Err()
		}
		c.logger.Warn("no reply rows rendered", "timeout", timeout, "err", err)
		return none, nil
	}

	rows, err := c.driver.FindAll(ctx, rl.row)
	if err != nil {
		return none, fmt.Errorf("list reply rows: %w", err)
	}

	// Walk back to the last companion row; it alone decides. An empty one
	// is not traded for an older non-empty row but falls through to the
	// image probe.
	for i := len(rows) - 1; i >= 0; i-- {
		cand, err := c.classify(ctx, rows[i], i, rl)
		if err != nil {
			return none, err
		}
		if cand.Author != domain.AuthorCompanion {
			continue
		}
		if cand.Kind == domain.ReplyText {
			return cand, nil
		}
		break
	}

	return c.latestImage(ctx)
}

// Snapshot returns every rendered reply row in document order.
func (c *Collector) Snapshot(ctx context.Context) ([]domain.ReplyCandidate, error) {
	rl, err := c.rowLocators()
	if err != nil {
		return nil, err
	}
	rows, err := c.driver.FindAll(ctx, rl.row)
	if err != nil {
		return nil, fmt.Errorf("list reply rows: %w", err)
	}

	out := make([]domain.ReplyCandidate, 0, len(rows))
	for i, row := range rows {
		cand, err := c.classify(ctx, row, i, rl)
		if err != nil {
			return nil, err
		}
		out = append(out, cand)
	}
	return out, nil
}

// classify decides a row's author and reads its text when the companion
// wrote it. A failed marker lookup is an error, never a user row.
func (c *Collector) classify(ctx context.Context, row domain.Element, pos int, rl rowLocators) (domain.ReplyCandidate, error) {
	cand := domain.ReplyCandidate{Position: pos, Author: domain.AuthorUser, Kind: domain.ReplyNone}

	markers, err := row.FindAll(ctx, rl.marker)
	if err != nil {
		if ctx.Err() != nil {
			return cand, ctx.Err()
		}
		return cand, fmt.Errorf("classify reply row %d: %w", pos, err)
	}
	if len(markers) == 0 {
		return cand, nil
	}
	cand.Author = domain.AuthorCompanion

	if text := c.rowText(ctx, row, rl.text, pos); text != "" {
		cand.Kind = domain.ReplyText
		cand.Content = text
	}
	return cand, nil
}

// rowText returns the trimmed text of the row's first live-region span.
func (c *Collector) rowText(ctx context.Context, row domain.Element, textLoc domain.Locator, pos int) string {
	nodes, err := row.FindAll(ctx, textLoc)
	if err != nil {
		c.logger.Warn("reply text lookup failed", "position", pos, "err", err)
		return ""
	}
	if len(nodes) == 0 {
		return ""
	}
	text, err := nodes[0].Text(ctx)
	if err != nil {
		c.logger.Debug("reply text unreadable", "position", pos, "err", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func (c *Collector) latestImage(ctx context.Context) (domain.ReplyCandidate, error) {
	none := domain.ReplyCandidate{Position: -1, Kind: domain.ReplyNone}

	imgLoc, err := c.locators.Get(domain.RoleImageAttachment)
	if err != nil {
		return none, err
	}
	if _, err := c.driver.WaitForPresence(ctx, imgLoc, c.imageProbe); err != nil {
		if ctx.Err() != nil {
			return none, ctx.Err()
		}
		if !errors.Is(err, domain.ErrTimeout) {
			c.logger.Warn("image probe failed", "err", err)
		}
		return none, nil
	}

	images, err := c.driver.FindAll(ctx, imgLoc)
	if err != nil {
		return none, fmt.Errorf("list image attachments: %w", err)
	}
	if len(images) == 0 {
		return none, nil
	}
	last := len(images) - 1
	src, ok, err := images[last].Attribute(ctx, "src")
	if err != nil {
		if ctx.Err() != nil {
			return none, ctx.Err()
		}
		c.logger.Warn("image source unreadable", "err", err)
		return none, nil
	}
	src = strings.TrimSpace(src)
	if !ok || src == "" {
		return none, nil
	}
	return domain.ReplyCandidate{
		Position: last,
		Author:   domain.AuthorCompanion,
		Kind:     domain.ReplyImage,
		Content:  src,
	}, nil
}
