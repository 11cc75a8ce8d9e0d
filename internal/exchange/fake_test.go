package exchange

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"replicli/internal/browser/browsertest"
	"replicli/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var (
	locInput   = domain.CSS("textarea.input")
	locBubble  = domain.XPath(`//div[@class="out" and contains(., {text})]`)
	locRow     = domain.CSS("div.row")
	locMarker  = domain.CSS("span.companion")
	locText    = domain.CSS("span.text")
	locImage   = domain.CSS("img.attachment")
	locAnother = domain.XPath(`//button[text()="Send another one"]`)
	locStop    = domain.XPath(`//button[text()="Stop"]`)
)

func testLocators() domain.Locators {
	return domain.Locators{
		domain.RoleLoginLink:         domain.XPath(`//a[contains(text(), "Log in")]`),
		domain.RoleEmailInput:        domain.CSS("#email"),
		domain.RolePasswordInput:     domain.CSS("#password"),
		domain.RoleMessageInput:      locInput,
		domain.RoleOutboundBubble:    locBubble,
		domain.RoleReplyRow:          locRow,
		domain.RoleCompanionMarker:   locMarker,
		domain.RoleReplyText:         locText,
		domain.RoleImageAttachment:   locImage,
		domain.RoleSendAnotherButton: locAnother,
		domain.RoleStopButton:        locStop,
	}
}

func newFakeDriver() *browsertest.Driver {
	d := browsertest.NewDriver()
	d.Set(locInput, &browsertest.Element{})
	return d
}

// echo makes the outbound bubble for text visible.
func echo(d *browsertest.Driver, text string) {
	d.Set(locBubble.WithText(text), &browsertest.Element{Content: text})
}

func companionRow(text string) domain.Element {
	children := map[domain.Locator][]domain.Element{
		locMarker: {&browsertest.Element{}},
	}
	if text != "" {
		children[locText] = []domain.Element{
			&browsertest.Element{Content: text},
			&browsertest.Element{Content: "ignored"},
		}
	}
	return &browsertest.Element{Children: children}
}

func userRow(text string) domain.Element {
	return &browsertest.Element{Children: map[domain.Locator][]domain.Element{
		locText: {&browsertest.Element{Content: text}},
	}}
}

func image(src string) domain.Element {
	return &browsertest.Element{Attrs: map[string]string{"src": src}}
}

func button() domain.Element { return &browsertest.Element{} }

type scriptedPrompter struct {
	answer    string
	err       error
	questions []string
	options   [][]string
}

func (p *scriptedPrompter) Choose(ctx context.Context, question string, options []string) (string, error) {
	p.questions = append(p.questions, question)
	p.options = append(p.options, options)
	return p.answer, p.err
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

var errBoom = errors.New("boom")
