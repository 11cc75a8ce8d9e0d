// Package browsertest provides an in-memory domain.Driver for tests.
package browsertest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"replicli/internal/domain"
)

// Element is a fake DOM node. A non-nil FindErr fails every scoped lookup.
type Element struct {
	Content  string
	Attrs    map[string]string
	Children map[domain.Locator][]domain.Element
	FindErr  error

	reads atomic.Int32
}

func (e *Element) FindAll(ctx context.Context, loc domain.Locator) ([]domain.Element, error) {
	if e.FindErr != nil {
		return nil, e.FindErr
	}
	return e.Children[loc], nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	e.reads.Add(1)
	return e.Content, nil
}

// Reads counts Text calls.
func (e *Element) Reads() int { return int(e.reads.Load()) }

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.Attrs[name]
	return v, ok, nil
}

// Typing records one WaitAndType call.
type Typing struct {
	Loc    domain.Locator
	Text   string
	Submit bool
}

// Driver models a page as a fixed set of elements per locator. Waits
// succeed at once when something matches and fail with domain.ErrTimeout
// otherwise; nothing ever sleeps.
type Driver struct {
	// OnType runs after a successful WaitAndType, outside the lock.
	OnType func(d *Driver, t Typing)

	mu          sync.Mutex
	page        map[domain.Locator][]domain.Element
	url         string
	navigateErr error
	typeErr     error
	navigated   []string
	typed       []Typing
	clicked     []domain.Locator
	waited      []domain.Locator
	released    int
}

func NewDriver() *Driver {
	return &Driver{page: make(map[domain.Locator][]domain.Element)}
}

// Set replaces the elements matching loc. No elements removes them.
func (d *Driver) Set(loc domain.Locator, els ...domain.Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.page[loc] = els
}

// SetURL changes the current location without recording a navigation.
func (d *Driver) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

func (d *Driver) FailNavigate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigateErr = err
}

func (d *Driver) FailType(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typeErr = err
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.navigateErr != nil {
		return d.navigateErr
	}
	d.navigated = append(d.navigated, url)
	d.url = url
	return nil
}

func (d *Driver) WaitForPresence(ctx context.Context, loc domain.Locator, timeout time.Duration) (domain.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waited = append(d.waited, loc)
	if els := d.page[loc]; len(els) > 0 {
		return els[0], nil
	}
	return nil, domain.ErrTimeout
}

func (d *Driver) WaitAndClick(ctx context.Context, loc domain.Locator, timeout time.Duration) error {
	if _, err := d.WaitForPresence(ctx, loc, timeout); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicked = append(d.clicked, loc)
	return nil
}

func (d *Driver) WaitAndType(ctx context.Context, loc domain.Locator, text string, submit bool, timeout time.Duration) error {
	d.mu.Lock()
	typeErr := d.typeErr
	d.mu.Unlock()
	if typeErr != nil {
		return typeErr
	}
	if _, err := d.WaitForPresence(ctx, loc, timeout); err != nil {
		return err
	}
	t := Typing{Loc: loc, Text: text, Submit: submit}
	d.mu.Lock()
	d.typed = append(d.typed, t)
	hook := d.OnType
	d.mu.Unlock()
	if hook != nil {
		hook(d, t)
	}
	return nil
}

func (d *Driver) FindAll(ctx context.Context, loc domain.Locator) ([]domain.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page[loc], nil
}

func (d *Driver) Click(ctx context.Context, loc domain.Locator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.page[loc]) == 0 {
		return domain.ErrNotFound
	}
	d.clicked = append(d.clicked, loc)
	return nil
}

func (d *Driver) WaitForURL(ctx context.Context, substr string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if strings.Contains(d.url, substr) {
		return nil
	}
	return domain.ErrTimeout
}

func (d *Driver) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
	return nil
}

func (d *Driver) Navigated() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigated...)
}

func (d *Driver) Typings() []Typing {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Typing(nil), d.typed...)
}

// Typed returns the text of every WaitAndType call in order.
func (d *Driver) Typed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.typed))
	for _, t := range d.typed {
		out = append(out, t.Text)
	}
	return out
}

func (d *Driver) Clicked() []domain.Locator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Locator(nil), d.clicked...)
}

// WaitedFor reports whether any bounded wait targeted loc.
func (d *Driver) WaitedFor(loc domain.Locator) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range d.waited {
		if l == loc {
			return true
		}
	}
	return false
}

func (d *Driver) Released() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Sink is an in-memory domain.TranscriptSink.
type Sink struct {
	mu    sync.Mutex
	lines []string
	Err   error
}

func (s *Sink) Append(ctx context.Context, sessionID string, at time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *Sink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}
