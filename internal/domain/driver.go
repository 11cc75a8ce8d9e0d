package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a bounded wait elapses before its condition holds.
	ErrTimeout = errors.New("timed out waiting for element")
	// ErrNotFound is returned by non-waiting lookups that match nothing.
	ErrNotFound = errors.New("element not found")
)

// Driver is the browser automation capability the exchange core needs.
// Implementations own a single page; callers must not use one Driver
// from more than one goroutine at a time.
type Driver interface {
	Navigate(ctx context.Context, url string) error

	// WaitForPresence polls until at least one element matches loc and
	// returns the first one, or ErrTimeout.
	WaitForPresence(ctx context.Context, loc Locator, timeout time.Duration) (Element, error)
	WaitAndClick(ctx context.Context, loc Locator, timeout time.Duration) error
	// WaitAndType types text into the first element matching loc. When
	// submit is true an Enter keystroke follows the text.
	WaitAndType(ctx context.Context, loc Locator, text string, submit bool, timeout time.Duration) error

	// FindAll returns every element currently matching loc in document
	// order. It does not wait; an empty result is not an error.
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	// Click clicks the first element matching loc without waiting, or
	// returns ErrNotFound.
	Click(ctx context.Context, loc Locator) error

	// WaitForURL polls the current location until it contains substr.
	WaitForURL(ctx context.Context, substr string, timeout time.Duration) error

	Release() error
}

// Element is a handle to a rendered DOM node.
type Element interface {
	// FindAll returns descendants matching loc without waiting.
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
}
