// Package browser provides the headless browser capability used to drive the
// external form: a long-lived allocator and one disposable tab per job.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a selector matches no element.
var ErrNotFound = errors.New("element not found")

// Page is a single browser tab. Selectors are resolved with DOM search, so
// XPath and CSS are both accepted. Element indexes are 0-based and follow DOM
// order.
type Page interface {
	Goto(ctx context.Context, url string) error
	// WaitReady blocks until selector is visible or timeout elapses.
	WaitReady(ctx context.Context, selector string, timeout time.Duration) error
	Count(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector string, nth int) error
	// Attribute returns the named attribute of the nth match and whether it
	// is present.
	Attribute(ctx context.Context, selector string, nth int, name string) (string, bool, error)
	// Fill replaces the value of the first match.
	Fill(ctx context.Context, selector, value string) error
	Close() error
}

// Opener opens fresh tabs.
type Opener interface {
	NewPage(ctx context.Context) (Page, error)
}
