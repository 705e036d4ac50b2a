package port

import (
	"context"

	"github.com/boddenberg/surface-exec/internal/domain"
)

// Key is a non-printable key the web state machine presses.
type Key string

const (
	KeyEnter     Key = "Enter"
	KeyBackspace Key = "Backspace"
)

// SessionOptions configures a freshly created browser session.
type SessionOptions struct {
	Proxy     string
	Location  *domain.Location
	UserAgent string
	SessionID string
}

// BrowserSession is one isolated browser context owned by exactly one
// in-flight query. Implementations need not be safe for concurrent use.
type BrowserSession interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)
	// Has reports whether selector currently matches an element, without waiting.
	Has(ctx context.Context, selector string) (bool, error)
	// Text returns the text of the first element matching selector, or "" when absent.
	Text(ctx context.Context, selector string) (string, error)
	Click(ctx context.Context, selector string) error
	InsertText(ctx context.Context, text string) error
	Press(ctx context.Context, key Key) error
	MoveMouse(ctx context.Context, x, y float64) error
	Scroll(ctx context.Context, dy float64) error
	Screenshot(ctx context.Context) ([]byte, error)
	// ResponseHeaders returns headers of the last main-document response.
	ResponseHeaders() map[string]string
	Close() error
}

// SessionFactory creates browser sessions. The browser engine sits behind it.
type SessionFactory interface {
	NewSession(ctx context.Context, opts SessionOptions) (BrowserSession, error)
	Close() error
}
