// Package browser defines the small slice of a browser-automation engine the
// pipeline drives, plus a playwright-go implementation of it.
package browser

import (
	"errors"
	"time"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/msrc"
)

var (
	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = xerrors.New("browser: timeout")
	// ErrNotFound is returned when no element matches a text lookup.
	ErrNotFound = xerrors.New("browser: element not found")
)

type WaitUntil string

const (
	WaitUntilLoad        WaitUntil = "load"
	WaitUntilNetworkIdle WaitUntil = "networkidle"
)

// Page is a single browser tab. Every blocking method is bounded either by
// its timeout argument or by the engine's default timeout.
type Page interface {
	Goto(url string, waitUntil WaitUntil, timeout time.Duration) error
	WaitForSelector(selector string, timeout time.Duration) error
	// WaitForText blocks until an element matching selector has a trimmed
	// text content equal to text.
	WaitForText(selector, text string, timeout time.Duration) error
	// ClickByText clicks the first element matching selector whose trimmed
	// text content equals text and returns that text. ErrNotFound is
	// returned when nothing matches.
	ClickByText(selector, text string) (string, error)
	InnerText(selector string) (string, error)
	Content() (string, error)
	Count(selector string) (int, error)
	ClickAt(x, y float64) error
	Wait(d time.Duration)
	Screenshot(path string) error
	Close() error
}

type Session interface {
	NewPage() (Page, error)
	Close() error
}

// Launcher starts a new browser session.
type Launcher func() (Session, error)

// KindOf maps a browser error onto the pipeline's failure taxonomy.
func KindOf(err error) msrc.Kind {
	switch {
	case err == nil:
		return msrc.KindUnknown
	case errors.Is(err, ErrTimeout):
		return msrc.KindTimeout
	case errors.Is(err, ErrNotFound):
		return msrc.KindMissingElement
	default:
		return msrc.KindNavigation
	}
}
