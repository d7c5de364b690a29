// Package fakebrowser is an in-memory browser.Page and browser.Session for
// tests. Elements are modelled as selector -> trimmed text content; no
// wait ever blocks, an unmet wait fails immediately with browser.ErrTimeout.
package fakebrowser

import (
	"fmt"
	"time"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/browser"
)

// Document is what Goto renders for a URL.
type Document struct {
	Elements map[string][]string
	HTML     string
	Err      error
}

type Page struct {
	Documents map[string]Document
	Elements  map[string][]string
	HTML      string

	// OnClick runs after a successful ClickByText, e.g. to open a menu.
	OnClick func(p *Page, selector, text string)
	// Counts is consumed one value per Count call when set; the last value
	// repeats.
	Counts []int

	ScreenshotErr error

	Visited     []string
	Clicks      []string
	MouseClicks [][2]float64
	Waits       []time.Duration
	Screenshots []string
	Closed      bool
}

var _ browser.Page = (*Page)(nil)

func NewPage() *Page {
	return &Page{
		Documents: map[string]Document{},
		Elements:  map[string][]string{},
	}
}

// Add renders elements with the given texts under selector.
func (p *Page) Add(selector string, texts ...string) {
	if p.Elements == nil {
		p.Elements = map[string][]string{}
	}
	p.Elements[selector] = append(p.Elements[selector], texts...)
}

func (p *Page) Goto(url string, _ browser.WaitUntil, _ time.Duration) error {
	p.Visited = append(p.Visited, url)
	doc, ok := p.Documents[url]
	if !ok {
		p.Elements = map[string][]string{}
		p.HTML = ""
		return nil
	}
	if doc.Err != nil {
		return xerrors.Errorf("failed to navigate to %s: %w", url, doc.Err)
	}
	p.Elements = map[string][]string{}
	for selector, texts := range doc.Elements {
		p.Add(selector, texts...)
	}
	p.HTML = doc.HTML
	return nil
}

func (p *Page) WaitForSelector(selector string, timeout time.Duration) error {
	if len(p.Elements[selector]) == 0 {
		return xerrors.Errorf("%q not visible after %s: %w", selector, timeout, browser.ErrTimeout)
	}
	return nil
}

func (p *Page) WaitForText(selector, text string, timeout time.Duration) error {
	if !p.has(selector, text) {
		return xerrors.Errorf("%q in %q not visible after %s: %w", text, selector, timeout, browser.ErrTimeout)
	}
	return nil
}

func (p *Page) ClickByText(selector, text string) (string, error) {
	if !p.has(selector, text) {
		return "", xerrors.Errorf("%q in %q: %w", text, selector, browser.ErrNotFound)
	}
	p.Clicks = append(p.Clicks, fmt.Sprintf("%s=%s", selector, text))
	if p.OnClick != nil {
		p.OnClick(p, selector, text)
	}
	return text, nil
}

func (p *Page) InnerText(selector string) (string, error) {
	texts := p.Elements[selector]
	if len(texts) == 0 {
		return "", xerrors.Errorf("%q: %w", selector, browser.ErrTimeout)
	}
	return texts[0], nil
}

func (p *Page) Content() (string, error) {
	return p.HTML, nil
}

func (p *Page) Count(selector string) (int, error) {
	if len(p.Counts) == 0 {
		return len(p.Elements[selector]), nil
	}
	n := p.Counts[0]
	if len(p.Counts) > 1 {
		p.Counts = p.Counts[1:]
	}
	return n, nil
}

func (p *Page) ClickAt(x, y float64) error {
	p.MouseClicks = append(p.MouseClicks, [2]float64{x, y})
	return nil
}

func (p *Page) Wait(d time.Duration) {
	p.Waits = append(p.Waits, d)
}

func (p *Page) Screenshot(path string) error {
	if p.ScreenshotErr != nil {
		return p.ScreenshotErr
	}
	p.Screenshots = append(p.Screenshots, path)
	return nil
}

func (p *Page) Close() error {
	p.Closed = true
	return nil
}

func (p *Page) has(selector, text string) bool {
	for _, t := range p.Elements[selector] {
		if t == text {
			return true
		}
	}
	return false
}

// Session hands out Pages in order.
type Session struct {
	Pages      []*Page
	NewPageErr error

	Opened int
	Closed bool
}

var _ browser.Session = (*Session)(nil)

func (s *Session) NewPage() (browser.Page, error) {
	if s.NewPageErr != nil {
		return nil, s.NewPageErr
	}
	if s.Opened >= len(s.Pages) {
		return nil, xerrors.Errorf("no more fake pages (%d opened)", s.Opened)
	}
	p := s.Pages[s.Opened]
	s.Opened++
	return p, nil
}

func (s *Session) Close() error {
	s.Closed = true
	return nil
}

// Launcher returns a browser.Launcher that yields s, or err when set.
func (s *Session) Launcher(err error) browser.Launcher {
	return func() (browser.Session, error) {
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
