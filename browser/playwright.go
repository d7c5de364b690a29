package browser

import (
	"errors"
	"log"
	"time"

	pw "github.com/playwright-community/playwright-go"
	"golang.org/x/xerrors"
)

const (
	textMatchScript = `({ selector, text }) =>
  Array.from(document.querySelectorAll(selector)).some(el => el.textContent.trim() === text)`

	clickByTextScript = `({ selector, text }) => {
  const match = Array.from(document.querySelectorAll(selector)).find(el => el.textContent.trim() === text);
  if (!match) return null;
  match.click();
  return match.textContent.trim();
}`
)

// DefaultSlowMo delays every browser operation to give the page time to react.
const DefaultSlowMo = 100 * time.Millisecond

type LaunchOptions struct {
	Headless bool
	SlowMo   time.Duration
	// Install downloads the Chromium build playwright expects before launch.
	Install bool
}

// NewLauncher returns a Launcher backed by a playwright Chromium instance.
// Pages are created without a fixed viewport.
func NewLauncher(opts LaunchOptions) Launcher {
	return func() (Session, error) {
		if opts.Install {
			if err := pw.Install(&pw.RunOptions{Browsers: []string{"chromium"}}); err != nil {
				log.Printf("playwright install warning: %v", err)
			}
		}

		runtime, err := pw.Run()
		if err != nil {
			return nil, xerrors.Errorf("failed to start playwright: %w", err)
		}

		b, err := runtime.Chromium.Launch(pw.BrowserTypeLaunchOptions{
			Headless: pw.Bool(opts.Headless),
			SlowMo:   pw.Float(float64(opts.SlowMo.Milliseconds())),
		})
		if err != nil {
			_ = runtime.Stop()
			return nil, xerrors.Errorf("failed to launch chromium: %w", err)
		}
		return &session{runtime: runtime, browser: b}, nil
	}
}

type session struct {
	runtime *pw.Playwright
	browser pw.Browser
}

func (s *session) NewPage() (Page, error) {
	p, err := s.browser.NewPage(pw.BrowserNewPageOptions{
		NoViewport: pw.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to open a page: %w", err)
	}
	return &page{page: p}, nil
}

func (s *session) Close() error {
	var errs []error
	if err := s.browser.Close(); err != nil {
		errs = append(errs, xerrors.Errorf("failed to close browser: %w", err))
	}
	if err := s.runtime.Stop(); err != nil {
		errs = append(errs, xerrors.Errorf("failed to stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

type page struct {
	page pw.Page
}

func (p *page) Goto(url string, waitUntil WaitUntil, timeout time.Duration) error {
	state := pw.WaitUntilStateLoad
	if waitUntil == WaitUntilNetworkIdle {
		state = pw.WaitUntilStateNetworkidle
	}
	if _, err := p.page.Goto(url, pw.PageGotoOptions{
		WaitUntil: state,
		Timeout:   milliseconds(timeout),
	}); err != nil {
		return xerrors.Errorf("failed to navigate to %s: %w", url, wrap(err))
	}
	return nil
}

func (p *page) WaitForSelector(selector string, timeout time.Duration) error {
	if _, err := p.page.WaitForSelector(selector, pw.PageWaitForSelectorOptions{
		Timeout: milliseconds(timeout),
	}); err != nil {
		return xerrors.Errorf("failed to wait for %q: %w", selector, wrap(err))
	}
	return nil
}

func (p *page) WaitForText(selector, text string, timeout time.Duration) error {
	if _, err := p.page.WaitForFunction(textMatchScript, textArg(selector, text), pw.PageWaitForFunctionOptions{
		Timeout: milliseconds(timeout),
	}); err != nil {
		return xerrors.Errorf("failed to wait for %q in %q: %w", text, selector, wrap(err))
	}
	return nil
}

func (p *page) ClickByText(selector, text string) (string, error) {
	v, err := p.page.Evaluate(clickByTextScript, textArg(selector, text))
	if err != nil {
		return "", xerrors.Errorf("failed to click %q: %w", text, wrap(err))
	}
	label, ok := v.(string)
	if !ok {
		return "", xerrors.Errorf("%q in %q: %w", text, selector, ErrNotFound)
	}
	return label, nil
}

func (p *page) InnerText(selector string) (string, error) {
	s, err := p.page.InnerText(selector)
	if err != nil {
		return "", xerrors.Errorf("failed to read %q: %w", selector, wrap(err))
	}
	return s, nil
}

func (p *page) Content() (string, error) {
	s, err := p.page.Content()
	if err != nil {
		return "", xerrors.Errorf("failed to read page content: %w", wrap(err))
	}
	return s, nil
}

func (p *page) Count(selector string) (int, error) {
	n, err := p.page.Locator(selector).Count()
	if err != nil {
		return 0, xerrors.Errorf("failed to count %q: %w", selector, wrap(err))
	}
	return n, nil
}

func (p *page) ClickAt(x, y float64) error {
	if err := p.page.Mouse().Click(x, y); err != nil {
		return xerrors.Errorf("failed to click at (%.0f, %.0f): %w", x, y, wrap(err))
	}
	return nil
}

func (p *page) Wait(d time.Duration) {
	p.page.WaitForTimeout(float64(d.Milliseconds()))
}

func (p *page) Screenshot(path string) error {
	if _, err := p.page.Screenshot(pw.PageScreenshotOptions{
		Path: pw.String(path),
	}); err != nil {
		return xerrors.Errorf("failed to take a screenshot: %w", wrap(err))
	}
	return nil
}

func (p *page) Close() error {
	return p.page.Close()
}

func textArg(selector, text string) map[string]interface{} {
	return map[string]interface{}{
		"selector": selector,
		"text":     text,
	}
}

func milliseconds(d time.Duration) *float64 {
	return pw.Float(float64(d.Milliseconds()))
}

// wrap attaches ErrTimeout to playwright timeouts so callers can classify
// them without importing playwright.
func wrap(err error) error {
	if errors.Is(err, pw.ErrTimeout) {
		return xerrors.Errorf("%v: %w", err, ErrTimeout)
	}
	return err
}
