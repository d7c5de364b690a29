package detail

import (
	"log"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/browser"
	"github.com/aquasecurity/msrc-update-guide/msrc"
)

const (
	titleSelector = "h1.ms-fontWeight-semibold"
	gotoTimeout   = 20 * time.Second
	titleTimeout  = 10 * time.Second
)

var errStillLoading = xerrors.New("title is still loading")

type options struct {
	baseURL      string
	gotoTimeout  time.Duration
	titleTimeout time.Duration
}

type option func(*options)

func WithBaseURL(u string) option {
	return func(opts *options) { opts.baseURL = u }
}

func WithTimeouts(gotoTimeout, titleTimeout time.Duration) option {
	return func(opts *options) {
		opts.gotoTimeout = gotoTimeout
		opts.titleTimeout = titleTimeout
	}
}

// Resolver looks up advisory titles on their detail pages. One page is
// reused across calls, so Resolve must not be called concurrently.
type Resolver struct {
	page browser.Page
	*options
}

func NewResolver(page browser.Page, opts ...option) *Resolver {
	o := &options{
		baseURL:      msrc.VulnerabilityBaseURL,
		gotoTimeout:  gotoTimeout,
		titleTimeout: titleTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Resolver{page: page, options: o}
}

// Resolve never fails: every problem is logged and returned as an
// unresolved Resolution carrying the "Unknown" title.
func (r *Resolver) Resolve(detail string) msrc.Resolution {
	if !msrc.IsCVE(detail) {
		return msrc.Unresolved(msrc.KindUnknown, xerrors.Errorf("%q is not a CVE-ID", detail))
	}

	url := r.baseURL + detail
	title, err := r.fetchTitle(url)
	if err != nil {
		log.Printf("WARN: could not fetch title for %s: %v", url, err)
		kind := browser.KindOf(err)
		if xerrors.Is(err, errStillLoading) {
			kind = msrc.KindMissingElement
		}
		return msrc.Unresolved(kind, err)
	}
	return msrc.Resolved(title)
}

func (r *Resolver) fetchTitle(url string) (string, error) {
	if err := r.page.Goto(url, browser.WaitUntilNetworkIdle, r.gotoTimeout); err != nil {
		return "", err
	}
	if err := r.page.WaitForSelector(titleSelector, r.titleTimeout); err != nil {
		return "", err
	}
	text, err := r.page.InnerText(titleSelector)
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(text)
	if title == "" || strings.HasPrefix(strings.ToLower(title), "loading") {
		return "", xerrors.Errorf("%q: %w", title, errStillLoading)
	}
	return title, nil
}
