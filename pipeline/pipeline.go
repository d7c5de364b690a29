package pipeline

import (
	"log"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/browser"
	"github.com/aquasecurity/msrc-update-guide/detail"
	"github.com/aquasecurity/msrc-update-guide/export"
	"github.com/aquasecurity/msrc-update-guide/listing"
	"github.com/aquasecurity/msrc-update-guide/msrc"
	"github.com/aquasecurity/msrc-update-guide/navigator"
)

const loadTimeout = 60 * time.Second

// TitleResolver looks up the title of one record. Failures are returned as
// unresolved values, never as errors.
type TitleResolver interface {
	Resolve(detail string) msrc.Resolution
}

type options struct {
	listingURL  string
	loadTimeout time.Duration
	navigator   navigator.Navigator
	extractor   listing.Extractor
	builder     export.Builder
	jsonWriter  *export.JSONWriter
	screenshot  string
	resolver    TitleResolver
	input       string
	inputFs     afero.Fs
}

type option func(*options)

func WithListingURL(u string) option {
	return func(opts *options) { opts.listingURL = u }
}

func WithNavigator(n navigator.Navigator) option {
	return func(opts *options) { opts.navigator = n }
}

func WithExtractor(e listing.Extractor) option {
	return func(opts *options) { opts.extractor = e }
}

func WithBuilder(b export.Builder) option {
	return func(opts *options) { opts.builder = b }
}

// WithJSON additionally writes the records as JSON next to the workbook.
func WithJSON(w export.JSONWriter) option {
	return func(opts *options) { opts.jsonWriter = &w }
}

func WithScreenshot(path string) option {
	return func(opts *options) { opts.screenshot = path }
}

// WithResolver replaces the detail-page lookup. No detail page is opened
// when a resolver is set.
func WithResolver(r TitleResolver) option {
	return func(opts *options) { opts.resolver = r }
}

// WithInput reads the records from a workbook downloaded from the Security
// Update Guide. The filters and the grid are skipped.
func WithInput(path string, fs afero.Fs) option {
	return func(opts *options) {
		opts.input = path
		opts.inputFs = fs
	}
}

type Pipeline struct {
	*options
}

func New(opts ...option) *Pipeline {
	o := &options{
		listingURL:  msrc.ListingURL,
		loadTimeout: loadTimeout,
		navigator:   navigator.NewNavigator(),
		extractor:   listing.NewExtractor(),
		builder:     export.NewBuilder(),
		screenshot:  DefaultScreenshot,
		inputFs:     afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Pipeline{options: o}
}

// Run launches a browser session, extracts the filtered listing, resolves
// titles and exports the workbook. On failure a screenshot of the listing
// page is saved before the error is returned. The session is always closed.
// With WithInput the records come from the downloaded workbook instead.
func (p *Pipeline) Run(launch browser.Launcher) error {
	if p.input != "" {
		return p.runInput(launch)
	}

	sess, err := openSession(launch)
	if err != nil {
		return err
	}
	defer closeSession(sess)

	page, err := sess.NewPage()
	if err != nil {
		return xerrors.Errorf("failed to open the listing page: %w", err)
	}

	if err = p.run(sess, page); err != nil {
		p.captureDiagnostics(page)
		return err
	}
	return nil
}

func (p *Pipeline) run(sess browser.Session, page browser.Page) error {
	log.Printf("Navigating to %s...", p.listingURL)
	if err := page.Goto(p.listingURL, browser.WaitUntilNetworkIdle, p.loadTimeout); err != nil {
		return xerrors.Errorf("failed to load the listing: %w",
			&msrc.Error{Kind: browser.KindOf(err), Op: "load listing", Err: err})
	}

	phase, err := p.navigator.Apply(page)
	if err != nil {
		return xerrors.Errorf("failed to apply filters (last completed phase %s): %w", phase, err)
	}

	records, err := p.extractor.Extract(page)
	if err != nil {
		return xerrors.Errorf("failed to extract the listing: %w", err)
	}

	if err = p.resolveTitles(sess, records); err != nil {
		return err
	}
	return p.export(records)
}

// runInput takes the records from a downloaded workbook instead of the
// live listing. The browser is only started for detail-page titles.
func (p *Pipeline) runInput(launch browser.Launcher) error {
	records, err := p.extractor.ReadFile(p.inputFs, p.input)
	if err != nil {
		return xerrors.Errorf("failed to read the listing: %w", err)
	}

	if p.resolver != nil {
		Resolve(p.resolver, records)
		return p.export(records)
	}

	sess, err := openSession(launch)
	if err != nil {
		return err
	}
	defer closeSession(sess)

	if err = p.resolveTitles(sess, records); err != nil {
		return err
	}
	return p.export(records)
}

// export writes the JSON sidecar before the workbook and removes it again
// when the workbook cannot be written.
func (p *Pipeline) export(records []msrc.Record) error {
	if p.jsonWriter != nil {
		if err := p.jsonWriter.Write(records); err != nil {
			return xerrors.Errorf("failed to export: %w", err)
		}
	}

	if err := p.builder.Export(records); err != nil {
		if p.jsonWriter != nil {
			if rerr := p.jsonWriter.Remove(); rerr != nil {
				log.Printf("failed to roll back the JSON export: %v", rerr)
			}
		}
		return xerrors.Errorf("failed to export: %w", err)
	}
	return nil
}

func openSession(launch browser.Launcher) (browser.Session, error) {
	log.Print("Launching browser...")
	sess, err := launch()
	if err != nil {
		return nil, xerrors.Errorf("failed to launch the browser: %w", err)
	}
	return sess, nil
}

func closeSession(sess browser.Session) {
	if err := sess.Close(); err != nil {
		log.Printf("failed to close the browser: %v", err)
	}
}

func (p *Pipeline) resolveTitles(sess browser.Session, records []msrc.Record) error {
	resolver := p.resolver
	if resolver == nil {
		detailPage, err := sess.NewPage()
		if err != nil {
			return xerrors.Errorf("failed to open the detail page: %w", err)
		}
		defer func() {
			if err := detailPage.Close(); err != nil {
				log.Printf("failed to close the detail page: %v", err)
			}
		}()
		resolver = detail.NewResolver(detailPage)
	}

	Resolve(resolver, records)
	return nil
}

// Resolve sets the title of every record in place, one lookup at a time.
// Records without a CVE-ID get the "Unknown" title without a lookup.
func Resolve(r TitleResolver, records []msrc.Record) {
	cves := lo.CountBy(records, func(rec msrc.Record) bool {
		return rec.IsCVE()
	})
	log.Printf("Fetching titles for %d of %d records", cves, len(records))

	unresolved := 0
	bar := pb.StartNew(len(records))
	for i := range records {
		if records[i].IsCVE() {
			res := r.Resolve(records[i].Detail)
			if !res.OK() {
				unresolved++
			}
			records[i].Title = res.Title
		} else {
			records[i].Title = msrc.UnknownTitle
		}
		bar.Increment()
	}
	bar.Finish()

	if unresolved > 0 {
		log.Printf("%d titles could not be resolved", unresolved)
	}
}

func (p *Pipeline) captureDiagnostics(page browser.Page) {
	if err := page.Screenshot(p.screenshot); err != nil {
		log.Printf("failed to save a screenshot: %v", err)
		return
	}
	log.Printf("Screenshot saved as %s", p.screenshot)
}
