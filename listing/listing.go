package listing

import (
	"log"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/browser"
	"github.com/aquasecurity/msrc-update-guide/msrc"
	"github.com/aquasecurity/msrc-update-guide/utils"
)

const (
	rowSelector  = `div[role="rowgroup"] div[role="row"]`
	cellSelector = `div[role="gridcell"]`
	rowTimeout   = 20 * time.Second

	// Column positions in the Security Update Guide grid. A reordered grid
	// is read silently wrong; there is no header check.
	dateColumn    = 0
	detailsColumn = 8
)

type options struct {
	rowSelector   string
	rowTimeout    time.Duration
	detailsColumn int
	dateColumn    int
}

type option func(*options)

func WithRowTimeout(d time.Duration) option {
	return func(opts *options) { opts.rowTimeout = d }
}

func WithColumns(details, date int) option {
	return func(opts *options) {
		opts.detailsColumn = details
		opts.dateColumn = date
	}
}

type Extractor struct {
	*options
}

func NewExtractor(opts ...option) Extractor {
	o := &options{
		rowSelector:   rowSelector,
		rowTimeout:    rowTimeout,
		detailsColumn: detailsColumn,
		dateColumn:    dateColumn,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Extractor{options: o}
}

// Extract waits for the grid to render at least one row, then reads every
// rendered row from a single snapshot of the page.
func (e Extractor) Extract(page browser.Page) ([]msrc.Record, error) {
	log.Print("Waiting for result rows...")
	if err := page.WaitForSelector(e.rowSelector, e.rowTimeout); err != nil {
		return nil, &msrc.Error{Kind: browser.KindOf(err), Op: "wait for rows", Err: err}
	}

	html, err := page.Content()
	if err != nil {
		return nil, &msrc.Error{Kind: msrc.KindExtraction, Op: "read grid", Err: err}
	}

	records, err := e.Parse(html)
	if err != nil {
		return nil, &msrc.Error{Kind: msrc.KindExtraction, Op: "parse grid", Err: err}
	}
	log.Printf("Extracted %d rows", len(records))
	return records, nil
}

// Parse reads the rows of a rendered grid in document order. Missing cells
// yield empty fields.
func (e Extractor) Parse(html string) ([]msrc.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, xerrors.Errorf("failed to parse the page: %w", err)
	}

	records := []msrc.Record{}
	doc.Find(e.rowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find(cellSelector)
		records = append(records, msrc.Record{
			Detail: cellText(cells, e.detailsColumn),
			Date:   cellText(cells, e.dateColumn),
		})
	})
	return records, nil
}

func cellText(cells *goquery.Selection, i int) string {
	if i < 0 || i >= cells.Length() {
		return ""
	}
	return utils.CollapseSpace(cells.Eq(i).Text())
}
