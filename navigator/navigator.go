package navigator

import (
	"log"
	"time"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/browser"
	"github.com/aquasecurity/msrc-update-guide/msrc"
)

const (
	acceptLabel      = "Accept"
	buttonSelector   = "button"
	triggerSelector  = "span"
	menuItemSelector = "span.ms-ContextualMenu-itemText"
	rowSelector      = `div[role="rowgroup"] div[role="row"]`

	consentSettle = 1 * time.Second
	filterSettle  = 1500 * time.Millisecond
	gridSettle    = 3 * time.Second
	menuTimeout   = 10 * time.Second
	pollInterval  = 500 * time.Millisecond
	maxPolls      = 6
)

// Phase is the last completed step of the filter sequence.
type Phase int

const (
	ConsentPending Phase = iota
	CategoryOpen
	CategorySelected
	ValueOpen
	ValueSelected
	Settled
)

func (p Phase) String() string {
	switch p {
	case ConsentPending:
		return "ConsentPending"
	case CategoryOpen:
		return "CategoryOpen"
	case CategorySelected:
		return "CategorySelected"
	case ValueOpen:
		return "ValueOpen"
	case ValueSelected:
		return "ValueSelected"
	case Settled:
		return "Settled"
	default:
		return "Phase(?)"
	}
}

// Filter is one dropdown: the label that opens it and the item to pick.
type Filter struct {
	Trigger string `yaml:"trigger"`
	Item    string `yaml:"item"`
}

var (
	DefaultCategory = Filter{Trigger: "Product Family", Item: "Windows"}
	DefaultValue    = Filter{Trigger: "Product", Item: "Windows Server 2016"}
)

type options struct {
	category      Filter
	value         Filter
	consentSettle time.Duration
	filterSettle  time.Duration
	gridSettle    time.Duration
	menuTimeout   time.Duration
	pollInterval  time.Duration
	maxPolls      int
	rowSelector   string
}

type option func(*options)

func WithCategory(f Filter) option {
	return func(opts *options) { opts.category = f }
}

func WithValue(f Filter) option {
	return func(opts *options) { opts.value = f }
}

func WithMenuTimeout(d time.Duration) option {
	return func(opts *options) { opts.menuTimeout = d }
}

// WithSettle overrides the consent, filter and grid settle intervals.
func WithSettle(consent, filter, grid time.Duration) option {
	return func(opts *options) {
		opts.consentSettle = consent
		opts.filterSettle = filter
		opts.gridSettle = grid
	}
}

// WithStability sets how the rendered row count is polled after the grid
// settle interval. maxPolls of zero disables polling.
func WithStability(rowSelector string, interval time.Duration, maxPolls int) option {
	return func(opts *options) {
		opts.rowSelector = rowSelector
		opts.pollInterval = interval
		opts.maxPolls = maxPolls
	}
}

type Navigator struct {
	*options
}

func NewNavigator(opts ...option) Navigator {
	o := &options{
		category:      DefaultCategory,
		value:         DefaultValue,
		consentSettle: consentSettle,
		filterSettle:  filterSettle,
		gridSettle:    gridSettle,
		menuTimeout:   menuTimeout,
		pollInterval:  pollInterval,
		maxPolls:      maxPolls,
		rowSelector:   rowSelector,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Navigator{options: o}
}

// Apply leaves page showing rows filtered by the category and then the
// value filter. It returns the last completed phase; on failure the error
// is a *msrc.Error whose Op names the phase in progress.
func (n Navigator) Apply(page browser.Page) (Phase, error) {
	phase := ConsentPending
	fail := func(err error) (Phase, error) {
		next := phase + 1
		return phase, &msrc.Error{Kind: browser.KindOf(err), Op: next.String(), Err: err}
	}

	if err := n.dismissConsent(page); err != nil {
		return phase, &msrc.Error{Kind: browser.KindOf(err), Op: ConsentPending.String(), Err: err}
	}

	if err := n.open(page, n.category); err != nil {
		return fail(err)
	}
	phase = CategoryOpen

	label, err := page.ClickByText(menuItemSelector, n.category.Item)
	if err != nil {
		return fail(err)
	}
	log.Printf("Selected %s: %s", n.category.Trigger, label)
	page.Wait(n.filterSettle)
	phase = CategorySelected

	if err = n.open(page, n.value); err != nil {
		return fail(err)
	}
	phase = ValueOpen

	label, err = page.ClickByText(menuItemSelector, n.value.Item)
	if err != nil {
		return fail(err)
	}
	log.Printf("Selected %s: %s", n.value.Trigger, label)
	phase = ValueSelected

	// close the dropdown left open by the last selection
	if err = page.ClickAt(100, 100); err != nil {
		return fail(err)
	}
	page.Wait(n.gridSettle)
	n.waitStable(page)

	return Settled, nil
}

func (n Navigator) dismissConsent(page browser.Page) error {
	if _, err := page.ClickByText(buttonSelector, acceptLabel); err != nil {
		if xerrors.Is(err, browser.ErrNotFound) {
			return nil
		}
		return xerrors.Errorf("failed to dismiss cookie consent: %w", err)
	}
	log.Print("Cookie consent dismissed")
	page.Wait(n.consentSettle)
	return nil
}

// open clicks the filter trigger and blocks until the wanted menu item is
// rendered.
func (n Navigator) open(page browser.Page, f Filter) error {
	log.Printf("Opening %q filter...", f.Trigger)
	if _, err := page.ClickByText(triggerSelector, f.Trigger); err != nil {
		if !xerrors.Is(err, browser.ErrNotFound) {
			return xerrors.Errorf("failed to open %q filter: %w", f.Trigger, err)
		}
		log.Printf("%q filter trigger not found, waiting for the menu anyway", f.Trigger)
	}
	if err := page.WaitForText(menuItemSelector, f.Item, n.menuTimeout); err != nil {
		return xerrors.Errorf("%q never appeared under %q: %w", f.Item, f.Trigger, err)
	}
	return nil
}

// waitStable polls the row count until two consecutive reads agree. It only
// narrows the re-render window; giving up is not an error.
func (n Navigator) waitStable(page browser.Page) {
	if n.maxPolls <= 0 {
		return
	}
	prev := -1
	for i := 0; i < n.maxPolls; i++ {
		count, err := page.Count(n.rowSelector)
		if err != nil {
			log.Printf("row count poll failed: %v", err)
			return
		}
		if count > 0 && count == prev {
			return
		}
		prev = count
		page.Wait(n.pollInterval)
	}
	log.Printf("row count did not settle after %d polls", n.maxPolls)
}
