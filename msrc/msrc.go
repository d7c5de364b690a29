package msrc

import (
	"fmt"
	"regexp"
)

const (
	// ListingURL is the Security Update Guide listing page.
	ListingURL = "https://msrc.microsoft.com/update-guide"

	// VulnerabilityBaseURL is the canonical prefix of a detail page. The
	// identifier is appended as-is.
	VulnerabilityBaseURL = "https://msrc.microsoft.com/update-guide/vulnerability/"

	// UnknownTitle marks a title whose resolution was attempted and failed,
	// or was not applicable. It is distinct from an empty title.
	UnknownTitle = "Unknown"
)

var cveIDRegex = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// Record is one row of the advisory grid.
type Record struct {
	Detail string `json:"details"`
	Date   string `json:"date"`
	Title  string `json:"title"`
}

// IsCVE reports whether s is a recognized vulnerability identifier.
func IsCVE(s string) bool {
	return cveIDRegex.MatchString(s)
}

// DetailURL returns the detail page of a CVE-ID.
func DetailURL(cveID string) string {
	return VulnerabilityBaseURL + cveID
}

// IsCVE reports whether the record's detail column holds a CVE-ID.
func (r Record) IsCVE() bool {
	return IsCVE(r.Detail)
}

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNavigation
	KindTimeout
	KindMissingElement
	KindExtraction
	KindExport
)

func (k Kind) String() string {
	switch k {
	case KindNavigation:
		return "navigation"
	case KindTimeout:
		return "timeout"
	case KindMissingElement:
		return "missing element"
	case KindExtraction:
		return "extraction"
	case KindExport:
		return "export"
	default:
		return "unknown"
	}
}

// Error is a classified failure of one pipeline operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Resolution is the outcome of a title lookup. A failed lookup is a
// normal value carrying the sentinel title and the reason.
type Resolution struct {
	Title string
	Kind  Kind
	Err   error
}

func Resolved(title string) Resolution {
	return Resolution{Title: title}
}

func Unresolved(kind Kind, err error) Resolution {
	return Resolution{Title: UnknownTitle, Kind: kind, Err: err}
}

func (r Resolution) OK() bool {
	return r.Err == nil
}
