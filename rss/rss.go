package rss

import (
	"bytes"
	"encoding/xml"
	"log"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/msrc"
	"github.com/aquasecurity/msrc-update-guide/utils"
)

const (
	FeedURL = "https://api.msrc.microsoft.com/update-guide/rss"
	retry   = 3
)

var ErrNotInFeed = xerrors.New("not in the RSS feed")

type Feed struct {
	Channel Channel `xml:"channel"`
}

type Channel struct {
	Title string `xml:"title"`
	Items []Item `xml:"item"`
}

type Item struct {
	GUID    string `xml:"guid"`
	Link    string `xml:"link"`
	Title   string `xml:"title"`
	PubDate string `xml:"pubDate"`
}

type options struct {
	source string
	retry  int
	appFs  afero.Fs
}

type option func(*options)

// WithSource sets the feed location, either an http(s) URL or a file path.
func WithSource(source string) option {
	return func(opts *options) { opts.source = source }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

func WithAppFs(fs afero.Fs) option {
	return func(opts *options) { opts.appFs = fs }
}

type Config struct {
	*options
}

func NewConfig(opts ...option) Config {
	o := &options{
		source: FeedURL,
		retry:  retry,
		appFs:  afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return Config{options: o}
}

// Load reads the feed and indexes its titles by CVE-ID.
func (c Config) Load() (*Resolver, error) {
	log.Printf("Fetching MSRC RSS feed from %s", c.source)
	b, err := c.read()
	if err != nil {
		return nil, xerrors.Errorf("failed to read the RSS feed: %w", err)
	}

	var feed Feed
	if err = xml.NewDecoder(bytes.NewReader(b)).Decode(&feed); err != nil {
		return nil, xerrors.Errorf("failed to decode the RSS feed: %w", err)
	}

	titles := map[string]string{}
	for _, item := range feed.Channel.Items {
		id := strings.TrimSpace(item.GUID)
		if id == "" || item.Title == "" {
			continue
		}
		titles[id] = trimID(id, strings.TrimSpace(item.Title))
	}
	log.Printf("Loaded %d titles from the RSS feed", len(titles))
	return &Resolver{titles: titles}, nil
}

func (c Config) read() ([]byte, error) {
	if utils.IsURL(c.source) {
		return utils.FetchURL(c.source, c.retry)
	}
	return afero.ReadFile(c.appFs, c.source)
}

// trimID drops the leading identifier feed titles carry, e.g.
// "CVE-2023-21549 Windows SMB Witness Service ..." -> "Windows SMB Witness Service ...".
func trimID(id, title string) string {
	if strings.HasPrefix(title, id) {
		return strings.TrimSpace(strings.TrimPrefix(title, id))
	}
	return title
}

// Resolver answers title lookups from a loaded feed.
type Resolver struct {
	titles map[string]string
}

func (r *Resolver) Resolve(detail string) msrc.Resolution {
	if !msrc.IsCVE(detail) {
		return msrc.Unresolved(msrc.KindUnknown, xerrors.Errorf("%q is not a CVE-ID", detail))
	}
	title, ok := r.titles[detail]
	if !ok || title == "" {
		return msrc.Unresolved(msrc.KindMissingElement, xerrors.Errorf("%s: %w", detail, ErrNotInFeed))
	}
	return msrc.Resolved(title)
}

func (r *Resolver) Len() int {
	return len(r.titles)
}
