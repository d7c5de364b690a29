package pipeline

import (
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/aquasecurity/msrc-update-guide/export"
	"github.com/aquasecurity/msrc-update-guide/msrc"
	"github.com/aquasecurity/msrc-update-guide/navigator"
	"github.com/aquasecurity/msrc-update-guide/rss"
)

const (
	TitlesPage = "page"
	TitlesRSS  = "rss"

	DefaultScreenshot = "error-state.png"
)

var titleSources = []string{TitlesPage, TitlesRSS}

// Config is the on-disk configuration. Zero values keep the defaults.
type Config struct {
	ListingURL string           `yaml:"listing_url"`
	Input      string           `yaml:"input"`
	Category   navigator.Filter `yaml:"category"`
	Value      navigator.Filter `yaml:"value"`
	Output     string           `yaml:"output"`
	Screenshot string           `yaml:"screenshot"`
	Headless   bool             `yaml:"headless"`
	Titles     string           `yaml:"titles"`
	Feed       string           `yaml:"feed"`
	JSON       bool             `yaml:"json"`
}

func DefaultConfig() Config {
	return Config{
		ListingURL: msrc.ListingURL,
		Category:   navigator.DefaultCategory,
		Value:      navigator.DefaultValue,
		Output:     export.DefaultFileName,
		Screenshot: DefaultScreenshot,
		Titles:     TitlesPage,
		Feed:       rss.FeedURL,
	}
}

// LoadConfig overlays the YAML file at path on the defaults. An empty path
// returns the defaults.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}

	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, xerrors.Errorf("failed to read %s: %w", path, err)
	}

	var file Config
	if err = yaml.UnmarshalStrict(b, &file); err != nil {
		return Config{}, xerrors.Errorf("failed to parse %s: %w", path, err)
	}
	c.merge(file)

	if err = c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) merge(o Config) {
	if o.ListingURL != "" {
		c.ListingURL = o.ListingURL
	}
	if o.Input != "" {
		c.Input = o.Input
	}
	if o.Category.Trigger != "" {
		c.Category.Trigger = o.Category.Trigger
	}
	if o.Category.Item != "" {
		c.Category.Item = o.Category.Item
	}
	if o.Value.Trigger != "" {
		c.Value.Trigger = o.Value.Trigger
	}
	if o.Value.Item != "" {
		c.Value.Item = o.Value.Item
	}
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.Screenshot != "" {
		c.Screenshot = o.Screenshot
	}
	if o.Titles != "" {
		c.Titles = o.Titles
	}
	if o.Feed != "" {
		c.Feed = o.Feed
	}
	c.Headless = c.Headless || o.Headless
	c.JSON = c.JSON || o.JSON
}

func (c Config) Validate() error {
	if !slices.Contains(titleSources, c.Titles) {
		return xerrors.Errorf("unknown title source %q (want one of %v)", c.Titles, titleSources)
	}
	if c.ListingURL == "" || c.Output == "" {
		return xerrors.New("listing_url and output must not be empty")
	}
	return nil
}

// NewFromConfig builds a Pipeline whose outputs are written through fs.
// With the RSS title source the feed is loaded up front.
func NewFromConfig(c Config, fs afero.Fs) (*Pipeline, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	opts := []option{
		WithListingURL(c.ListingURL),
		WithNavigator(navigator.NewNavigator(
			navigator.WithCategory(c.Category),
			navigator.WithValue(c.Value),
		)),
		WithBuilder(export.NewBuilder(export.WithPath(c.Output), export.WithAppFs(fs))),
		WithScreenshot(c.Screenshot),
	}
	if c.Input != "" {
		opts = append(opts, WithInput(c.Input, fs))
	}
	if c.JSON {
		opts = append(opts, WithJSON(export.NewJSONWriter(export.JSONPath(c.Output), fs)))
	}
	if c.Titles == TitlesRSS {
		resolver, err := rss.NewConfig(rss.WithSource(c.Feed), rss.WithAppFs(fs)).Load()
		if err != nil {
			return nil, xerrors.Errorf("failed to load the RSS feed: %w", err)
		}
		opts = append(opts, WithResolver(resolver))
	}
	return New(opts...), nil
}
