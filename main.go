package main

import (
	"flag"
	"log"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/browser"
	"github.com/aquasecurity/msrc-update-guide/pipeline"
)

var (
	configPath = flag.String("config", "", "YAML file overriding the default filters and outputs")
	input      = flag.String("input", "", "workbook downloaded from the Security Update Guide, read instead of the live listing")
	titles     = flag.String("titles", "", "title source (page, rss)")
	feed       = flag.String("feed", "", "RSS feed URL or file (only rss titles)")
	headless   = flag.Bool("headless", false, "run the browser without a window")
	output     = flag.String("output", "", "xlsx output path")
	jsonOut    = flag.Bool("json", false, "also write the records as JSON next to the workbook")
	install    = flag.Bool("install", false, "install the playwright driver and Chromium before running")
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flag.Parse()
	fs := afero.NewOsFs()

	c, err := pipeline.LoadConfig(fs, *configPath)
	if err != nil {
		return xerrors.Errorf("config error: %w", err)
	}
	if *input != "" {
		c.Input = *input
	}
	if *titles != "" {
		c.Titles = *titles
	}
	if *feed != "" {
		c.Feed = *feed
	}
	if *output != "" {
		c.Output = *output
	}
	c.Headless = c.Headless || *headless
	c.JSON = c.JSON || *jsonOut

	p, err := pipeline.NewFromConfig(c, fs)
	if err != nil {
		return xerrors.Errorf("config error: %w", err)
	}

	launch := browser.NewLauncher(browser.LaunchOptions{
		Headless: c.Headless,
		SlowMo:   browser.DefaultSlowMo,
		Install:  *install,
	})
	if err = p.Run(launch); err != nil {
		return xerrors.Errorf("MSRC export error: %w", err)
	}
	return nil
}
