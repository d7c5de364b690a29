package pipeline_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/browser/fakebrowser"
	"github.com/aquasecurity/msrc-update-guide/export"
	"github.com/aquasecurity/msrc-update-guide/msrc"
	"github.com/aquasecurity/msrc-update-guide/pipeline"
)

const (
	listingURL    = "https://msrc.example.com/update-guide"
	rowSelector   = `div[role="rowgroup"] div[role="row"]`
	menuSelector  = "span.ms-ContextualMenu-itemText"
	titleSelector = "h1.ms-fontWeight-semibold"
	outputPath    = "/out/msrc.xlsx"
	sidecarPath   = "/out/msrc.json"
	exampleTitle  = "Example Remote Code Execution Vulnerability"
)

// gridHTML renders one grid row per (date, details) pair with details in
// the ninth cell.
func gridHTML(rows ...[2]string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div role="grid"><div role="rowgroup">`)
	for _, r := range rows {
		b.WriteString(`<div role="row">`)
		fmt.Fprintf(&b, `<div role="gridcell">%s</div>`, r[0])
		for i := 1; i < 8; i++ {
			b.WriteString(`<div role="gridcell"></div>`)
		}
		fmt.Fprintf(&b, `<div role="gridcell">%s</div>`, r[1])
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div></div></body></html>`)
	return b.String()
}

// listingPage renders the filterable listing; each trigger click reveals
// the given menu items.
func listingPage(categoryItems, valueItems []string, rows ...[2]string) *fakebrowser.Page {
	page := fakebrowser.NewPage()
	rendered := make([]string, len(rows))
	for i, r := range rows {
		rendered[i] = r[1]
	}
	page.Documents[listingURL] = fakebrowser.Document{
		Elements: map[string][]string{
			"button":    {"Accept"},
			"span":      {"Product Family", "Product"},
			rowSelector: rendered,
		},
		HTML: gridHTML(rows...),
	}
	page.OnClick = func(p *fakebrowser.Page, selector, text string) {
		if selector != "span" {
			return
		}
		switch text {
		case "Product Family":
			p.Add(menuSelector, categoryItems...)
		case "Product":
			p.Add(menuSelector, valueItems...)
		}
	}
	return page
}

func detailPage(titles map[string]string) *fakebrowser.Page {
	page := fakebrowser.NewPage()
	for id, title := range titles {
		page.Documents[msrc.DetailURL(id)] = fakebrowser.Document{
			Elements: map[string][]string{titleSelector: {title}},
		}
	}
	return page
}

func readWorkbook(t *testing.T, fs afero.Fs, path string) *excelize.File {
	t.Helper()
	r, err := fs.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	f, err := excelize.OpenReader(r)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func newPipeline(fs afero.Fs) *pipeline.Pipeline {
	return pipeline.New(
		pipeline.WithListingURL(listingURL),
		pipeline.WithBuilder(export.NewBuilder(export.WithPath(outputPath), export.WithAppFs(fs))),
	)
}

func newJSONPipeline(fs afero.Fs) *pipeline.Pipeline {
	return pipeline.New(
		pipeline.WithListingURL(listingURL),
		pipeline.WithBuilder(export.NewBuilder(export.WithPath(outputPath), export.WithAppFs(fs))),
		pipeline.WithJSON(export.NewJSONWriter(sidecarPath, fs)),
	)
}

// rejectFs refuses to create files whose base name contains pattern.
type rejectFs struct {
	afero.Fs
	pattern string
}

func (r rejectFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 && strings.Contains(filepath.Base(name), r.pattern) {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return r.Fs.OpenFile(name, flag, perm)
}

func TestPipeline_Run(t *testing.T) {
	fs := afero.NewMemMapFs()
	primary := listingPage([]string{"Windows"}, []string{"Windows Server 2016"},
		[2]string{"1/10/2023", "CVE-2023-12345"},
		[2]string{"Jan 10, 2023", "N/A"},
	)
	secondary := detailPage(map[string]string{"CVE-2023-12345": exampleTitle})
	sess := &fakebrowser.Session{Pages: []*fakebrowser.Page{primary, secondary}}

	err := newPipeline(fs).Run(sess.Launcher(nil))
	require.NoError(t, err)

	f := readWorkbook(t, fs, outputPath)
	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Details", "Date", "Title"},
		{"CVE-2023-12345", "1/10/2023", exampleTitle},
		{"N/A", "Jan 10, 2023", msrc.UnknownTitle},
	}, rows)

	ok, target, err := f.GetCellHyperLink(export.SheetName, "A2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://msrc.microsoft.com/update-guide/vulnerability/CVE-2023-12345", target)

	ok, _, err = f.GetCellHyperLink(export.SheetName, "A3")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{
		"button=Accept",
		"span=Product Family",
		menuSelector + "=Windows",
		"span=Product",
		menuSelector + "=Windows Server 2016",
	}, primary.Clicks)
	assert.Equal(t, []string{msrc.DetailURL("CVE-2023-12345")}, secondary.Visited)
	assert.Empty(t, primary.Screenshots)
	assert.True(t, secondary.Closed)
	assert.True(t, sess.Closed)
}

func TestPipeline_RunPreservesOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	rows := [][2]string{
		{"Jan 10, 2023", "CVE-2023-21549"},
		{"Dec 13, 2022", "ADV220005"},
		{"Jan 10, 2023", "CVE-2023-21524"},
		{"Nov 8, 2022", ""},
	}
	primary := listingPage([]string{"Windows"}, []string{"Windows Server 2016"}, rows...)
	secondary := detailPage(map[string]string{
		"CVE-2023-21549": "Windows SMB Witness Service Elevation of Privilege Vulnerability",
		"CVE-2023-21524": "Windows Local Security Authority (LSA) Elevation of Privilege Vulnerability",
	})
	sess := &fakebrowser.Session{Pages: []*fakebrowser.Page{primary, secondary}}

	require.NoError(t, newPipeline(fs).Run(sess.Launcher(nil)))

	got, err := readWorkbook(t, fs, outputPath).GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, got, len(rows)+1)
	for i, r := range rows {
		assert.Equal(t, r[1], got[i+1][0], "row %d", i+1)
		assert.Equal(t, r[0], got[i+1][1], "row %d", i+1)
	}
	assert.Equal(t, []string{
		msrc.DetailURL("CVE-2023-21549"),
		msrc.DetailURL("CVE-2023-21524"),
	}, secondary.Visited)
}

func TestPipeline_RunResolverTimeout(t *testing.T) {
	fs := afero.NewMemMapFs()
	primary := listingPage([]string{"Windows"}, []string{"Windows Server 2016"},
		[2]string{"1/10/2023", "CVE-2023-12345"},
	)
	// the heading never renders
	secondary := fakebrowser.NewPage()
	sess := &fakebrowser.Session{Pages: []*fakebrowser.Page{primary, secondary}}

	require.NoError(t, newPipeline(fs).Run(sess.Launcher(nil)))

	rows, err := readWorkbook(t, fs, outputPath).GetRows(export.SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Details", "Date", "Title"},
		{"CVE-2023-12345", "1/10/2023", msrc.UnknownTitle},
	}, rows)
	assert.Empty(t, primary.Screenshots)
	assert.True(t, sess.Closed)
}

func TestPipeline_RunFailure(t *testing.T) {
	rows := [][2]string{{"1/10/2023", "CVE-2023-12345"}}

	tests := []struct {
		name           string
		primary        func() *fakebrowser.Page
		fs             func() afero.Fs
		json           bool
		wantKind       msrc.Kind
		wantOp         string
		wantScreenshot bool
		wantPages      int
	}{
		{
			name: "value item never appears",
			primary: func() *fakebrowser.Page {
				return listingPage([]string{"Windows"}, []string{"Windows Server 2019"}, rows...)
			},
			wantKind:       msrc.KindTimeout,
			wantOp:         "ValueOpen",
			wantScreenshot: true,
			wantPages:      1,
		},
		{
			name: "category item never appears",
			primary: func() *fakebrowser.Page {
				return listingPage(nil, []string{"Windows Server 2016"}, rows...)
			},
			wantKind:       msrc.KindTimeout,
			wantOp:         "CategoryOpen",
			wantScreenshot: true,
			wantPages:      1,
		},
		{
			name: "listing does not load",
			primary: func() *fakebrowser.Page {
				page := fakebrowser.NewPage()
				page.Documents[listingURL] = fakebrowser.Document{Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}
				return page
			},
			wantKind:       msrc.KindNavigation,
			wantOp:         "load listing",
			wantScreenshot: true,
			wantPages:      1,
		},
		{
			name: "no rows",
			primary: func() *fakebrowser.Page {
				return listingPage([]string{"Windows"}, []string{"Windows Server 2016"})
			},
			wantKind:       msrc.KindTimeout,
			wantOp:         "wait for rows",
			wantScreenshot: true,
			wantPages:      1,
		},
		{
			name: "read-only output",
			primary: func() *fakebrowser.Page {
				return listingPage([]string{"Windows"}, []string{"Windows Server 2016"}, rows...)
			},
			fs: func() afero.Fs {
				return afero.NewReadOnlyFs(afero.NewMemMapFs())
			},
			wantKind:       msrc.KindExport,
			wantOp:         "write workbook",
			wantScreenshot: true,
			wantPages:      2,
		},
		{
			name: "sidecar cannot be written",
			primary: func() *fakebrowser.Page {
				return listingPage([]string{"Windows"}, []string{"Windows Server 2016"}, rows...)
			},
			fs: func() afero.Fs {
				return rejectFs{Fs: afero.NewMemMapFs(), pattern: ".json"}
			},
			json:           true,
			wantKind:       msrc.KindExport,
			wantOp:         "write JSON",
			wantScreenshot: true,
			wantPages:      2,
		},
		{
			name: "workbook cannot be written after the sidecar",
			primary: func() *fakebrowser.Page {
				return listingPage([]string{"Windows"}, []string{"Windows Server 2016"}, rows...)
			},
			fs: func() afero.Fs {
				return rejectFs{Fs: afero.NewMemMapFs(), pattern: ".xlsx"}
			},
			json:           true,
			wantKind:       msrc.KindExport,
			wantOp:         "write workbook",
			wantScreenshot: true,
			wantPages:      2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if tt.fs != nil {
				fs = tt.fs()
			}
			primary := tt.primary()
			secondary := detailPage(map[string]string{"CVE-2023-12345": exampleTitle})
			sess := &fakebrowser.Session{Pages: []*fakebrowser.Page{primary, secondary}}

			p := newPipeline(fs)
			if tt.json {
				p = newJSONPipeline(fs)
			}
			err := p.Run(sess.Launcher(nil))
			require.Error(t, err)

			var e *msrc.Error
			require.True(t, errors.As(err, &e), err.Error())
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.wantOp, e.Op)

			for _, path := range []string{outputPath, sidecarPath} {
				_, statErr := fs.Stat(path)
				assert.True(t, os.IsNotExist(statErr), path)
			}

			if tt.wantScreenshot {
				assert.Equal(t, []string{pipeline.DefaultScreenshot}, primary.Screenshots)
			}
			assert.Equal(t, tt.wantPages, sess.Opened)
			assert.True(t, sess.Closed)
		})
	}
}

func TestPipeline_RunScreenshotFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	primary := listingPage([]string{"Windows"}, nil, [2]string{"1/10/2023", "CVE-2023-12345"})
	primary.ScreenshotErr = errors.New("page crashed")
	sess := &fakebrowser.Session{Pages: []*fakebrowser.Page{primary}}

	p := pipeline.New(
		pipeline.WithListingURL(listingURL),
		pipeline.WithBuilder(export.NewBuilder(export.WithPath(outputPath), export.WithAppFs(fs))),
		pipeline.WithScreenshot("/tmp/custom.png"),
	)
	err := p.Run(sess.Launcher(nil))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "page crashed")
	assert.True(t, sess.Closed)
}

func TestPipeline_RunLaunchFailure(t *testing.T) {
	sess := &fakebrowser.Session{}
	err := newPipeline(afero.NewMemMapFs()).Run(sess.Launcher(xerrors.New("chromium not installed")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to launch the browser")
	assert.False(t, sess.Closed)
}

func TestPipeline_RunWithResolver(t *testing.T) {
	fs := afero.NewMemMapFs()
	primary := listingPage([]string{"Windows"}, []string{"Windows Server 2016"},
		[2]string{"Jan 10, 2023", "CVE-2023-21549"},
		[2]string{"Jan 10, 2023", "CVE-2023-99999"},
		[2]string{"Dec 13, 2022", "ADV220005"},
	)
	sess := &fakebrowser.Session{Pages: []*fakebrowser.Page{primary}}

	feed, err := afero.ReadFile(afero.NewOsFs(), "testdata/rss.xml")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/feed/rss.xml", feed, 0644))

	c := pipeline.DefaultConfig()
	c.ListingURL = listingURL
	c.Output = outputPath
	c.Titles = pipeline.TitlesRSS
	c.Feed = "/feed/rss.xml"
	c.JSON = true

	p, err := pipeline.NewFromConfig(c, fs)
	require.NoError(t, err)
	require.NoError(t, p.Run(sess.Launcher(nil)))

	assert.Equal(t, 1, sess.Opened)

	rows, err := readWorkbook(t, fs, outputPath).GetRows(export.SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Details", "Date", "Title"},
		{"CVE-2023-21549", "Jan 10, 2023", "Windows SMB Witness Service Elevation of Privilege Vulnerability"},
		{"CVE-2023-99999", "Jan 10, 2023", msrc.UnknownTitle},
		{"ADV220005", "Dec 13, 2022", msrc.UnknownTitle},
	}, rows)

	b, err := afero.ReadFile(fs, sidecarPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"published": "2023-01-10"`)
}

func TestPipeline_RunInput(t *testing.T) {
	workbook, err := afero.ReadFile(afero.NewOsFs(), "testdata/security_updates.xlsx")
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/security_updates.xlsx", workbook, 0644))

	secondary := detailPage(map[string]string{
		"CVE-2023-21549": "Windows SMB Witness Service Elevation of Privilege Vulnerability",
	})
	sess := &fakebrowser.Session{Pages: []*fakebrowser.Page{secondary}}

	p := pipeline.New(
		pipeline.WithInput("/in/security_updates.xlsx", fs),
		pipeline.WithBuilder(export.NewBuilder(export.WithPath(outputPath), export.WithAppFs(fs))),
	)
	require.NoError(t, p.Run(sess.Launcher(nil)))

	rows, err := readWorkbook(t, fs, outputPath).GetRows(export.SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Details", "Date", "Title"},
		{"CVE-2023-21549", "Jan 10, 2023", "Windows SMB Witness Service Elevation of Privilege Vulnerability"},
		{"CVE-2023-21524", "Jan 10, 2023", msrc.UnknownTitle},
		{"ADV220005", "Dec 13, 2022", msrc.UnknownTitle},
		{"", "Nov 8, 2022", msrc.UnknownTitle},
	}, rows)

	// only the detail page is opened; the listing is never visited
	assert.Equal(t, 1, sess.Opened)
	assert.Equal(t, []string{
		msrc.DetailURL("CVE-2023-21549"),
		msrc.DetailURL("CVE-2023-21524"),
	}, secondary.Visited)
	assert.True(t, secondary.Closed)
	assert.True(t, sess.Closed)
}

func TestPipeline_RunInputWithResolver(t *testing.T) {
	fs := afero.NewMemMapFs()
	for src, dst := range map[string]string{
		"testdata/security_updates.xlsx": "/in/security_updates.xlsx",
		"testdata/rss.xml":               "/feed/rss.xml",
	} {
		b, err := afero.ReadFile(afero.NewOsFs(), src)
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, dst, b, 0644))
	}

	c := pipeline.DefaultConfig()
	c.Input = "/in/security_updates.xlsx"
	c.Output = outputPath
	c.Titles = pipeline.TitlesRSS
	c.Feed = "/feed/rss.xml"

	p, err := pipeline.NewFromConfig(c, fs)
	require.NoError(t, err)

	sess := &fakebrowser.Session{}
	require.NoError(t, p.Run(sess.Launcher(xerrors.New("no browser expected"))))
	assert.Zero(t, sess.Opened)

	rows, err := readWorkbook(t, fs, outputPath).GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"CVE-2023-21524", "Jan 10, 2023",
		"Windows Local Security Authority (LSA) Elevation of Privilege Vulnerability"}, rows[2])
}

func TestPipeline_RunInputFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	sess := &fakebrowser.Session{}
	p := pipeline.New(
		pipeline.WithInput("/in/missing.xlsx", fs),
		pipeline.WithBuilder(export.NewBuilder(export.WithPath(outputPath), export.WithAppFs(fs))),
	)

	err := p.Run(sess.Launcher(nil))
	require.Error(t, err)

	var e *msrc.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, msrc.KindExtraction, e.Kind)
	assert.Zero(t, sess.Opened)
	assert.False(t, sess.Closed)

	_, statErr := fs.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
}

type stubResolver struct {
	titles map[string]string
	calls  []string
}

func (s *stubResolver) Resolve(detail string) msrc.Resolution {
	s.calls = append(s.calls, detail)
	if title, ok := s.titles[detail]; ok {
		return msrc.Resolved(title)
	}
	return msrc.Unresolved(msrc.KindTimeout, xerrors.New("timeout"))
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		records   []msrc.Record
		titles    map[string]string
		want      []msrc.Record
		wantCalls []string
	}{
		{
			name: "mixed",
			records: []msrc.Record{
				{Detail: "CVE-2023-12345", Date: "1/10/2023"},
				{Detail: "N/A", Date: "Jan 10, 2023"},
				{Detail: "CVE-2023-54321", Date: "1/10/2023"},
				{Detail: "cve-2023-12345"},
			},
			titles: map[string]string{"CVE-2023-12345": exampleTitle},
			want: []msrc.Record{
				{Detail: "CVE-2023-12345", Date: "1/10/2023", Title: exampleTitle},
				{Detail: "N/A", Date: "Jan 10, 2023", Title: msrc.UnknownTitle},
				{Detail: "CVE-2023-54321", Date: "1/10/2023", Title: msrc.UnknownTitle},
				{Detail: "cve-2023-12345", Title: msrc.UnknownTitle},
			},
			wantCalls: []string{"CVE-2023-12345", "CVE-2023-54321"},
		},
		{
			name:    "empty",
			records: []msrc.Record{},
			want:    []msrc.Record{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubResolver{titles: tt.titles}
			pipeline.Resolve(r, tt.records)
			assert.Equal(t, tt.want, tt.records)
			assert.Equal(t, tt.wantCalls, r.calls)
		})
	}
}
