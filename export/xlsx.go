package export

import (
	"io"
	"log"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/msrc"
	"github.com/aquasecurity/msrc-update-guide/utils"
)

const (
	DefaultFileName = "msrc_windows_server_2016.xlsx"
	SheetName       = "MSRC"

	defaultSheet = "Sheet1"
	linkColor    = "0563C1"
)

type Column struct {
	Header string
	Key    string
	Width  float64
}

var Columns = []Column{
	{Header: "Details", Key: "details", Width: 40},
	{Header: "Date", Key: "date", Width: 20},
	{Header: "Title", Key: "title", Width: 60},
}

// Cell is a plain text value, or a hyperlink when Hyperlink is set.
type Cell struct {
	Text      string
	Hyperlink string
}

// Row maps a column key to its cell.
type Row map[string]Cell

// Rows maps records 1:1, in order, onto workbook rows. The Details cell
// links to the detail page only for CVE-IDs.
func Rows(records []msrc.Record) []Row {
	return lo.Map(records, func(r msrc.Record, _ int) Row {
		details := Cell{Text: r.Detail}
		if r.IsCVE() {
			details.Hyperlink = msrc.DetailURL(r.Detail)
		}
		return Row{
			"details": details,
			"date":    {Text: r.Date},
			"title":   {Text: r.Title},
		}
	})
}

type options struct {
	path  string
	appFs afero.Fs
}

type option func(*options)

func WithPath(path string) option {
	return func(opts *options) { opts.path = path }
}

func WithAppFs(fs afero.Fs) option {
	return func(opts *options) { opts.appFs = fs }
}

type Builder struct {
	*options
}

func NewBuilder(opts ...option) Builder {
	o := &options{
		path:  DefaultFileName,
		appFs: afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return Builder{options: o}
}

func (b Builder) Path() string {
	return b.path
}

// Export builds the workbook and writes it in one step. Nothing is left at
// the output path when building or writing fails.
func (b Builder) Export(records []msrc.Record) error {
	f, err := Build(Rows(records))
	if err != nil {
		return &msrc.Error{Kind: msrc.KindExport, Op: "build workbook", Err: err}
	}
	defer f.Close()

	fs := utils.NewFs(b.appFs)
	if err = fs.WriteAtomic(b.path, func(w io.Writer) error {
		_, err := f.WriteTo(w)
		return err
	}); err != nil {
		return &msrc.Error{Kind: msrc.KindExport, Op: "write workbook", Err: err}
	}
	log.Printf("Excel saved: %s", b.path)
	return nil
}

// Build renders rows into a single-sheet workbook with a header row.
func Build(rows []Row) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(defaultSheet, SheetName); err != nil {
		f.Close()
		return nil, xerrors.Errorf("failed to name the sheet: %w", err)
	}
	if err := writeSheet(f, rows); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeSheet(f *excelize.File, rows []Row) error {
	linkStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: linkColor, Underline: "single"},
	})
	if err != nil {
		return xerrors.Errorf("failed to create the hyperlink style: %w", err)
	}

	for i, col := range Columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return xerrors.Errorf("invalid column %d: %w", i+1, err)
		}
		if err = f.SetColWidth(SheetName, name, name, col.Width); err != nil {
			return xerrors.Errorf("failed to set the width of %s: %w", col.Header, err)
		}
		if err = f.SetCellStr(SheetName, name+"1", col.Header); err != nil {
			return xerrors.Errorf("failed to write the %s header: %w", col.Header, err)
		}
	}

	for r, row := range rows {
		for c, col := range Columns {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return xerrors.Errorf("invalid cell: %w", err)
			}
			v := row[col.Key]
			if err = f.SetCellStr(SheetName, cell, v.Text); err != nil {
				return xerrors.Errorf("failed to write %s: %w", cell, err)
			}
			if v.Hyperlink == "" {
				continue
			}
			if err = f.SetCellHyperLink(SheetName, cell, v.Hyperlink, "External"); err != nil {
				return xerrors.Errorf("failed to link %s: %w", cell, err)
			}
			if err = f.SetCellStyle(SheetName, cell, cell, linkStyle); err != nil {
				return xerrors.Errorf("failed to style %s: %w", cell, err)
			}
		}
	}
	return nil
}
