package listing

import (
	"io"
	"log"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/msrc"
	"github.com/aquasecurity/msrc-update-guide/utils"
)

// ReadFile reads the records of a workbook downloaded from the Security
// Update Guide ("Download" on the filtered listing).
func (e Extractor) ReadFile(fs afero.Fs, path string) ([]msrc.Record, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, &msrc.Error{Kind: msrc.KindExtraction, Op: "open workbook", Err: err}
	}
	defer f.Close()

	records, err := e.ReadWorkbook(f)
	if err != nil {
		return nil, err
	}
	log.Printf("Read %d rows from %s", len(records), path)
	return records, nil
}

// ReadWorkbook reads the first sheet of an exported listing. The first row
// is the header; the remaining rows use the grid's column order. Rows with
// neither a date nor details are skipped.
func (e Extractor) ReadWorkbook(r io.Reader) ([]msrc.Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &msrc.Error{Kind: msrc.KindExtraction, Op: "open workbook", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &msrc.Error{Kind: msrc.KindExtraction, Op: "read workbook", Err: xerrors.New("no sheets")}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &msrc.Error{Kind: msrc.KindExtraction, Op: "read workbook",
			Err: xerrors.Errorf("failed to read sheet %q: %w", sheets[0], err)}
	}

	records := []msrc.Record{}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		rec := msrc.Record{
			Detail: rowCell(row, e.detailsColumn),
			Date:   rowCell(row, e.dateColumn),
		}
		if rec.Detail == "" && rec.Date == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetRows drops trailing empty cells, so short rows are padded here.
func rowCell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return utils.CollapseSpace(row[i])
}
