package export

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/msrc-update-guide/msrc"
	"github.com/aquasecurity/msrc-update-guide/utils"
)

// Entry is the JSON form of a record. Published is the release date in
// ISO 8601 and is empty when the displayed date cannot be parsed.
type Entry struct {
	Details   string `json:"details"`
	URL       string `json:"url,omitempty"`
	Date      string `json:"date"`
	Published string `json:"published,omitempty"`
	Title     string `json:"title"`
}

func Entries(records []msrc.Record) []Entry {
	return lo.Map(records, func(r msrc.Record, _ int) Entry {
		e := Entry{
			Details: r.Detail,
			Date:    r.Date,
			Title:   r.Title,
		}
		if r.IsCVE() {
			e.URL = msrc.DetailURL(r.Detail)
		}
		if t, err := dateparse.ParseAny(strings.TrimSpace(r.Date)); err == nil {
			e.Published = t.Format("2006-01-02")
		}
		return e
	})
}

// JSONPath returns the sidecar path for a workbook path.
func JSONPath(xlsxPath string) string {
	return strings.TrimSuffix(xlsxPath, filepath.Ext(xlsxPath)) + ".json"
}

type JSONWriter struct {
	path string
	fs   utils.Fs
}

func NewJSONWriter(path string, appFs afero.Fs) JSONWriter {
	return JSONWriter{path: path, fs: utils.NewFs(appFs)}
}

func (w JSONWriter) Write(records []msrc.Record) error {
	if err := w.fs.WriteJSON(w.path, Entries(records)); err != nil {
		return &msrc.Error{Kind: msrc.KindExport, Op: "write JSON", Err: err}
	}
	log.Printf("JSON saved: %s", w.path)
	return nil
}

// Remove deletes a sidecar written earlier in the same run.
func (w JSONWriter) Remove() error {
	if err := w.fs.AppFs.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("failed to remove %s: %w", w.path, err)
	}
	return nil
}
