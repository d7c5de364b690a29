package utils

import (
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

type Fs struct {
	AppFs afero.Fs
}

func NewFs(appFs afero.Fs) Fs {
	return Fs{AppFs: appFs}
}

// WriteJSON marshals data and writes it to filePath through WriteAtomic.
func (fs Fs) WriteJSON(filePath string, data interface{}) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}

	return fs.WriteAtomic(filePath, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
}

// WriteAtomic streams write into a temporary file next to filePath and
// renames it into place. filePath is untouched when write fails.
func (fs Fs) WriteAtomic(filePath string, write func(w io.Writer) error) error {
	dir := filepath.Dir(filePath)
	if err := fs.AppFs.MkdirAll(dir, 0755); err != nil {
		return xerrors.Errorf("mkdir error: %w", err)
	}

	f, err := afero.TempFile(fs.AppFs, dir, "."+filepath.Base(filePath)+"-*")
	if err != nil {
		return xerrors.Errorf("unable to create a temp file: %w", err)
	}
	tmpPath := f.Name()

	if err = write(f); err != nil {
		_ = f.Close()
		_ = fs.AppFs.Remove(tmpPath)
		return xerrors.Errorf("failed to write %s: %w", filePath, err)
	}
	if err = f.Close(); err != nil {
		_ = fs.AppFs.Remove(tmpPath)
		return xerrors.Errorf("failed to close a temp file: %w", err)
	}
	if err = fs.AppFs.Rename(tmpPath, filePath); err != nil {
		_ = fs.AppFs.Remove(tmpPath)
		return xerrors.Errorf("failed to rename %s: %w", tmpPath, err)
	}
	return nil
}
