package files

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/spf13/afero"
)

const defaultMimeType = "application/octet-stream"

var ErrNotRegularFile = errors.New("not a regular file")

// LoadSource reads the file at path fully into memory.
func LoadSource(fs afero.Fs, path string) (transfer.Source, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return transfer.Source{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return transfer.Source{}, fmt.Errorf("%s: %w", path, ErrNotRegularFile)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return transfer.Source{}, fmt.Errorf("reading %s: %w", path, err)
	}

	return transfer.Source{
		Path:     path,
		Name:     filepath.Base(path),
		Size:     uint64(len(data)),
		MimeType: MimeType(path),
		Data:     data,
	}, nil
}

// MimeType guesses a content type from the file extension.
func MimeType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return defaultMimeType
}
