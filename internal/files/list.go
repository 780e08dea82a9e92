package files

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

type Entry struct {
	Name string
	Size int64
	Path string
	Ext  string
}

// List returns the completed files in dir sorted by name. A missing
// directory lists as empty.
func List(fs afero.Fs, dir string) ([]Entry, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, info := range infos {
		if info.IsDir() || strings.HasSuffix(info.Name(), partialSuffix) {
			continue
		}
		entries = append(entries, Entry{
			Name: info.Name(),
			Size: info.Size(),
			Path: filepath.Join(dir, info.Name()),
			Ext:  strings.TrimPrefix(filepath.Ext(info.Name()), "."),
		})
	}
	return entries, nil
}
