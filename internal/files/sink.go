package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const partialSuffix = ".part"

// DirSink saves received files into Dir. A file is either absent or complete
// under its final name.
type DirSink struct {
	Fs  afero.Fs
	Dir string
}

func (s DirSink) Save(name string, data []byte) (string, error) {
	name = filepath.Base(name)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", name)
	}

	if err := s.Fs.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", s.Dir, err)
	}

	tmp, err := afero.TempFile(s.Fs, s.Dir, "."+name+"-*"+partialSuffix)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func(err error) (string, error) {
		_ = tmp.Close()
		_ = s.Fs.Remove(tmpName)
		return "", err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("writing %s: %w", name, err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("syncing %s: %w", name, err))
	}
	if err := tmp.Close(); err != nil {
		_ = s.Fs.Remove(tmpName)
		return "", fmt.Errorf("closing %s: %w", name, err)
	}

	final := filepath.Join(s.Dir, name)
	if err := s.Fs.Rename(tmpName, final); err != nil {
		_ = s.Fs.Remove(tmpName)
		return "", fmt.Errorf("renaming into %s: %w", final, err)
	}
	_ = s.Fs.Chmod(final, 0o644)

	return final, nil
}

// ExpandHome resolves a leading "~/" against the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
