package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore writes report files below a directory. An existing file of
// the same name is kept with a .bak suffix.
type LocalStore struct {
	Dir string
}

// Put writes the file and returns a fresh id for it.
func (s LocalStore) Put(_ context.Context, path, name string, body []byte, _ string) (string, error) {
	dir := filepath.Join(s.Dir, filepath.FromSlash(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); err == nil {
		if err := os.Rename(dest, dest+".bak"); err != nil {
			return "", fmt.Errorf("backup %s: %w", dest, err)
		}
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	return uuid.NewString(), nil
}
