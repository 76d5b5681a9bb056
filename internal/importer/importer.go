package importer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// ProcessedDir is the subdirectory of an import directory that holds
// statements already applied.
const ProcessedDir = "processed"

// Pending is a statement file waiting in an import directory.
type Pending struct {
	Name string
	Path string
	Size int64
}

// Scan lists the .csv files directly inside dir in name order. A missing
// directory has nothing pending.
func Scan(dir string) ([]Pending, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var out []Pending
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		out = append(out, Pending{Name: e.Name(), Path: filepath.Join(dir, e.Name()), Size: info.Size()})
	}
	slices.SortFunc(out, func(a, b Pending) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// MarkProcessed moves dir/name into dir/processed and returns the new path.
// A statement of the same name already there is kept; the newcomer gets a
// numeric suffix instead.
func MarkProcessed(dir, name string) (string, error) {
	dst := filepath.Join(dir, ProcessedDir)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", fmt.Errorf("creating processed dir: %w", err)
	}

	target := filepath.Join(dst, name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
			break
		}
		target = filepath.Join(dst, base+"-"+strconv.Itoa(n)+ext)
	}
	if err := os.Rename(filepath.Join(dir, name), target); err != nil {
		return "", fmt.Errorf("moving %s to processed: %w", name, err)
	}
	return target, nil
}
