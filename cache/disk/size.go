package disk

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

type blockFile struct {
	path    string
	size    int64
	modTime time.Time
}

// listBlocks returns the committed block files under root. Temporary files
// of in-flight writes are ignored.
func listBlocks(root string) ([]blockFile, error) {
	var files []blockFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".block-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, blockFile{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return files, err
}

func dirSize(root string) (int64, error) {
	files, err := listBlocks(root)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total, nil
}

func pruneDir(root string, targetBytes int64) (freed, remaining int64, err error) {
	targetBytes = max(targetBytes, 0)
	files, err := listBlocks(root)
	if err != nil {
		return 0, 0, err
	}
	for _, f := range files {
		remaining += f.size
	}
	if remaining <= targetBytes {
		return 0, remaining, nil
	}

	slices.SortFunc(files, func(a, b blockFile) int {
		if c := a.modTime.Compare(b.modTime); c != 0 {
			return c
		}
		return strings.Compare(a.path, b.path)
	})
	for _, f := range files {
		if remaining <= targetBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return freed, remaining, err
		}
		remaining -= f.size
		freed += f.size
	}
	return freed, remaining, nil
}
