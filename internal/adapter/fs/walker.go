package fs

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Walker discovers corpus bundle files under a root directory, filtered
// by doublestar glob patterns relative to the root.
type Walker struct {
	includes []string
	excludes []string
}

// NewWalker defaults to every .jsonl file under the root when no include
// pattern is given.
func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*.jsonl"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// BundleFile is one discovered corpus bundle on disk.
type BundleFile struct {
	Path    string
	ModTime int64
	Size    int64
}

// Walk returns matching files in lexical path order so repeated ingest
// runs process bundles deterministically.
func (w *Walker) Walk(root string) ([]BundleFile, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []BundleFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if w.excluded(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.included(rel) || w.excluded(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, BundleFile{
			Path:    path,
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (w *Walker) included(path string) bool {
	for _, pattern := range w.includes {
		if matched, err := doublestar.Match(pattern, path); err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) excluded(path string) bool {
	for _, pattern := range w.excludes {
		if matched, err := doublestar.Match(pattern, path); err == nil && matched {
			return true
		}
	}
	return false
}

// ReadFile loads a bundle into memory.
func ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
