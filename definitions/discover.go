package definitions

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teranos/strata/errors"
)

// Discover expands paths into definitions files. A file path is taken as is;
// a directory is walked for *.strata.toml. Missing paths are skipped so a
// fresh checkout without a definitions directory still starts.
func Discover(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat %s", root)
		}
		if !info.IsDir() {
			add(filepath.Clean(root))
			continue
		}

		var found []string
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(d.Name(), FileSuffix) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", root)
		}
		sort.Strings(found)
		for _, f := range found {
			add(f)
		}
	}
	return out, nil
}

// LoadPaths discovers and parses every definitions file under paths into one
// bundle, in discovery order.
func LoadPaths(paths []string) (*Definitions, error) {
	files, err := Discover(paths)
	if err != nil {
		return nil, err
	}
	out := New()
	for _, f := range files {
		d, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		if err := out.Merge(d); err != nil {
			return nil, errors.Wrapf(err, "%s", f)
		}
	}
	return out, nil
}

// Dirs returns the directories a watcher should observe for paths.
func Dirs(paths []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		dir := p
		if !info.IsDir() {
			dir = filepath.Dir(p)
		}
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if !seen[path] {
				seen[path] = true
				out = append(out, path)
			}
			return nil
		})
	}
	sort.Strings(out)
	return out
}
