package anvil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxWalkFiles caps the file listing fed into system prompts so a huge
// workspace cannot blow up the prompt.
const maxWalkFiles = 500

// WalkFiles lists file paths under root up to maxDepth directory levels,
// relative to root and sorted. Hidden entries and common dependency
// directories are skipped.
func WalkFiles(root string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || skipDir(name) {
				return fs.SkipDir
			}
			if strings.Count(rel, string(os.PathSeparator))+1 >= maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if len(files) >= maxWalkFiles {
			return fs.SkipAll
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func skipDir(name string) bool {
	switch name {
	case "node_modules", "vendor", "target", "dist", "build", "__pycache__":
		return true
	}
	return false
}
