package datasets

import (
	"fmt"
	"path/filepath"
	"sort"
)

// sourcePatterns are the file formats Resolve understands.
var sourcePatterns = []string{"*.json", "*.gob"}

// FindSourcesIn lists the dataset file names in dir that Resolve can open,
// sorted so the label assignment is stable between runs.
func FindSourcesIn(dir string) ([]string, error) {
	var names []string
	for _, pattern := range sourcePatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			names = append(names, filepath.Base(m))
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no dataset files found in %s", dir)
	}
	sort.Strings(names)
	return names, nil
}

// ResolveAll resolves every name in dataDir, in order.
func ResolveAll(dataDir string, names []string) ([]Source, error) {
	sources := make([]Source, 0, len(names))
	for _, name := range names {
		src, err := Resolve(dataDir, name)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}
