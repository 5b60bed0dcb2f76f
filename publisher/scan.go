package publisher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

// Scan lists the regular files in dir accepted by filter, sorted by name.
// A missing directory is created and yields no files.
func Scan(dir string, filter Filter) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		log.Warn().Str("dir", dir).Msg("Source directory missing, creating it")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create source dir: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !filter.Match(e.Name()) {
			log.Debug().Str("file", e.Name()).Msg("Ignoring source file")
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// CleanDist removes and recreates the output directory so that only
// artifacts from the current run are uploaded
func CleanDist(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
