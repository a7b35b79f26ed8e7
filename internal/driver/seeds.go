package driver

import (
	"os"
	"path/filepath"
)

// loadSeeds reads every regular file directly under dir as one seed
// input, the way the teacher's filepath.Walk-based directory scanners
// (internal/filesystem/filesystem.go, internal/packages/commands.go)
// collect a flat file list. The seed file format itself is an
// out-of-scope external interface (spec section 1); this is just
// "one file, one seed" with no format assumed about its bytes.
func loadSeeds(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return [][]byte{{0}}, nil
		}
		return nil, err
	}

	seeds := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			continue
		}
		seeds = append(seeds, body)
	}
	if len(seeds) == 0 {
		seeds = append(seeds, []byte{0})
	}
	return seeds, nil
}
