// Package source turns a directory of sequence files into a stream of
// sequence records.
package source

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/patrikhermansson/tohnsw/core"
	"github.com/rs/zerolog/log"
)

// WalkFiles returns every regular file below dir whose name ends with suffix,
// in lexical path order.
func WalkFiles(dir, suffix string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidParameter, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", core.ErrInvalidParameter, dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)
	log.Info().Msgf("Found %d files ending with %q in %s", len(files), suffix, dir)
	return files, nil
}
