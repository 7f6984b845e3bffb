package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

// checkSource makes sure source names one readable regular file, either directly or as a
// glob pattern matching exactly one file.
func checkSource(source string) error {
	pathModifier := pathutil.NewPathModifier()

	if !strings.ContainsAny(source, "*?[{") {
		path, err := pathModifier.AbsPath(source)
		if err != nil {
			return err
		}
		return checkRegularFile(path)
	}

	base, pattern := doublestar.SplitPattern(source)
	absBase, err := pathModifier.AbsPath(base)
	if err != nil {
		return err
	}
	matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
	if err != nil {
		return fmt.Errorf("invalid source pattern '%s': %w", source, err)
	}

	files := 0
	for _, match := range matches {
		if checkRegularFile(filepath.Join(absBase, match)) == nil {
			files++
		}
	}
	switch files {
	case 0:
		return fmt.Errorf("no file matches the source pattern '%s'", source)
	case 1:
		return nil
	default:
		return fmt.Errorf("source pattern '%s' matches %d files, exactly one is required", source, files)
	}
}

func checkRegularFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("source file does not exist: %s", path)
	}
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source is not a regular file: %s", path)
	}
	return nil
}
