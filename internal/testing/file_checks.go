// Package testing holds filesystem assertions shared by the package tests.
package testing

import (
	"errors"
	"fmt"
	"os"
)

// FileChecker collects checks on one path. Check runs all of them and reports every failure.
type FileChecker struct {
	path   string
	checks []func(os.FileInfo, error) error
}

// NewFileChecker ...
func NewFileChecker(path string) *FileChecker {
	return &FileChecker{path: path}
}

// Check runs the collected checks.
func (fc *FileChecker) Check() error {
	info, statErr := os.Lstat(fc.path)

	var errs []error
	for _, check := range fc.checks {
		if err := check(info, statErr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (fc *FileChecker) add(check func(os.FileInfo, error) error) *FileChecker {
	fc.checks = append(fc.checks, check)
	return fc
}

// existing wraps a check that needs the path to exist.
func (fc *FileChecker) existing(check func(os.FileInfo) error) *FileChecker {
	return fc.add(func(info os.FileInfo, statErr error) error {
		if statErr != nil {
			return fmt.Errorf("stat %s: %w", fc.path, statErr)
		}
		return check(info)
	})
}

// DoesNotExist checks that nothing is left at the path.
func (fc *FileChecker) DoesNotExist() *FileChecker {
	return fc.add(func(_ os.FileInfo, statErr error) error {
		switch {
		case statErr == nil:
			return fmt.Errorf("%s still exists", fc.path)
		case !os.IsNotExist(statErr):
			return fmt.Errorf("stat %s: %w", fc.path, statErr)
		}
		return nil
	})
}

// IsFile checks that the path is a regular file.
func (fc *FileChecker) IsFile() *FileChecker {
	return fc.existing(func(info os.FileInfo) error {
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s is not a regular file (mode %s)", fc.path, info.Mode())
		}
		return nil
	})
}

// IsEmptyDir checks that the path is a directory without entries.
func (fc *FileChecker) IsEmptyDir() *FileChecker {
	return fc.existing(func(info os.FileInfo) error {
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", fc.path)
		}
		entries, err := os.ReadDir(fc.path)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			return fmt.Errorf("%s is not empty: %v", fc.path, names)
		}
		return nil
	})
}

// ModeEquals checks the permission bits of the path.
func (fc *FileChecker) ModeEquals(perm os.FileMode) *FileChecker {
	return fc.existing(func(info os.FileInfo) error {
		if got := info.Mode().Perm(); got != perm.Perm() {
			return fmt.Errorf("%s has mode %o, expected %o", fc.path, got, perm.Perm())
		}
		return nil
	})
}

// Content checks the whole content of the file.
func (fc *FileChecker) Content(want string) *FileChecker {
	return fc.existing(func(os.FileInfo) error {
		b, err := os.ReadFile(fc.path)
		if err != nil {
			return err
		}
		if got := string(b); got != want {
			return fmt.Errorf("%s content mismatch\nwant: %q\ngot:  %q", fc.path, want, got)
		}
		return nil
	})
}
