package multipart

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
)

const (
	sniffLen           = 512
	defaultContentType = "application/octet-stream"
)

// resolveSource turns the configured source into an absolute file path. The source may be
// a glob pattern, in which case it has to match exactly one regular file.
func (u *Uploader) resolveSource(source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", errors.New("source path is empty")
	}

	if !strings.ContainsAny(source, "*?[{") {
		return u.pathModifier.AbsPath(source) // resolves ~/ and expands any envs
	}

	base, pattern := doublestar.SplitPattern(source)
	absBase, err := u.pathModifier.AbsPath(base)
	if err != nil {
		return "", err
	}
	matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
	if err != nil {
		return "", fmt.Errorf("invalid source pattern '%s': %w", source, err)
	}

	var files []string
	for _, match := range matches {
		path := filepath.Join(absBase, match)
		info, err := u.os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}

	switch len(files) {
	case 0:
		return "", fmt.Errorf("no file matches the source pattern '%s'", source)
	case 1:
		return files[0], nil
	default:
		return "", fmt.Errorf("source pattern '%s' matches %d files, exactly one is required", source, len(files))
	}
}

// detectContentType sniffs the media type of a file from its first bytes.
func (u *Uploader) detectContentType(path string) (string, error) {
	f, err := u.os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}

	return mimetype.Detect(header[:n]).String(), nil
}
