// Package compression zstd-compresses a source file before it is split into parts.
package compression

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
)

// ContentEncoding is the Content-Encoding of objects written by Compressor.
const ContentEncoding = "zstd"

// Extension is appended to the object key of compressed uploads.
const Extension = ".zst"

// Level bounds accepted by Compress.
const (
	MinLevel = 1
	MaxLevel = 19
)

// DependencyChecker ...
type DependencyChecker interface {
	CheckDependencies() bool
}

// BinaryChecker reports whether the zstd binary is on the PATH.
type BinaryChecker struct {
	logger  log.Logger
	envRepo env.Repository
}

// NewBinaryChecker ...
func NewBinaryChecker(logger log.Logger, envRepo env.Repository) *BinaryChecker {
	return &BinaryChecker{
		logger:  logger,
		envRepo: envRepo,
	}
}

// CheckDependencies ...
func (c *BinaryChecker) CheckDependencies() bool {
	cmd := command.NewFactory(c.envRepo).Create("which", []string{"zstd"}, nil)
	c.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	_, err := cmd.RunAndReturnTrimmedCombinedOutput()
	return err == nil
}

// Compressor writes a zstd-compressed copy of a file.
type Compressor struct {
	logger            log.Logger
	envRepo           env.Repository
	dependencyChecker DependencyChecker
}

// NewCompressor ...
func NewCompressor(logger log.Logger, envRepo env.Repository, dependencyChecker DependencyChecker) *Compressor {
	return &Compressor{
		logger:            logger,
		envRepo:           envRepo,
		dependencyChecker: dependencyChecker,
	}
}

// Compress writes the compressed form of srcPath to dstPath using the given zstd level.
// The installed zstd binary is preferred; the native encoder is the fallback.
func (c *Compressor) Compress(srcPath, dstPath string, level int) error {
	if level < MinLevel || level > MaxLevel {
		return fmt.Errorf("compression level should be between %d and %d", MinLevel, MaxLevel)
	}

	if c.dependencyChecker != nil && c.dependencyChecker.CheckDependencies() {
		c.logger.Infof("Using installed zstd binary")
		if err := c.compressWithBinary(srcPath, dstPath, level); err != nil {
			return fmt.Errorf("compress file: %w", err)
		}
		return nil
	}

	c.logger.Infof("Falling back to native implementation of zstd.")
	if err := c.compressWithGoLib(srcPath, dstPath, level); err != nil {
		return fmt.Errorf("compress file: %w", err)
	}
	return nil
}

func (c *Compressor) compressWithGoLib(srcPath, dstPath string, level int) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close() //nolint:errcheck

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create compressed file: %w", err)
	}

	zw, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		_ = dst.Close()
		return fmt.Errorf("create zstd writer: %w", err)
	}

	if _, err := io.Copy(zw, src); err != nil {
		_ = zw.Close()
		_ = dst.Close()
		return fmt.Errorf("write compressed file: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return fmt.Errorf("flush zstd writer: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close compressed file: %w", err)
	}

	return nil
}

func (c *Compressor) compressWithBinary(srcPath, dstPath string, level int) error {
	/*
		zstd arguments:
		-q: No progress output
		-T0: Use CPU count threads
		-<level>: Compression level
		-o: Output file
	*/
	args := []string{"-q", "-T0", "-" + strconv.Itoa(level), srcPath, "-o", dstPath}
	cmd := command.NewFactory(c.envRepo).Create("zstd", args, nil)

	c.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(out))
		}
		return fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}

	return nil
}

// Decompress writes the decompressed form of srcPath to w.
func Decompress(srcPath string, w io.Writer) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open compressed file: %w", err)
	}
	defer src.Close() //nolint:errcheck

	zr, err := zstd.NewReader(src)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	if _, err := io.Copy(w, zr); err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	return nil
}
