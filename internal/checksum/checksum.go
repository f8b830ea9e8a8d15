// Package checksum verifies downloaded files against companion checksum files.
//
// A companion file holds the expected MD5 digest of its sibling as one of the
// whitespace-separated tokens on its first line, the format produced by
// md5sum and friends.
package checksum

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/italolelis/mirror_downloader/internal/logctx"
)

// readBlockSize is the size of the blocks a file is streamed in while hashing.
const readBlockSize = 1 << 20

// FileDigest computes the lower-case hex MD5 digest of the file contents.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, readBlockSize)); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ExpectedDigest reads the expected digest from a companion checksum file: the
// first line is split on whitespace and the token at fieldIndex is returned.
func ExpectedDigest(path string, fieldIndex int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open checksum file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read checksum file: %w", err)
		}

		return "", fmt.Errorf("checksum file %s is empty", path)
	}

	fields := strings.Fields(scanner.Text())
	if fieldIndex < 0 || fieldIndex >= len(fields) {
		return "", fmt.Errorf("checksum file %s has no field %d", path, fieldIndex)
	}

	return fields[fieldIndex], nil
}

// Verify reports whether the MD5 digest of targetFile matches the expected
// value held by checksumFile at fieldIndex. The comparison is
// case-insensitive. A missing target, a missing or malformed companion, and a
// digest mismatch all report false; a mismatch additionally logs both digests
// for troubleshooting. Verify never deletes anything: cleanup of a bad pair is
// the caller's decision.
func Verify(ctx context.Context, targetFile, checksumFile string, fieldIndex int) bool {
	logger := logctx.LoggerFromContext(ctx)

	computed, err := FileDigest(targetFile)
	if err != nil {
		logger.Error("failed to hash target file", "file", targetFile, "err", err)

		return false
	}

	expected, err := ExpectedDigest(checksumFile, fieldIndex)
	if err != nil {
		logger.Error("failed to read expected checksum", "file", checksumFile, "err", err)

		return false
	}

	if !strings.EqualFold(computed, expected) {
		logger.Error("checksum mismatch",
			"file", targetFile,
			"computed", computed,
			"expected", expected,
		)

		return false
	}

	return true
}
