package checksum_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/italolelis/mirror_downloader/internal/checksum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	return path
}

func digestOf(content string) string {
	sum := md5.Sum([]byte(content))

	return hex.EncodeToString(sum[:])
}

func TestVerify(t *testing.T) {
	const content = "some archive bytes"

	digest := digestOf(content)

	tests := []struct {
		name          string
		companionLine string
		fieldIndex    int
		want          bool
	}{
		{"md5sum format", digest + "  data.gz", 0, true},
		{"bsd format", "MD5 (data.gz) = " + digest, 3, true},
		{"uppercase digest", strings.ToUpper(digest) + "  data.gz", 0, true},
		{"wrong digest", digestOf("other bytes") + "  data.gz", 0, false},
		{"field out of range", digest, 1, false},
		{"empty companion", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			target := writeFile(t, dir, "data.gz", content)
			companion := writeFile(t, dir, "data.gz.md5", tt.companionLine)

			assert.Equal(t, tt.want, checksum.Verify(context.Background(), target, companion, tt.fieldIndex))
		})
	}
}

func TestVerify_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "data.gz", "bytes")
	companion := writeFile(t, dir, "data.gz.md5", digestOf("bytes"))

	assert.False(t, checksum.Verify(context.Background(), filepath.Join(dir, "absent.gz"), companion, 0))
	assert.False(t, checksum.Verify(context.Background(), target, filepath.Join(dir, "absent.md5"), 0))
}

func TestVerify_OnlyFirstLineIsConsulted(t *testing.T) {
	const content = "first line wins"

	dir := t.TempDir()
	target := writeFile(t, dir, "data.gz", content)
	companion := writeFile(t, dir, "data.gz.md5", digestOf(content)+"  data.gz\n"+digestOf("decoy")+"  decoy.gz\n")

	assert.True(t, checksum.Verify(context.Background(), target, companion, 0))
}

func TestFileDigest(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "data.gz", "hello")

	got, err := checksum.FileDigest(target)
	require.NoError(t, err)
	assert.Equal(t, digestOf("hello"), got)

	_, err = checksum.FileDigest(filepath.Join(dir, "absent"))
	assert.Error(t, err)
}

func TestExpectedDigest(t *testing.T) {
	dir := t.TempDir()
	companion := writeFile(t, dir, "data.gz.md5", "abc123  data.gz")

	got, err := checksum.ExpectedDigest(companion, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got)

	got, err = checksum.ExpectedDigest(companion, 1)
	require.NoError(t, err)
	assert.Equal(t, "data.gz", got)

	_, err = checksum.ExpectedDigest(companion, 2)
	assert.Error(t, err)

	_, err = checksum.ExpectedDigest(companion, -1)
	assert.Error(t, err)
}
