package ftp_test

import (
	"testing"

	"github.com/italolelis/mirror_downloader/internal/listing/ftp"
	goftp "github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
)

func TestFileNames(t *testing.T) {
	entries := []*goftp.Entry{
		{Name: ".", Type: goftp.EntryTypeFolder},
		{Name: "..", Type: goftp.EntryTypeFolder},
		{Name: "archive", Type: goftp.EntryTypeFolder},
		{Name: "latest", Type: goftp.EntryTypeLink, Target: "archive"},
		{Name: "a.gz", Type: goftp.EntryTypeFile, Size: 10},
		{Name: "a.gz.md5", Type: goftp.EntryTypeFile, Size: 33},
		{Name: "name with spaces.gz", Type: goftp.EntryTypeFile, Size: 5},
	}

	assert.Equal(t, []string{"a.gz", "a.gz.md5", "name with spaces.gz"}, ftp.FileNames(entries))
}

func TestFileNames_Empty(t *testing.T) {
	assert.Empty(t, ftp.FileNames(nil))
}

func TestNewClient_AnonymousFallback(t *testing.T) {
	c := ftp.NewClient("mirror.example.org:21", "", "", 0)
	assert.Equal(t, ftp.AnonymousUser, c.Username)

	c = ftp.NewClient("mirror.example.org:21", "walter", "secret", 0)
	assert.Equal(t, "walter", c.Username)
}
