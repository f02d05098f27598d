package utils

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetermineFilenameFromURL(t *testing.T) {
	name := DetermineFilename("http://example.com/files/archive.tar.gz", nil)
	assert.Equal(t, "archive.tar.gz", name)

	name = DetermineFilename("http://example.com/files/archive.tar.gz?token=abc", nil)
	assert.Equal(t, "archive.tar.gz", name)
}

func TestDetermineFilenamePrefersContentDisposition(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Disposition", `attachment; filename="report.pdf"`)
	name := DetermineFilename("http://example.com/download?id=9", h)
	assert.Equal(t, "report.pdf", name)
}

func TestDetermineFilenameStripsPathComponents(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Disposition", `attachment; filename="../../etc/passwd"`)
	name := DetermineFilename("http://example.com/x", h)
	assert.Equal(t, "passwd", name)
	assert.False(t, strings.Contains(name, ".."))
}

func TestDetermineFilenameFallback(t *testing.T) {
	name := DetermineFilename("http://example.com/", nil)
	assert.True(t, strings.HasPrefix(name, "download_"))
	assert.True(t, strings.HasSuffix(name, ".bin"))
}
