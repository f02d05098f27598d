package utils

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/vfaronov/httpheader"
)

// DetermineFilename picks a filename for a download, preferring the
// Content-Disposition header over the last URL path element.
func DetermineFilename(rawurl string, h http.Header) string {
	if _, filename, _ := httpheader.ContentDisposition(h); filename != "" {
		if name := sanitizeFilename(filename); name != "" {
			return name
		}
	}

	if parsed, err := url.Parse(rawurl); err == nil {
		name := filepath.Base(parsed.Path)
		if name != "" && name != "." && name != "/" {
			return sanitizeFilename(name)
		}
	}

	return fmt.Sprintf("download_%d.bin", time.Now().Unix())
}

// sanitizeFilename strips path separators so a hostile header can never
// escape the destination directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Trim(name, `"'`)
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}
