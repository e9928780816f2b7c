package mime

import (
	"path/filepath"
	"strings"
)

type MIME = string

const (
	OctetStream MIME = "application/octet-stream"
	Plain       MIME = "text/plain; charset=utf-8"
	HTML        MIME = "text/html; charset=utf-8"
	JSON        MIME = "application/json"
	JPEG        MIME = "image/jpeg"
	PNG         MIME = "image/png"
)

// Extension maps the extensions of files allowed to be served onto their media types.
// Files of any other type are rejected.
var Extension = map[string]MIME{
	".html": HTML,
	".txt":  Plain,
	".png":  PNG,
	".jpg":  JPEG,
	".jpeg": JPEG,
}

// ByName returns the media type of a file by its extension. The extension is compared
// case-insensitively.
func ByName(name string) (mime MIME, allowed bool) {
	mime, allowed = Extension[strings.ToLower(filepath.Ext(name))]
	return mime, allowed
}

// IsJSON reports whether the Content-Type value denotes JSON. Parameters are allowed, but
// the media type itself must be exactly application/json.
func IsJSON(contentType string) bool {
	if semicolon := strings.IndexByte(contentType, ';'); semicolon != -1 {
		contentType = contentType[:semicolon]
	}

	return strings.EqualFold(strings.TrimSpace(contentType), JSON)
}
