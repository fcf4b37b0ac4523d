package collector

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const fallbackExt = "bin"

var extByMediaType = map[string]string{
	"application/json":         "json",
	"text/json":                "json",
	"application/geo+json":     "json",
	"application/xml":          "xml",
	"text/xml":                 "xml",
	"text/plain":               "txt",
	"text/html":                "html",
	"text/csv":                 "csv",
	"application/pdf":          "pdf",
	"application/zip":          "zip",
	"application/gzip":         "gz",
	"application/fits":         "fits",
	"image/fits":               "fits",
	"image/png":                "png",
	"image/jpeg":               "jpg",
	"application/octet-stream": "",
}

// InferExt picks the raw evidence file extension. The declared content type
// wins, then the configured hint, then a sniff of the bytes.
func InferExt(contentType, hint string, body []byte) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = strings.ToLower(mediaType)
		if ext, ok := extByMediaType[mediaType]; ok && ext != "" {
			return ext
		}
		if strings.HasSuffix(mediaType, "+json") {
			return "json"
		}
		if strings.HasSuffix(mediaType, "+xml") {
			return "xml"
		}
	}
	if hint = strings.TrimPrefix(strings.TrimSpace(hint), "."); hint != "" {
		return hint
	}
	if len(body) > 0 {
		if ext := strings.TrimPrefix(mimetype.Detect(body).Extension(), "."); ext != "" {
			return ext
		}
	}
	return fallbackExt
}
