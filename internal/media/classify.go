package media

import (
	"strings"

	"github.com/suffus/reedi-media-service/internal/apperr"
)

// supported video subtypes; anything else under video/ is rejected rather
// than accepted and left to fail in the worker.
var videoSubtypes = map[string]struct{}{
	"mp4":        {},
	"mpeg":       {},
	"quicktime":  {},
	"webm":       {},
	"x-matroska": {},
	"x-msvideo":  {},
}

var zipContentTypes = map[string]struct{}{
	"application/zip":              {},
	"application/x-zip-compressed": {},
}

// Classify maps a declared content type onto a media type. Parameters after
// ";" are ignored. Unknown types return apperr.ErrUnsupportedMediaType.
func Classify(contentType string) (Type, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return TypeImage, nil
	case strings.HasPrefix(ct, "video/"):
		if _, ok := videoSubtypes[strings.TrimPrefix(ct, "video/")]; ok {
			return TypeVideo, nil
		}
	default:
		if _, ok := zipContentTypes[ct]; ok {
			return TypeZip, nil
		}
	}
	return "", apperr.ErrUnsupportedMediaType
}
