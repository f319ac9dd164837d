package ingest

import (
	"mime"
	"strings"

	"github.com/princekumarofficial/channel-media-service/internal/types"
)

var audioTypes = map[string]struct{}{
	"audio/mpeg":  {},
	"audio/mp3":   {},
	"audio/ogg":   {},
	"audio/opus":  {},
	"audio/mp4":   {},
	"audio/x-m4a": {},
	"audio/aac":   {},
	"audio/flac":  {},
	"audio/wav":   {},
	"audio/x-wav": {},
}

// Classify maps a MIME type to a media kind. Parameters such as
// "; codecs=opus" are ignored. Unsupported types report false.
func Classify(mimeType string) (types.MediaKind, bool) {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}

	if mt == "application/pdf" {
		return types.MediaKindPDF, true
	}
	if _, ok := audioTypes[mt]; ok {
		return types.MediaKindAudio, true
	}
	return "", false
}
