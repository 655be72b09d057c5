package blobstore

import "strings"

// fixedExtensions maps specific mime types to their on-disk extension. Mime
// types outside this table fall back to the audio/image/video family
// wildcard rule below; application/octet-stream (and anything else
// unrecognized) produces no extension at all.
var fixedExtensions = map[string]string{
	"audio/mpeg":       "mp3",
	"audio/wav":        "wav",
	"audio/x-wav":      "wav",
	"audio/ogg":        "ogg",
	"audio/flac":       "flac",
	"audio/aac":        "aac",
	"image/png":        "png",
	"image/jpeg":       "jpg",
	"image/webp":       "webp",
	"image/gif":        "gif",
	"image/svg+xml":    "svg",
	"video/mp4":        "mp4",
	"video/webm":       "webm",
	"video/quicktime":  "mov",
	"application/json": "json",
	"text/plain":       "txt",
}

// extensionForMimeType infers a filename extension for mimeType, following
// A fixed mapping for well-known types, family wildcards
// (audio/*, video/*, image/*) as a fallback, and no extension for
// application/octet-stream or anything unrecognized.
func extensionForMimeType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" || mimeType == "application/octet-stream" {
		return ""
	}
	if ext, ok := fixedExtensions[mimeType]; ok {
		return ext
	}

	family, sub, found := strings.Cut(mimeType, "/")
	if !found || sub == "" {
		return ""
	}
	switch family {
	case "audio", "video", "image":
		// Strip any "+suffix" structured-syntax tail, e.g. "svg+xml" -> "svg".
		sub, _, _ = strings.Cut(sub, "+")
		return sub
	default:
		return ""
	}
}
