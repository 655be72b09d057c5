package blobstore

import (
	"bytes"
	"strings"

	"github.com/andybalholm/brotli"
)

// compressibleFamilies lists the mime type families worth spending CPU on
// brotli for; media formats that are already entropy-coded (JPEG, MP3,
// MP4, WebP) gain nothing and are skipped.
var compressibleFamilies = map[string]bool{
	"text/plain":       true,
	"application/json": true,
	"image/svg+xml":    true,
}

// BrotliCompressor returns a compress function suitable for
// Store.WithCompression: it brotli-compresses data whose mime type is in
// compressibleFamilies, and declines (ok=false) otherwise so the original
// bytes are stored unmodified. The blob's hash is always computed over the
// original bytes by Persist, before this function ever runs.
func BrotliCompressor(quality int) func(mimeType string, data []byte) ([]byte, string, bool) {
	return func(mimeType string, data []byte) ([]byte, string, bool) {
		mimeType = strings.ToLower(strings.TrimSpace(mimeType))
		if !compressibleFamilies[mimeType] {
			return nil, "", false
		}
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, quality)
		if _, err := w.Write(data); err != nil {
			return nil, "", false
		}
		if err := w.Close(); err != nil {
			return nil, "", false
		}
		return buf.Bytes(), "br", true
	}
}
