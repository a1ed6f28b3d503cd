package handler

import "bytes"

var (
	jpegMagic  = []byte{0xff, 0xd8, 0xff}
	pngMagic   = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	gif87Magic = []byte("GIF87a")
	gif89Magic = []byte("GIF89a")
	riffMagic  = []byte("RIFF")
	webpMarker = []byte("WEBP")
)

// DetectImageMime sniffs an image MIME type from magic-byte prefixes.
// Signatures are checked in fixed priority order: JPEG, PNG, GIF,
// WEBP. It is total: unrecognized data falls back to "image/jpeg".
func DetectImageMime(data []byte) string {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return "image/jpeg"
	case bytes.HasPrefix(data, pngMagic):
		return "image/png"
	case bytes.HasPrefix(data, gif87Magic), bytes.HasPrefix(data, gif89Magic):
		return "image/gif"
	case bytes.HasPrefix(data, riffMagic) && len(data) >= 12 && bytes.Contains(data[:12], webpMarker):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
