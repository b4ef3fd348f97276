package slaveengine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sniffExtension picks a file extension for decoded image bytes: the
// original file's extension when present, else a magic-byte sniff, else
// "png" (§4.E.b). This diverges intentionally from the original adapter,
// which always wrote ".png" regardless of content — the specification
// calls for true sniffing, so that is what this implementation does.
func sniffExtension(originalFile string, data []byte) string {
	if ext := filepath.Ext(originalFile); ext != "" {
		return strings.TrimPrefix(strings.ToLower(ext), ".")
	}
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}):
		return "png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "jpg"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return "gif"
	case bytes.HasPrefix(data, []byte{0x42, 0x4D}):
		return "bmp"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp"
	default:
		return "png"
	}
}

// sanitizeStem replaces path separators in a BC-API source name so it is
// safe to use as part of a filename, per the original adapter's cache
// naming rule.
func sanitizeStem(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	return name
}

// writeImageCacheFile writes data under <cacheDir>/<sanitized-stem>_<ms>.<ext>
// and returns the path written.
func writeImageCacheFile(cacheDir, sourceName string, data []byte, ext string) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create image cache dir: %w", err)
	}
	name := fmt.Sprintf("%s_%d.%s", sanitizeStem(sourceName), time.Now().UnixMilli(), ext)
	path := filepath.Join(cacheDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image cache file: %w", err)
	}
	return path, nil
}

// DefaultImageCacheDir is <system-temp>/obs-sync/, per §6's persisted-state
// section.
func DefaultImageCacheDir() string {
	return filepath.Join(os.TempDir(), "obs-sync")
}
