package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ImageWriter saves decoded canvas PNGs under
// baseDir/<date>/<tab>/<extraction>-<index>.png.
type ImageWriter struct {
	baseDir string
	now     func() time.Time
}

func NewImageWriter(baseDir string) *ImageWriter {
	return &ImageWriter{baseDir: baseDir, now: time.Now}
}

// WritePNG stores one canvas image and returns the file path.
func (w *ImageWriter) WritePNG(tabID, extractionID string, index int, data []byte) (string, error) {
	date := w.now().UTC().Format("2006-01-02")
	dir := filepath.Join(w.baseDir, date, safeSegment(tabID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.png", safeSegment(extractionID), index))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	slog.Debug("canvas image written", "path", path, "size", len(data))
	return path, nil
}

// safeSegment keeps a path element inside its parent directory. CDP target
// ids are hex, so this only matters for hand-made ids.
func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
