// Package imageprep validates images on disk and encodes them for vision-model requests.
package imageprep

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxEdge is the longest edge, in pixels, of images sent to the vision model.
const DefaultMaxEdge = 1600

// Extensions lists the image extensions accepted on ingest, lowercase with dot.
var Extensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// IsImageName reports whether name carries a recognized image extension.
func IsImageName(name string) bool {
	_, ok := Extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Validate decodes just the image header; a truncated or non-image file fails.
func Validate(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode image header %s: %w", filepath.Base(path), err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, "", fmt.Errorf("image %s has empty dimensions", filepath.Base(path))
	}
	return cfg, format, nil
}

// DataURL returns a base64 data: URL for the image at path. Images whose longest edge exceeds
// maxEdge (when > 0) are downscaled with Lanczos and re-encoded as JPEG.
func DataURL(path string, maxEdge int) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode image header %s: %w", filepath.Base(path), err)
	}

	mime := "image/" + format
	if format == "jpeg" || format == "png" || format == "gif" || format == "webp" {
		if maxEdge <= 0 || (cfg.Width <= maxEdge && cfg.Height <= maxEdge) {
			return encode(mime, raw), nil
		}
	}

	// Oversized, or a format the vision endpoint does not accept directly.
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode image %s: %w", filepath.Base(path), err)
	}
	if maxEdge > 0 && (cfg.Width > maxEdge || cfg.Height > maxEdge) {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return encode("image/jpeg", buf.Bytes()), nil
}

func encode(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
