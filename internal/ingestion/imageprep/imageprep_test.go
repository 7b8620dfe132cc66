package imageprep

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestIsImageName(t *testing.T) {
	for name, want := range map[string]bool{
		"a.JPG": true, "b.webp": true, "c.txt": false, "noext": false, "d.tiff": true,
	} {
		if got := IsImageName(name); got != want {
			t.Fatalf("%s: want=%v got=%v", name, want, got)
		}
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writePNG(t, dir, "ok.png", 4, 3)
	cfg, format, err := Validate(good)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if format != "png" || cfg.Width != 4 || cfg.Height != 3 {
		t.Fatalf("config: format=%s %dx%d", format, cfg.Width, cfg.Height)
	}

	bad := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := Validate(bad); err == nil {
		t.Fatalf("expected error for corrupt image")
	}
}

func TestDataURLPassThroughAndDownscale(t *testing.T) {
	dir := t.TempDir()
	small := writePNG(t, dir, "small.png", 10, 10)
	u, err := DataURL(small, 100)
	if err != nil {
		t.Fatalf("DataURL small: %v", err)
	}
	if !strings.HasPrefix(u, "data:image/png;base64,") {
		t.Fatalf("small prefix: %q", u[:30])
	}

	big := writePNG(t, dir, "big.png", 400, 200)
	u, err = DataURL(big, 100)
	if err != nil {
		t.Fatalf("DataURL big: %v", err)
	}
	if !strings.HasPrefix(u, "data:image/jpeg;base64,") {
		t.Fatalf("big prefix: %q", u[:30])
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, "data:image/jpeg;base64,"))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode scaled: %v", err)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Fatalf("scaled size: want=100x50 got=%dx%d", cfg.Width, cfg.Height)
	}
}
