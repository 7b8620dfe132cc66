package staging

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

var (
	ErrInvalidArchive = errors.New("invalid archive")
	ErrTooManyFiles   = errors.New("archive exceeds file count limit")
	ErrTooManyBytes   = errors.New("archive exceeds decompressed size limit")
)

// Limits bounds a single extraction. Zero values disable a limit.
type Limits struct {
	MaxFiles int
	MaxBytes int64
}

// DefaultLimits matches the ingest policy: 5000 files, 2 GiB decompressed.
var DefaultLimits = Limits{MaxFiles: 5000, MaxBytes: 2 << 30}

// Rejection records an archive entry that was not extracted.
type Rejection struct {
	Name   string
	Reason string
}

type Extraction struct {
	// Files are slash-separated paths relative to the area root, in archive order.
	Files    []string
	Rejected []Rejection
	Bytes    int64
}

// ExtractZip extracts entries accepted by keep into the area. Unsafe entry names are rejected
// individually; exceeding a limit aborts the whole extraction with an error.
func (a *Area) ExtractZip(archivePath, prefix string, limits Limits, keep func(name string) bool) (*Extraction, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer zr.Close()

	out := &Extraction{}
	type planned struct {
		f   *zip.File
		rel string
	}
	var plan []planned
	var declared uint64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, reason := cleanEntryName(f.Name)
		if reason != "" {
			out.Rejected = append(out.Rejected, Rejection{Name: f.Name, Reason: reason})
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 || !f.Mode().IsRegular() {
			out.Rejected = append(out.Rejected, Rejection{Name: f.Name, Reason: "not a regular file"})
			continue
		}
		if keep != nil && !keep(name) {
			continue
		}
		declared += f.UncompressedSize64
		plan = append(plan, planned{f: f, rel: path.Join(prefix, name)})
	}

	if limits.MaxFiles > 0 && len(plan) > limits.MaxFiles {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(plan), limits.MaxFiles)
	}
	if limits.MaxBytes > 0 && declared > uint64(limits.MaxBytes) {
		return nil, fmt.Errorf("%w: declared %d > %d", ErrTooManyBytes, declared, limits.MaxBytes)
	}

	for _, p := range plan {
		target, err := a.Resolve(p.rel)
		if err != nil {
			out.Rejected = append(out.Rejected, Rejection{Name: p.f.Name, Reason: "resolves outside staging"})
			continue
		}
		budget := int64(-1)
		if limits.MaxBytes > 0 {
			budget = limits.MaxBytes - out.Bytes
		}
		n, err := extractOne(p.f, target, budget)
		if errors.Is(err, ErrTooManyBytes) {
			return nil, err
		}
		if errors.Is(err, os.ErrExist) {
			out.Rejected = append(out.Rejected, Rejection{Name: p.f.Name, Reason: "duplicate entry name"})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: extract %s: %v", ErrInvalidArchive, p.f.Name, err)
		}
		out.Bytes += n
		out.Files = append(out.Files, p.rel)
	}
	return out, nil
}

// extractOne copies one entry, counting real decompressed bytes against budget (<0 = unlimited).
func extractOne(f *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	var src io.Reader = rc
	if budget >= 0 {
		src = io.LimitReader(rc, budget+1)
	}
	n, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if budget >= 0 && n > budget {
		_ = os.Remove(target)
		return n, fmt.Errorf("%w: entry %s", ErrTooManyBytes, f.Name)
	}
	if copyErr != nil {
		_ = os.Remove(target)
		return n, copyErr
	}
	return n, closeErr
}

// cleanEntryName returns a safe slash-separated relative name, or a rejection reason.
func cleanEntryName(name string) (string, string) {
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", "control character in name"
		}
	}
	n := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(n, "/") || filepath.IsAbs(name) || hasDriveLetter(n) {
		return "", "absolute path"
	}
	for _, seg := range strings.Split(n, "/") {
		if seg == ".." {
			return "", "path traversal"
		}
	}
	n = path.Clean(n)
	if n == "." || n == "" {
		return "", "empty name"
	}
	return n, ""
}

func hasDriveLetter(n string) bool {
	return len(n) >= 2 && n[1] == ':' && ((n[0] >= 'a' && n[0] <= 'z') || (n[0] >= 'A' && n[0] <= 'Z'))
}
