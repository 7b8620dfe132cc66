// Package staging owns per-job working directories and safe archive extraction.
package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path escapes staging root")

// Area is a directory tree rooted at Root that holds one job's files.
type Area struct {
	Root string
}

// Create makes a fresh staging area named name under base.
func Create(base, name string) (*Area, error) {
	if strings.ContainsAny(name, `/\`) || name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid staging name %q", name)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create staging base: %w", err)
	}
	root := filepath.Join(base, name)
	if err := os.Mkdir(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	real, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}
	return &Area{Root: real}, nil
}

// Open wraps an existing staging directory.
func Open(root string) (*Area, error) {
	real, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}
	return &Area{Root: real}, nil
}

// Resolve joins rel onto the root and verifies the result stays inside it.
func (a *Area) Resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", ErrOutsideRoot
	}
	target := filepath.Join(a.Root, filepath.FromSlash(rel))
	if !within(a.Root, target) {
		return "", ErrOutsideRoot
	}
	// Intermediate directories may be symlinks planted by an earlier entry.
	if parent, err := filepath.EvalSymlinks(filepath.Dir(target)); err == nil {
		if !within(a.Root, parent) {
			return "", ErrOutsideRoot
		}
	}
	return target, nil
}

// CopyIn copies the file at src into the area at rel and returns the absolute target path.
func (a *Area) CopyIn(src, rel string) (string, error) {
	target, err := a.Resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", err
	}
	return target, out.Close()
}

// Remove deletes the whole area.
func (a *Area) Remove() error {
	if a == nil || a.Root == "" || a.Root == "/" {
		return nil
	}
	return os.RemoveAll(a.Root)
}

// RemoveUnder deletes dir recursively only if it lies strictly inside base.
func RemoveUnder(base, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if absDir == absBase || !within(absBase, absDir) {
		return fmt.Errorf("refusing to remove %s: %w", dir, ErrOutsideRoot)
	}
	return os.RemoveAll(absDir)
}

// HashFile returns the hex SHA-256 of the file contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
