// Package workspace confines file access to a root directory.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutside is returned for paths that resolve outside the root.
var ErrOutside = errors.New("path is outside the workspace")

// Root is an absolute, cleaned workspace directory.
type Root string

// New resolves dir to an absolute root.
func New(dir string) (Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving workspace %s: %w", dir, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return Root(abs), nil
}

// Resolve returns the absolute path of p, which may be relative to the
// root or absolute, provided it stays inside the root.
func (r Root) Resolve(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path: %w", ErrOutside)
	}
	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(string(r), candidate)
	}
	candidate = filepath.Clean(candidate)
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		candidate = resolved
	}

	rel, err := filepath.Rel(string(r), candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", p, ErrOutside)
	}
	return candidate, nil
}

// Rel returns the slash-separated path of p relative to the root, for use
// in prompts and diff headers. Paths outside the root collapse to their
// base name.
func (r Root) Rel(p string) string {
	abs, err := r.Resolve(p)
	if err != nil {
		if base := filepath.Base(p); base != "." && base != string(filepath.Separator) {
			return base
		}
		return "<outside-workspace>"
	}
	rel, err := filepath.Rel(string(r), abs)
	if err != nil {
		return filepath.Base(p)
	}
	return filepath.ToSlash(rel)
}

// ReadFile reads a file inside the root.
func (r Root) ReadFile(p string) ([]byte, error) {
	abs, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// WriteFile atomically replaces a file inside the root, keeping its mode.
func (r Root) WriteFile(p string, data []byte) error {
	abs, err := r.Resolve(p)
	if err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".fixrev-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", p, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return nil
}

// Remove deletes a file inside the root.
func (r Root) Remove(p string) error {
	abs, err := r.Resolve(p)
	if err != nil {
		return err
	}
	return os.Remove(abs)
}
