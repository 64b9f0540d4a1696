package fs

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"
)

var ErrUnsafePath = errors.New("unsafe path")

// IsWithinDir reports whether p, once cleaned, is dir itself or lies below it.
func IsWithinDir(dir, p string) bool {
	dir = strings.TrimSpace(dir)
	if dir == "" || strings.TrimSpace(p) == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// JoinWithin joins name under root and rejects results that escape root.
func JoinWithin(root, name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", ErrUnsafePath
	}
	full := filepath.Join(root, filepath.FromSlash(name))
	if full == filepath.Clean(root) || !IsWithinDir(root, full) {
		return "", ErrUnsafePath
	}
	return full, nil
}

func IsFileURI(raw string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "file:")
}

// FileURIToPath converts file:///a/b%20c into /a/b c.
func FileURIToPath(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return "", ErrUnsafePath
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if host := u.Host; host != "" && !strings.EqualFold(host, "localhost") {
		p = "//" + host + p
	}
	if p == "" || strings.ContainsRune(p, 0) {
		return "", ErrUnsafePath
	}
	return filepath.Clean(filepath.FromSlash(p)), nil
}

func PathToFileURI(p string) string {
	u := url.URL{Path: filepath.ToSlash(p)}
	escaped := u.EscapedPath()
	if !strings.HasPrefix(escaped, "/") {
		escaped = "/" + escaped
	}
	return "file://" + escaped
}

// SanitizeFileName reduces a user supplied name to a single path element.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	name = strings.ReplaceAll(name, " ", "-")
	return name
}
