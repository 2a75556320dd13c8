// Package fsutil provides filesystem helpers, in particular the secure
// path joining used for everything below a project directory.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// EnsureDir creates the directory path if it doesn't exist.
func EnsureDir(p string) error {
	if _, err := os.Stat(p); err != nil {
		return os.MkdirAll(p, 0775)
	}
	return nil
}

// EnsureDirOf creates the parent directory of the given file path.
func EnsureDirOf(p string) error {
	return EnsureDir(filepath.Dir(p))
}

// SecureJoin joins an untrusted path to a base directory so that the result
// cannot escape the base. Leading slashes are stripped and every ".."
// component is dropped before joining. Wildcard characters are preserved,
// globs are resolved by whoever consumes the path.
func SecureJoin(base, untrusted string) string {
	trimmed := strings.TrimLeft(untrusted, "/")

	parts := strings.Split(filepath.ToSlash(trimmed), "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == ".." {
			continue
		}
		kept = append(kept, part)
	}

	return filepath.Join(base, filepath.Join(kept...))
}

// IsWithin reports whether path equals base or lies below it. Both paths
// are compared lexically; neither needs to exist.
func IsWithin(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// CheckWithin returns an error unless path lies within base.
func CheckWithin(base, path string) error {
	if !IsWithin(base, path) {
		return fmt.Errorf("permission denied: %q is not within %q", path, base)
	}
	return nil
}

var (
	sanitizeRegexp   = regexp.MustCompile(`[^\w\d ]+`)
	whitespaceRegexp = regexp.MustCompile(`\s+`)
)

// SanitizeName reduces a name to alphanumerics and underscores, for use
// as a directory name component.
func SanitizeName(name string) string {
	return whitespaceRegexp.ReplaceAllString(sanitizeRegexp.ReplaceAllString(name, ""), "_")
}
