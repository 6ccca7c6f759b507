// Package cache manages the local download cache: a directory tree under
// a single root that mirrors the remote folder structure. Lookups
// tolerate size drift and name collisions, since the indexed size may lag
// the true remote value and downloads may have produced numbered
// variants like "report (2).txt".
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// fallbackName replaces names that sanitize down to nothing.
const fallbackName = "file"

// Cache resolves logical (directory path, name, size) triples to files
// under its root.
type Cache struct {
	root string
}

// New creates a cache rooted at the given directory. The directory is
// created lazily on first write.
func New(root string) *Cache {
	return &Cache{root: root}
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// Dir returns the absolute cache directory for a materialized remote
// directory path.
func (c *Cache) Dir(dirPath string) string {
	return filepath.Join(c.root, dirPath)
}

// Find resolves a logical file to a cached copy. Among candidates whose
// name matches the original or a numbered variant of it, an exact size
// match wins; otherwise the first variant found is returned. Size is a
// hint, not authoritative: with size 0 any variant matches. Returns ""
// when nothing is cached.
func (c *Cache) Find(dirPath, name string, size int64) string {
	baseDir := c.Dir(dirPath)
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return ""
	}

	safe := SanitizeComponent(name)
	if safe == "" {
		safe = fallbackName
	}
	stem, ext := splitName(safe)

	firstMatch := ""
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		candStem, candExt := splitName(entry.Name())
		if candExt != ext || !isNameVariant(stem, candStem) {
			continue
		}
		path := filepath.Join(baseDir, entry.Name())
		if firstMatch == "" {
			firstMatch = path
		}
		if size > 0 {
			if info, err := os.Stat(path); err == nil && info.Size() != size {
				continue
			}
		}
		return path
	}
	return firstMatch
}

// TargetPath picks a path for a new download. An existing file with the
// expected size is reused; otherwise a free "stem (n)" variant is chosen.
func (c *Cache) TargetPath(dirPath, name string, size int64) string {
	baseDir := c.Dir(dirPath)
	safe := SanitizeComponent(name)
	if safe == "" {
		safe = fallbackName
	}
	candidate := filepath.Join(baseDir, safe)
	if _, err := os.Stat(candidate); err != nil {
		return candidate
	}
	if size > 0 {
		if info, err := os.Stat(candidate); err == nil && info.Size() == size {
			return candidate
		}
	}
	stem, ext := splitName(safe)
	for i := 1; i <= 99; i++ {
		next := filepath.Join(baseDir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(next); err != nil {
			return next
		}
		candidate = next
	}
	return candidate
}

// PreferredPath returns the canonical cache path for a name, ignoring
// collisions. Used when an overwrite was requested.
func (c *Cache) PreferredPath(dirPath, name string) string {
	safe := SanitizeComponent(name)
	if safe == "" {
		safe = fallbackName
	}
	return filepath.Join(c.Dir(dirPath), safe)
}

// Remove deletes every cached variant of a logical file, then prunes
// now-empty directories up to (excluding) the cache root. Returns true
// if at least one file was removed.
func (c *Cache) Remove(dirPath, name string) bool {
	baseDir := c.Dir(dirPath)
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return false
	}

	safe := SanitizeComponent(name)
	if safe == "" {
		safe = fallbackName
	}
	stem, ext := splitName(safe)

	removed := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		candStem, candExt := splitName(entry.Name())
		if candExt != ext || !isNameVariant(stem, candStem) {
			continue
		}
		if os.Remove(filepath.Join(baseDir, entry.Name())) == nil {
			removed = true
		}
	}

	if removed || isEmptyDir(baseDir) {
		c.cleanupEmptyDirs(baseDir)
	}
	return removed
}

// cleanupEmptyDirs removes empty directories walking upward from start,
// stopping at the cache root or the first non-empty directory.
func (c *Cache) cleanupEmptyDirs(start string) {
	current := start
	for {
		rel, err := filepath.Rel(c.root, current)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return
		}
		if !isEmptyDir(current) {
			return
		}
		parent := filepath.Dir(current)
		if os.Remove(current) != nil {
			return
		}
		current = parent
	}
}

func isEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) == 0
}

// SanitizeComponent makes a single path component safe for the local
// filesystem: separators, drive markers, and control characters become
// underscores, and the relative segments "." and ".." are rejected so a
// remote name can never escape the cache root.
func SanitizeComponent(name string) string {
	var b strings.Builder
	for _, ch := range name {
		if ch == '/' || ch == '\\' || ch == ':' || ch == 0 || unicode.IsControl(ch) {
			b.WriteByte('_')
		} else {
			b.WriteRune(ch)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "." || cleaned == ".." {
		return "_"
	}
	return cleaned
}

// splitName divides a file name into stem and extension, keeping the dot
// with the extension. A leading dot is part of the stem.
func splitName(name string) (stem, ext string) {
	if pos := strings.LastIndexByte(name, '.'); pos > 0 {
		return name[:pos], name[pos:]
	}
	return name, ""
}

// isNameVariant reports whether candidateStem is baseStem itself or a
// numbered variant "baseStem (n)".
func isNameVariant(baseStem, candidateStem string) bool {
	if candidateStem == baseStem {
		return true
	}
	rest, found := strings.CutPrefix(candidateStem, baseStem)
	if !found {
		return false
	}
	rest, found = strings.CutPrefix(rest, " (")
	if !found {
		return false
	}
	num, found := strings.CutSuffix(rest, ")")
	if !found || num == "" {
		return false
	}
	for _, ch := range num {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
