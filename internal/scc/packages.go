package scc

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// DefaultPackageExtensions are the file types indexed when none are configured.
var DefaultPackageExtensions = []string{".upk", ".umap", ".u"}

// PackageCache maps package names to files on disk. A package name is the
// file's base name without extension, compared case-insensitively.
type PackageCache struct {
	mu     sync.RWMutex
	roots  []string
	exts   []string
	byName map[string]string
}

// NewPackageCache builds an empty cache over roots. Call Refresh to fill it.
func NewPackageCache(roots, exts []string) *PackageCache {
	if len(exts) == 0 {
		exts = DefaultPackageExtensions
	}
	norm := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		norm = append(norm, e)
	}
	return &PackageCache{
		roots:  normalizeFiles(roots),
		exts:   norm,
		byName: make(map[string]string),
	}
}

// Refresh rescans every root. Missing roots are skipped.
func (c *PackageCache) Refresh() error {
	found := make(map[string]string)
	for _, root := range c.roots {
		// WalkDir does not descend into a symlinked root
		walkRoot, err := filepath.EvalSymlinks(root)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if rel, rerr := filepath.Rel(walkRoot, path); rerr == nil {
				path = filepath.Join(root, rel)
			}
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			if name, ok := c.packageName(path); ok {
				if _, dup := found[name]; !dup {
					found[name] = path
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.byName = found
	c.mu.Unlock()
	return nil
}

func (c *PackageCache) packageName(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(c.exts, ext) {
		return "", false
	}
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base))), true
}

// Lookup resolves a package name. A name carrying a known extension is
// accepted too.
func (c *PackageCache) Lookup(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if n, ok := c.packageName(key); ok {
		key = n
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byName[key]
	return p, ok
}

// Add indexes path if it has a package extension.
func (c *PackageCache) Add(path string) bool {
	name, ok := c.packageName(path)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.byName[name] = normalizePath(path)
	c.mu.Unlock()
	return true
}

// Remove drops path from the index.
func (c *PackageCache) Remove(path string) {
	name, ok := c.packageName(path)
	if !ok {
		return
	}
	path = normalizePath(path)
	c.mu.Lock()
	if c.byName[name] == path {
		delete(c.byName, name)
	}
	c.mu.Unlock()
}

// Len returns the number of indexed packages.
func (c *PackageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName)
}
