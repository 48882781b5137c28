package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/solatis/relaykit/internal/types"
)

// Cache stores configuration documents by version.
type Cache interface {
	Read(version string) ([]byte, error)
	Write(version string, data []byte) error
	Exists(version string) bool
}

// FileCache stores each version as {dir}/{version}.json.
type FileCache struct {
	dir string
}

// NewFileCache creates a cache rooted at dir. The directory is created on
// first write.
func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

func (c *FileCache) path(version string) (string, error) {
	if version == "" || strings.ContainsAny(version, `/\`) || version == "." || version == ".." {
		return "", fmt.Errorf("invalid config version %q", version)
	}
	return filepath.Join(c.dir, version+".json"), nil
}

// Read returns the cached document, or types.ErrConfigNotCached.
func (c *FileCache) Read(version string) ([]byte, error) {
	p, err := c.path(version)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.ErrConfigNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("read cached config: %w", err)
	}
	return data, nil
}

// Write replaces the cached document atomically so a concurrent reader sees
// either the old or the new file, never a partial one.
func (c *FileCache) Write(version string, data []byte) error {
	p, err := c.path(version)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "."+version+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cached config: %w", err)
	}
	return nil
}

// Exists reports whether a document is cached for version.
func (c *FileCache) Exists(version string) bool {
	p, err := c.path(version)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}
