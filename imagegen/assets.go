package imagegen

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// assetCache loads image assets (depth templates) from disk and caches them
// as base64, keyed by their path relative to the assets directory.
type assetCache struct {
	dir string

	mu    sync.Mutex
	cache map[string]string
}

func newAssetCache(dir string) *assetCache {
	return &assetCache{dir: dir, cache: make(map[string]string)}
}

func (a *assetCache) load(path string) (string, error) {
	a.mu.Lock()
	cached, ok := a.cache[path]
	a.mu.Unlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(filepath.Join(a.dir, filepath.Clean(path)))
	if err != nil {
		return "", fmt.Errorf("loading asset %q: %w", path, err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	a.mu.Lock()
	a.cache[path] = encoded
	a.mu.Unlock()
	return encoded, nil
}
