package imagegen

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// builtinPlaceholder is a 1x1 gray PNG, used when no placeholder directory
// is configured or it holds no readable files.
const builtinPlaceholder = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAA" +
	"DUlEQVR42mOsr6//DwAF3AJ/tOUtZAAAAABJRU5ErkJggg=="

// LoadPlaceholders fills the fallback pool from every regular file in dir.
// The pool is fixed for the process lifetime; the built-in image remains
// when the directory yields nothing.
func (d *Dispatcher) LoadPlaceholders(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading placeholder directory: %w", err)
	}

	var pool []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading placeholder %s: %w", entry.Name(), err)
		}
		pool = append(pool, base64.StdEncoding.EncodeToString(data))
	}
	if len(pool) == 0 {
		return nil
	}

	d.mu.Lock()
	d.placeholders = pool
	d.mu.Unlock()
	return nil
}
