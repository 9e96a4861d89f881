package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/promptparty/promptparty/game/engine"
)

var (
	ErrScriptNotFound = errors.New("script not found")
	ErrInvalidScript  = errors.New("invalid script")
)

// Info describes one installed script for lobby listings.
type Info struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	OpCount  int    `json:"opCount"`
}

// Manager handles game script loading and caching
type Manager struct {
	scriptDir string
	scripts   map[string][]engine.Op
	mu        sync.RWMutex
}

// NewManager creates a new script manager over a directory of .json scripts
func NewManager(scriptDir string) (*Manager, error) {
	if _, err := os.Stat(scriptDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("script directory does not exist: %s", scriptDir)
	}

	return &Manager{
		scriptDir: scriptDir,
		scripts:   make(map[string][]engine.Op),
	}, nil
}

// Load loads a script by name, parsing and caching it on first use
func (m *Manager) Load(name string) ([]engine.Op, error) {
	m.mu.RLock()
	if ops, exists := m.scripts[name]; exists {
		m.mu.RUnlock()
		return ops, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if ops, exists := m.scripts[name]; exists {
		return ops, nil
	}

	filename := name
	if !strings.HasSuffix(filename, ".json") {
		filename = name + ".json"
	}

	data, err := os.ReadFile(filepath.Join(m.scriptDir, filepath.Base(filename)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrScriptNotFound
		}
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}

	ops, err := engine.ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}

	m.scripts[name] = ops
	return ops, nil
}

// List returns information about all loadable scripts, sorted by name.
// Files that fail to parse are skipped.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.scriptDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read script directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")

		ops, err := m.Load(name)
		if err != nil {
			continue
		}

		infos = append(infos, Info{
			Name:     name,
			Filename: entry.Name(),
			OpCount:  len(ops),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// RefreshCache drops all cached scripts so the next Load re-reads disk
func (m *Manager) RefreshCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = make(map[string][]engine.Op)
}
