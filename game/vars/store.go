package vars

import (
	"errors"
	"strings"
)

// Key prefixes. A single sentinel routes to the global tier, a doubled
// sentinel to the per-player tier.
const (
	GlobalPrefix = "@"
	LocalPrefix  = "@@"
)

var (
	// ErrMalformedKey is reported for keys that carry neither prefix.
	ErrMalformedKey = errors.New("variable key must start with @ or @@")
	// ErrNoLocalContext is reported for local keys outside a per-player block.
	ErrNoLocalContext = errors.New("no per-player context for local variable")
)

// Scope pairs the two variable tiers for one executing cursor. Local is nil
// when the cursor is not scoped to a specific player.
type Scope struct {
	Global map[string]Value
	Local  map[string]Value
}

func (s Scope) route(key string) (map[string]Value, error) {
	if strings.HasPrefix(key, LocalPrefix) {
		if s.Local == nil {
			return nil, ErrNoLocalContext
		}
		return s.Local, nil
	}
	if strings.HasPrefix(key, GlobalPrefix) {
		return s.Global, nil
	}
	return nil, ErrMalformedKey
}

// Set writes a variable, routed by key prefix. A malformed key or a local
// write without a per-player context is an error and has no effect.
func (s Scope) Set(key string, v Value) error {
	tier, err := s.route(key)
	if err != nil {
		return err
	}
	tier[key] = v
	return nil
}

// Get reads a variable, routed by key prefix.
func (s Scope) Get(key string) (Value, bool) {
	tier, err := s.route(key)
	if err != nil {
		return Value{}, false
	}
	v, ok := tier[key]
	return v, ok
}

// Exists reports whether the key is present in the targeted tier.
func (s Scope) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Delete removes a variable. Deleting a missing key succeeds silently.
func (s Scope) Delete(key string) error {
	tier, err := s.route(key)
	if err != nil {
		return err
	}
	delete(tier, key)
	return nil
}
