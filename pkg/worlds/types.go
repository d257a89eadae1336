// Package worlds owns the static world registry and the resolution rules
// that pick which world a guild's request refers to. The registry is
// loaded once from a CUE file, validated eagerly, and immutable afterward.
package worlds

import (
	"errors"
	"fmt"
	"strings"
)

// WorldConfig describes one world the server can host. Values are fixed at
// load time; callers receive copies and cannot mutate registry state.
type WorldConfig struct {
	// DisplayName is the operator-facing name players use to select the
	// world.
	DisplayName string `json:"name" validate:"required,max=64"`

	// WorldID is the identifier the game server uses for save data and
	// launch arguments.
	WorldID string `json:"world" validate:"required,max=64"`

	// Password guards the server while this world is active. The game
	// server rejects passwords shorter than five characters, so the floor
	// is enforced here before anything is persisted.
	Password string `json:"password" validate:"required,min=5"`

	// OwnerGuildID restricts the world to a single guild when set. Empty
	// means any guild may select it.
	OwnerGuildID string `json:"guild,omitempty"`

	// Overrides are opaque launch configuration overrides passed through
	// to the server.
	Overrides map[string]string `json:"overrides,omitempty"`
}

// clone returns a deep copy so registry state cannot leak through the
// Overrides map.
func (w WorldConfig) clone() WorldConfig {
	out := w
	if w.Overrides != nil {
		out.Overrides = make(map[string]string, len(w.Overrides))
		for k, v := range w.Overrides {
			out.Overrides[k] = v
		}
	}
	return out
}

// Violation describes one problem found while loading or validating world
// configuration.
type Violation struct {
	// File is the source file, when known.
	File string

	// Line and Column locate the problem in the source, when known.
	Line   int
	Column int

	// Path is the configuration path (e.g. "worlds[2]").
	Path string

	// Message describes the problem.
	Message string
}

// String formats the violation for terminal output.
func (v Violation) String() string {
	var b strings.Builder
	if v.File != "" {
		b.WriteString(v.File)
		if v.Line > 0 {
			fmt.Fprintf(&b, ":%d", v.Line)
			if v.Column > 0 {
				fmt.Fprintf(&b, ":%d", v.Column)
			}
		}
		b.WriteString(": ")
	}
	if v.Path != "" {
		fmt.Fprintf(&b, "%s: ", v.Path)
	}
	b.WriteString(v.Message)
	return b.String()
}

// LoadError aggregates every violation found in a registry file. The file
// is rejected as a whole; a registry never loads partially.
type LoadError struct {
	Violations []Violation
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("world registry invalid: %s", e.Violations[0])
	}
	return fmt.Sprintf("world registry invalid: %d problems, first: %s",
		len(e.Violations), e.Violations[0])
}

// Sentinel errors for resolution and default management.
var (
	// ErrNotFound means no world matched the given reference.
	ErrNotFound = errors.New("world not found")

	// ErrScopeViolation means the matched world belongs to another guild.
	ErrScopeViolation = errors.New("world belongs to another guild")
)

// Registry is the immutable set of configured worlds.
type Registry struct {
	worlds []WorldConfig
	byKey  map[string]int
}

// newRegistry indexes worlds by lowercased display name and world id.
// Uniqueness has already been checked by the loader.
func newRegistry(worlds []WorldConfig) *Registry {
	r := &Registry{
		worlds: worlds,
		byKey:  make(map[string]int, len(worlds)*2),
	}
	for i, w := range worlds {
		r.byKey[strings.ToLower(w.DisplayName)] = i
		r.byKey[strings.ToLower(w.WorldID)] = i
	}
	return r
}

// Len returns the number of configured worlds.
func (r *Registry) Len() int {
	return len(r.worlds)
}

// All returns a copy of every configured world in file order.
func (r *Registry) All() []WorldConfig {
	out := make([]WorldConfig, 0, len(r.worlds))
	for _, w := range r.worlds {
		out = append(out, w.clone())
	}
	return out
}

// Lookup finds a world by display name or world id, case-insensitively.
func (r *Registry) Lookup(ref string) (WorldConfig, bool) {
	i, ok := r.byKey[strings.ToLower(strings.TrimSpace(ref))]
	if !ok {
		return WorldConfig{}, false
	}
	return r.worlds[i].clone(), true
}

// FirstOwnedBy returns the first world in file order owned by the guild.
func (r *Registry) FirstOwnedBy(guildID string) (WorldConfig, bool) {
	for _, w := range r.worlds {
		if w.OwnerGuildID == guildID {
			return w.clone(), true
		}
	}
	return WorldConfig{}, false
}

// VisibleTo returns the worlds a guild may select: unowned worlds plus the
// guild's own.
func (r *Registry) VisibleTo(guildID string) []WorldConfig {
	var out []WorldConfig
	for _, w := range r.worlds {
		if w.OwnerGuildID == "" || w.OwnerGuildID == guildID {
			out = append(out, w.clone())
		}
	}
	return out
}
