package worlds

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// DefaultStore persists the per-guild default world mapping. The world id
// is stored, not the full configuration, so registry edits take effect
// without touching stored defaults. An empty id means no default is set.
type DefaultStore interface {
	DefaultWorld(ctx context.Context, guildID string) (string, error)
	SetDefaultWorld(ctx context.Context, guildID, worldID string) error
}

// Resolver selects a world for a request, combining the static registry
// with per-guild stored defaults.
type Resolver struct {
	registry *Registry
	defaults DefaultStore
}

// NewResolver creates a resolver over the given registry and default
// store.
func NewResolver(registry *Registry, defaults DefaultStore) *Resolver {
	return &Resolver{
		registry: registry,
		defaults: defaults,
	}
}

// Registry returns the underlying registry.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve picks the world a request refers to. Precedence:
//
//  1. An explicit reference, matched case-insensitively against display
//     name or world id. A reference that matches nothing is an error; a
//     match owned by another guild is a scope violation.
//  2. The guild's stored default. A stale default that no longer resolves
//     falls through rather than failing the request.
//  3. The first configured world owned by the guild.
//  4. No selection: (nil, nil). The caller proceeds with whatever world
//     the server is already configured for.
//
// Every world returned is owned by the requesting guild or unowned.
func (r *Resolver) Resolve(ctx context.Context, guildID, ref string) (*WorldConfig, error) {
	if ref != "" {
		w, ok := r.registry.Lookup(ref)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
		}
		if w.OwnerGuildID != "" && w.OwnerGuildID != guildID {
			return nil, fmt.Errorf("%w: %q", ErrScopeViolation, w.DisplayName)
		}
		return &w, nil
	}

	if guildID == "" {
		return nil, nil
	}

	defaultID, err := r.defaults.DefaultWorld(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to read default world for guild %s: %w", guildID, err)
	}
	if defaultID != "" {
		w, ok := r.registry.Lookup(defaultID)
		switch {
		case !ok:
			log.Warn().
				Str("guild_id", guildID).
				Str("world_id", defaultID).
				Msg("Stored default world is no longer in the registry")
		case w.OwnerGuildID != "" && w.OwnerGuildID != guildID:
			log.Warn().
				Str("guild_id", guildID).
				Str("world_id", defaultID).
				Msg("Stored default world is owned by another guild")
		default:
			return &w, nil
		}
	}

	if w, ok := r.registry.FirstOwnedBy(guildID); ok {
		return &w, nil
	}

	return nil, nil
}

// SetDefault validates the reference and persists it as the guild's
// default. The scope check here is what keeps cross-guild defaults out of
// the store.
func (r *Resolver) SetDefault(ctx context.Context, guildID, ref string) (*WorldConfig, error) {
	if guildID == "" {
		return nil, fmt.Errorf("guild id is required")
	}

	w, ok := r.registry.Lookup(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	if w.OwnerGuildID != "" && w.OwnerGuildID != guildID {
		return nil, fmt.Errorf("%w: %q", ErrScopeViolation, w.DisplayName)
	}

	if err := r.defaults.SetDefaultWorld(ctx, guildID, w.WorldID); err != nil {
		return nil, fmt.Errorf("failed to store default world for guild %s: %w", guildID, err)
	}

	log.Info().
		Str("guild_id", guildID).
		Str("world", w.DisplayName).
		Str("world_id", w.WorldID).
		Msg("Default world updated")
	return &w, nil
}
