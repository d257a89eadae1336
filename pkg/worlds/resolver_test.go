package worlds

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeDefaults is an in-memory DefaultStore.
type fakeDefaults struct {
	m       map[string]string
	readErr error
}

func newFakeDefaults() *fakeDefaults {
	return &fakeDefaults{m: make(map[string]string)}
}

func (f *fakeDefaults) DefaultWorld(ctx context.Context, guildID string) (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	return f.m[guildID], nil
}

func (f *fakeDefaults) SetDefaultWorld(ctx context.Context, guildID, worldID string) error {
	f.m[guildID] = worldID
	return nil
}

func newTestResolver(t *testing.T) (*Resolver, *fakeDefaults) {
	t.Helper()
	defaults := newFakeDefaults()
	return NewResolver(loadTestRegistry(t), defaults), defaults
}

func TestResolveExplicit(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	w, err := r.Resolve(ctx, "guildA", "midgard")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if w == nil || w.DisplayName != "Midgard" {
		t.Fatalf("Resolve() = %+v, want Midgard", w)
	}

	// Unowned worlds are selectable by anyone, including guild-less requests.
	w, err = r.Resolve(ctx, "", "commons")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if w == nil || w.DisplayName != "Commons" {
		t.Fatalf("Resolve() = %+v, want Commons", w)
	}
}

func TestResolveExplicitByWorldID(t *testing.T) {
	r, _ := newTestResolver(t)

	w, err := r.Resolve(context.Background(), "guildB", "ASGARD_PVP")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if w == nil || w.DisplayName != "Asgard" {
		t.Fatalf("Resolve() = %+v, want Asgard", w)
	}
}

func TestResolveExplicitNotFound(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.Resolve(context.Background(), "guildA", "Jotunheim")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve() error = %v, want ErrNotFound", err)
	}
}

func TestResolveExplicitScopeViolation(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.Resolve(context.Background(), "guildB", "Midgard")
	if !errors.Is(err, ErrScopeViolation) {
		t.Errorf("Resolve() error = %v, want ErrScopeViolation", err)
	}
}

func TestResolveDefaultBeatsOwnedFirst(t *testing.T) {
	r, defaults := newTestResolver(t)
	defaults.m["guildA"] = "commons"

	w, err := r.Resolve(context.Background(), "guildA", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if w == nil || w.DisplayName != "Commons" {
		t.Fatalf("Resolve() = %+v, want Commons (stored default)", w)
	}
}

func TestResolveStaleDefaultFallsThrough(t *testing.T) {
	r, defaults := newTestResolver(t)
	defaults.m["guildA"] = "vanished_world"

	w, err := r.Resolve(context.Background(), "guildA", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if w == nil || w.DisplayName != "Midgard" {
		t.Fatalf("Resolve() = %+v, want Midgard (first owned)", w)
	}
}

func TestResolveForeignDefaultFallsThrough(t *testing.T) {
	r, defaults := newTestResolver(t)
	// A default pointing at another guild's world cannot be stored through
	// SetDefault; simulate a corrupted record.
	defaults.m["guildA"] = "asgard_pvp"

	w, err := r.Resolve(context.Background(), "guildA", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if w == nil || w.DisplayName != "Midgard" {
		t.Fatalf("Resolve() = %+v, want Midgard", w)
	}
}

func TestResolveOwnedFirst(t *testing.T) {
	r, _ := newTestResolver(t)

	w, err := r.Resolve(context.Background(), "guildB", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if w == nil || w.DisplayName != "Asgard" {
		t.Fatalf("Resolve() = %+v, want Asgard", w)
	}
}

func TestResolveNone(t *testing.T) {
	r, _ := newTestResolver(t)

	// guildC owns nothing and has no default.
	w, err := r.Resolve(context.Background(), "guildC", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if w != nil {
		t.Fatalf("Resolve() = %+v, want nil", w)
	}

	// No guild, no reference.
	w, err = r.Resolve(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if w != nil {
		t.Fatalf("Resolve() = %+v, want nil", w)
	}
}

func TestResolveDefaultStoreError(t *testing.T) {
	r, defaults := newTestResolver(t)
	defaults.readErr = fmt.Errorf("store offline")

	_, err := r.Resolve(context.Background(), "guildA", "")
	if err == nil {
		t.Fatal("Resolve() error = nil, want store error")
	}
}

func TestSetDefaultRoundTrip(t *testing.T) {
	r, defaults := newTestResolver(t)
	ctx := context.Background()

	w, err := r.SetDefault(ctx, "guildA", "Commons")
	if err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}
	if w.WorldID != "commons" {
		t.Errorf("SetDefault() world id = %q, want commons", w.WorldID)
	}
	if defaults.m["guildA"] != "commons" {
		t.Errorf("stored default = %q, want commons", defaults.m["guildA"])
	}

	resolved, err := r.Resolve(ctx, "guildA", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved == nil || resolved.DisplayName != "Commons" {
		t.Fatalf("Resolve() after SetDefault = %+v, want Commons", resolved)
	}
}

func TestSetDefaultErrors(t *testing.T) {
	r, defaults := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.SetDefault(ctx, "guildA", "Jotunheim"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetDefault(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := r.SetDefault(ctx, "guildB", "Midgard"); !errors.Is(err, ErrScopeViolation) {
		t.Errorf("SetDefault(foreign) error = %v, want ErrScopeViolation", err)
	}
	if _, err := r.SetDefault(ctx, "", "Midgard"); err == nil {
		t.Error("SetDefault(no guild) error = nil, want error")
	}
	if len(defaults.m) != 0 {
		t.Errorf("failed SetDefault wrote to store: %v", defaults.m)
	}
}

func TestScopeInvariant(t *testing.T) {
	r, defaults := newTestResolver(t)
	ctx := context.Background()

	guilds := []string{"guildA", "guildB", "guildC", ""}
	refs := []string{"", "Midgard", "Asgard", "Commons", "midgard_main", "asgard_pvp", "nope"}

	for _, guild := range guilds {
		for _, ref := range refs {
			w, err := r.Resolve(ctx, guild, ref)
			if err != nil || w == nil {
				continue
			}
			if w.OwnerGuildID != "" && w.OwnerGuildID != guild {
				t.Errorf("Resolve(%q, %q) returned world owned by %q", guild, ref, w.OwnerGuildID)
			}
		}
	}

	// The invariant holds with stored defaults in play as well.
	defaults.m["guildA"] = "asgard_pvp"
	defaults.m["guildB"] = "asgard_pvp"
	for _, guild := range guilds {
		w, err := r.Resolve(ctx, guild, "")
		if err != nil || w == nil {
			continue
		}
		if w.OwnerGuildID != "" && w.OwnerGuildID != guild {
			t.Errorf("Resolve(%q, default) returned world owned by %q", guild, w.OwnerGuildID)
		}
	}
}
