package params

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dardin-dale/huginbot-sub000/pkg/worlds"
)

// SetActiveWorld records which world the server is being started with.
// The snapshot is last-write-wins; a later start simply replaces it.
func (s *Store) SetActiveWorld(ctx context.Context, guildID string, w worlds.WorldConfig) error {
	record := ActiveWorld{
		GuildID:   guildID,
		World:     w,
		UpdatedAt: time.Now().UTC(),
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode active world: %w", err)
	}

	// The snapshot carries the world password, so it is sealed at rest.
	return s.putValue(ctx, keyActiveWorld, value, true, nil)
}

// ActiveWorld returns the most recently recorded world snapshot, or
// ErrNotFound when the server has never been started.
func (s *Store) ActiveWorld(ctx context.Context) (*ActiveWorld, error) {
	value, err := s.getValue(ctx, keyActiveWorld)
	if err != nil {
		return nil, err
	}

	record := &ActiveWorld{}
	if err := json.Unmarshal(value, record); err != nil {
		return nil, fmt.Errorf("failed to decode active world: %w", err)
	}

	return record, nil
}

// SetDefaultWorld stores a guild's preferred world id. An empty world id
// clears the preference.
func (s *Store) SetDefaultWorld(ctx context.Context, guildID, worldID string) error {
	if guildID == "" {
		return fmt.Errorf("guild id is required")
	}

	if worldID == "" {
		return s.deleteValue(ctx, defaultWorldKey(guildID))
	}

	return s.putValue(ctx, defaultWorldKey(guildID), []byte(worldID), false, nil)
}

// DefaultWorld returns a guild's preferred world id, or the empty string
// when the guild has none.
func (s *Store) DefaultWorld(ctx context.Context, guildID string) (string, error) {
	value, err := s.getValue(ctx, defaultWorldKey(guildID))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return string(value), nil
}

// IssueJoinCode stores a fresh join code. The code expires JoinCodeTTL
// after issue and reads as absent from then on.
func (s *Store) IssueJoinCode(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("join code is required")
	}

	now := time.Now().UTC()
	record := JoinCode{Code: code, IssuedAt: now}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode join code: %w", err)
	}

	expiresAt := now.Add(JoinCodeTTL)
	return s.putValue(ctx, keyJoinCode, value, true, &expiresAt)
}

// CurrentJoinCode returns the live join code, or ErrNotFound once it has
// expired or been cleared.
func (s *Store) CurrentJoinCode(ctx context.Context) (*JoinCode, error) {
	value, err := s.getValue(ctx, keyJoinCode)
	if err != nil {
		return nil, err
	}

	record := &JoinCode{}
	if err := json.Unmarshal(value, record); err != nil {
		return nil, fmt.Errorf("failed to decode join code: %w", err)
	}

	return record, nil
}

// ClearJoinCode removes any stored join code. Clearing when none is
// stored is a no-op.
func (s *Store) ClearJoinCode(ctx context.Context) error {
	return s.deleteValue(ctx, keyJoinCode)
}

// BindWebhook points a guild's notifications at the given endpoint URL.
func (s *Store) BindWebhook(ctx context.Context, guildID, url, boundBy string) error {
	if guildID == "" {
		return fmt.Errorf("guild id is required")
	}
	if url == "" {
		return fmt.Errorf("webhook url is required")
	}

	record := WebhookBinding{
		GuildID: guildID,
		URL:     url,
		BoundBy: boundBy,
		BoundAt: time.Now().UTC(),
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode webhook binding: %w", err)
	}

	// The URL grants post access to the channel behind it, so it is
	// sealed at rest.
	return s.putValue(ctx, webhookKey(guildID), value, true, nil)
}

// Webhook returns the endpoint bound to a guild, or ErrNotFound when the
// guild never bound one.
func (s *Store) Webhook(ctx context.Context, guildID string) (*WebhookBinding, error) {
	value, err := s.getValue(ctx, webhookKey(guildID))
	if err != nil {
		return nil, err
	}

	record := &WebhookBinding{}
	if err := json.Unmarshal(value, record); err != nil {
		return nil, fmt.Errorf("failed to decode webhook binding: %w", err)
	}

	return record, nil
}

// UnbindWebhook removes a guild's endpoint binding.
func (s *Store) UnbindWebhook(ctx context.Context, guildID string) error {
	return s.deleteValue(ctx, webhookKey(guildID))
}

// MarkStopNotice records when a stop notification was last delivered for
// a guild. The dispatcher reads it back to suppress duplicates across
// process restarts.
func (s *Store) MarkStopNotice(ctx context.Context, guildID string, at time.Time) error {
	if guildID == "" {
		return fmt.Errorf("guild id is required")
	}

	return s.putValue(ctx, stopNoticeKey(guildID), []byte(at.UTC().Format(time.RFC3339Nano)), false, nil)
}

// LastStopNotice returns the delivery time of the most recent stop
// notification for a guild, or ErrNotFound when none was ever sent.
func (s *Store) LastStopNotice(ctx context.Context, guildID string) (time.Time, error) {
	value, err := s.getValue(ctx, stopNoticeKey(guildID))
	if err != nil {
		return time.Time{}, err
	}

	at, err := time.Parse(time.RFC3339Nano, string(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode stop notice watermark: %w", err)
	}

	return at, nil
}
