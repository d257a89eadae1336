package params

import (
	"errors"
	"time"

	"github.com/Dardin-dale/huginbot-sub000/pkg/worlds"
)

// ErrNotFound is returned when a parameter is absent or has expired.
var ErrNotFound = errors.New("parameter not found")

// JoinCodeTTL bounds how long an issued join code stays readable.
const JoinCodeTTL = time.Hour

// Parameter names. Guild-scoped records append the guild id to a fixed
// prefix so every record lives in one flat namespace.
const (
	keyActiveWorld = "active-world"
	keyJoinCode    = "join-code"

	prefixDefaultWorld = "default-world/"
	prefixWebhook      = "webhook/"
	prefixStopNotice   = "stop-notice/"
)

// ActiveWorld is the snapshot of the world the server was last started
// with. It is written on every accepted start and only ever replaced by
// the next one, never rolled back.
type ActiveWorld struct {
	GuildID   string             `json:"guild_id,omitempty"`
	World     worlds.WorldConfig `json:"world"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// JoinCode is a short-lived code players use to reach a freshly started
// server.
type JoinCode struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

// WebhookBinding ties a guild to the endpoint its notifications are
// delivered to.
type WebhookBinding struct {
	GuildID string    `json:"guild_id"`
	URL     string    `json:"url"`
	BoundBy string    `json:"bound_by,omitempty"`
	BoundAt time.Time `json:"bound_at"`
}

func defaultWorldKey(guildID string) string { return prefixDefaultWorld + guildID }
func webhookKey(guildID string) string      { return prefixWebhook + guildID }
func stopNoticeKey(guildID string) string   { return prefixStopNotice + guildID }
