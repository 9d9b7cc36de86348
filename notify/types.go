// Package notify implements the notification fan-out core: permission guarding,
// per-recipient message tracking, rendering, and isolated delivery across every
// subscribed guild. It is platform-neutral; the Discord specifics live behind
// the Platform interface.
package notify

import (
	"context"
	"time"
)

// CapabilitySet is an abstract capability bitset. The platform adapter
// translates its native permission encoding into these bits.
type CapabilitySet uint32

const (
	CapViewChannel CapabilitySet = 1 << iota
	CapSendMessages
	CapEmbedLinks
	CapManageRoles
)

// Has reports whether every required capability is granted.
func (s CapabilitySet) Has(required CapabilitySet) bool {
	return s&required == required
}

// MessageRef identifies a previously sent notification for later edits.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Notification is the rendered outbound payload, platform-neutral: a title,
// body fields, imagery, one action link, and an optional role mention.
type Notification struct {
	Title         string
	Body          string
	Fields        []Field
	ImageURL      string
	ThumbnailURL  string
	LinkLabel     string
	LinkURL       string
	MentionRoleID string
	Color         int
	Timestamp     time.Time
}

// Field is one labeled value inside a notification.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Platform is the outbound surface the fan-out needs from the chat platform.
// Query methods must not mutate; mutation is limited to message delivery and
// the bot's own presence role.
type Platform interface {
	SendNotification(ctx context.Context, channelID string, n Notification) (MessageRef, error)
	EditNotification(ctx context.Context, ref MessageRef, n Notification) error

	ChannelExists(ctx context.Context, guildID, channelID string) (bool, error)
	RoleExists(ctx context.Context, guildID, roleID string) (bool, error)

	ChannelCapabilities(ctx context.Context, guildID, channelID string) (CapabilitySet, error)
	GuildCapabilities(ctx context.Context, guildID string) (CapabilitySet, error)

	// BotRoleOrdinal returns the hierarchy position of the bot's highest role;
	// RoleOrdinal the position of an arbitrary role. Higher outranks lower.
	BotRoleOrdinal(ctx context.Context, guildID string) (int, error)
	RoleOrdinal(ctx context.Context, guildID, roleID string) (int, error)

	AddBotRole(ctx context.Context, guildID, roleID string) error
	RemoveBotRole(ctx context.Context, guildID, roleID string) error
}

// Kind selects the notification template.
type Kind string

const (
	KindOnline  Kind = "online"
	KindOffline Kind = "offline"
)

// OnlineInfo is the resolved metadata for a confirmed online transition.
// Assembled by the stream resolver, consumed only for rendering.
type OnlineInfo struct {
	StreamID     string
	Title        string
	Category     string
	ThumbnailURL string
	ProfileURL   string
	Username     string
	ChannelURL   string
	StartedAt    time.Time
}

// OfflineInfo is the resolved metadata for a confirmed offline transition.
// HasVod selects the richer or degraded template.
type OfflineInfo struct {
	StreamID     string
	Title        string
	VodURL       string
	Duration     string
	ThumbnailURL string
	ProfileURL   string
	Username     string
	HasVod       bool
	EndedAt      time.Time
}
