package notify

import (
	"context"
	"log/slog"
)

// requiredNotifyCaps is what the bot must hold in a channel before posting.
var requiredNotifyCaps = CapViewChannel | CapSendMessages

// Guard evaluates whether the bot may act in a guild or channel. All methods
// are pure queries; lookup failures (deleted channel, missing role) resolve to
// false so fan-out can continue for other recipients.
type Guard struct {
	platform Platform
}

func NewGuard(p Platform) *Guard {
	return &Guard{platform: p}
}

// CanNotify reports whether the bot can view and send in the target channel.
func (g *Guard) CanNotify(ctx context.Context, guildID, channelID string) bool {
	caps, err := g.platform.ChannelCapabilities(ctx, guildID, channelID)
	if err != nil {
		slog.Debug("capability lookup failed", slog.String("guild_id", guildID), slog.String("channel_id", channelID), slog.Any("err", err))
		return false
	}
	return caps.Has(requiredNotifyCaps)
}

// HasManageRoles reports whether the bot may manage roles guild-wide.
func (g *Guard) HasManageRoles(ctx context.Context, guildID string) bool {
	caps, err := g.platform.GuildCapabilities(ctx, guildID)
	if err != nil {
		slog.Debug("guild capability lookup failed", slog.String("guild_id", guildID), slog.Any("err", err))
		return false
	}
	return caps.Has(CapManageRoles)
}

// CanRaise reports whether the bot's highest role outranks the target role.
// Role updates on roles at or above the bot's own position are rejected by the
// platform, so they are skipped up front.
func (g *Guard) CanRaise(ctx context.Context, guildID, roleID string) bool {
	botOrdinal, err := g.platform.BotRoleOrdinal(ctx, guildID)
	if err != nil {
		return false
	}
	targetOrdinal, err := g.platform.RoleOrdinal(ctx, guildID, roleID)
	if err != nil {
		return false
	}
	return botOrdinal > targetOrdinal
}
