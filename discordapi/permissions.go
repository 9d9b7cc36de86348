package discordapi

import (
	"context"
	"strconv"
)

// Discord permission bits used by the notifier.
const (
	permAdministrator uint64 = 1 << 3
	permViewChannel   uint64 = 1 << 10
	permSendMessages  uint64 = 1 << 11
	permEmbedLinks    uint64 = 1 << 14
	permManageRoles   uint64 = 1 << 28
)

// parsePerms decodes the API's string-encoded permission bitfield.
func parsePerms(s string) uint64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// guildPermissions computes the bot's base permission bits: the union of the
// @everyone role (whose id equals the guild id) and every role the bot holds.
func (c *Client) guildPermissions(ctx context.Context, guildID string) (uint64, error) {
	roles, err := c.GuildRoles(ctx, guildID)
	if err != nil {
		return 0, err
	}
	member, err := c.BotMember(ctx, guildID)
	if err != nil {
		return 0, err
	}
	held := make(map[string]bool, len(member.Roles)+1)
	held[guildID] = true // @everyone
	for _, r := range member.Roles {
		held[r] = true
	}
	var perms uint64
	for _, role := range roles {
		if held[role.ID] {
			perms |= parsePerms(role.Permissions)
		}
	}
	return perms, nil
}

// channelPermissions applies the channel's permission overwrites on top of the
// base bits in Discord's documented order: @everyone overwrite, then role
// overwrites aggregated, then the member overwrite. Administrator bypasses all.
func (c *Client) channelPermissions(ctx context.Context, guildID, channelID string) (uint64, error) {
	base, err := c.guildPermissions(ctx, guildID)
	if err != nil {
		return 0, err
	}
	if base&permAdministrator != 0 {
		return ^uint64(0), nil
	}
	channels, err := c.GuildChannels(ctx, guildID)
	if err != nil {
		return 0, err
	}
	var overwrites []Overwrite
	for _, ch := range channels {
		if ch.ID == channelID {
			overwrites = ch.PermissionOverwrites
			break
		}
	}
	member, err := c.BotMember(ctx, guildID)
	if err != nil {
		return 0, err
	}
	held := make(map[string]bool, len(member.Roles))
	for _, r := range member.Roles {
		held[r] = true
	}

	perms := base
	var roleAllow, roleDeny uint64
	for _, ow := range overwrites {
		switch {
		case ow.Type == 0 && ow.ID == guildID:
			perms &^= parsePerms(ow.Deny)
			perms |= parsePerms(ow.Allow)
		case ow.Type == 0 && held[ow.ID]:
			roleDeny |= parsePerms(ow.Deny)
			roleAllow |= parsePerms(ow.Allow)
		}
	}
	perms &^= roleDeny
	perms |= roleAllow
	for _, ow := range overwrites {
		if ow.Type == 1 && ow.ID == c.BotUserID {
			perms &^= parsePerms(ow.Deny)
			perms |= parsePerms(ow.Allow)
		}
	}
	return perms, nil
}
