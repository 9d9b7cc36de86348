package discordapi

import (
	"context"
	"fmt"
	"time"

	"github.com/thedrkness/livebot/notify"
)

// The Client implements notify.Platform, translating the platform-neutral
// capability set and notification payload into Discord's encoding.
var _ notify.Platform = (*Client)(nil)

// SendNotification renders and posts the notification to a channel.
func (c *Client) SendNotification(ctx context.Context, channelID string, n notify.Notification) (notify.MessageRef, error) {
	msg, err := c.CreateMessage(ctx, channelID, buildPayload(n))
	if err != nil {
		return notify.MessageRef{}, err
	}
	return notify.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

// EditNotification rewrites a previously sent notification in place.
func (c *Client) EditNotification(ctx context.Context, ref notify.MessageRef, n notify.Notification) error {
	return c.EditMessage(ctx, ref.ChannelID, ref.MessageID, buildPayload(n))
}

// ChannelExists reports whether the channel is still present in the guild.
func (c *Client) ChannelExists(ctx context.Context, guildID, channelID string) (bool, error) {
	channels, err := c.GuildChannels(ctx, guildID)
	if err != nil {
		return false, err
	}
	for _, ch := range channels {
		if ch.ID == channelID {
			return true, nil
		}
	}
	return false, nil
}

// RoleExists reports whether the role is still present in the guild.
func (c *Client) RoleExists(ctx context.Context, guildID, roleID string) (bool, error) {
	roles, err := c.GuildRoles(ctx, guildID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if r.ID == roleID {
			return true, nil
		}
	}
	return false, nil
}

// ChannelCapabilities translates the bot's effective channel permissions into
// the abstract capability set.
func (c *Client) ChannelCapabilities(ctx context.Context, guildID, channelID string) (notify.CapabilitySet, error) {
	perms, err := c.channelPermissions(ctx, guildID, channelID)
	if err != nil {
		return 0, err
	}
	return toCapabilitySet(perms), nil
}

// GuildCapabilities translates the bot's guild-wide permissions.
func (c *Client) GuildCapabilities(ctx context.Context, guildID string) (notify.CapabilitySet, error) {
	perms, err := c.guildPermissions(ctx, guildID)
	if err != nil {
		return 0, err
	}
	if perms&permAdministrator != 0 {
		perms = ^uint64(0)
	}
	return toCapabilitySet(perms), nil
}

// BotRoleOrdinal returns the position of the bot's highest role.
func (c *Client) BotRoleOrdinal(ctx context.Context, guildID string) (int, error) {
	roles, err := c.GuildRoles(ctx, guildID)
	if err != nil {
		return 0, err
	}
	member, err := c.BotMember(ctx, guildID)
	if err != nil {
		return 0, err
	}
	held := make(map[string]bool, len(member.Roles))
	for _, r := range member.Roles {
		held[r] = true
	}
	highest := 0
	for _, role := range roles {
		if held[role.ID] && role.Position > highest {
			highest = role.Position
		}
	}
	return highest, nil
}

// RoleOrdinal returns the hierarchy position of a role.
func (c *Client) RoleOrdinal(ctx context.Context, guildID, roleID string) (int, error) {
	roles, err := c.GuildRoles(ctx, guildID)
	if err != nil {
		return 0, err
	}
	for _, role := range roles {
		if role.ID == roleID {
			return role.Position, nil
		}
	}
	return 0, fmt.Errorf("role %s not found", roleID)
}

func toCapabilitySet(perms uint64) notify.CapabilitySet {
	var caps notify.CapabilitySet
	if perms&permViewChannel != 0 {
		caps |= notify.CapViewChannel
	}
	if perms&permSendMessages != 0 {
		caps |= notify.CapSendMessages
	}
	if perms&permEmbedLinks != 0 {
		caps |= notify.CapEmbedLinks
	}
	if perms&permManageRoles != 0 {
		caps |= notify.CapManageRoles
	}
	return caps
}

// buildPayload converts the neutral notification into a Discord message:
// mention + body as content, the details as an embed, the action link as a
// button row.
func buildPayload(n notify.Notification) MessagePayload {
	content := n.Body
	if n.MentionRoleID != "" {
		content = fmt.Sprintf("<@&%s> %s", n.MentionRoleID, n.Body)
	}
	embed := Embed{
		Title: n.Title,
		Color: n.Color,
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if n.ImageURL != "" {
		embed.Image = &EmbedMedia{URL: n.ImageURL}
	}
	if n.ThumbnailURL != "" {
		embed.Thumbnail = &EmbedMedia{URL: n.ThumbnailURL}
	}
	if !n.Timestamp.IsZero() {
		embed.Timestamp = n.Timestamp.UTC().Format(time.RFC3339)
	}
	payload := MessagePayload{Content: content, Embeds: []Embed{embed}}
	if n.LinkURL != "" {
		payload.Components = []ActionRow{{
			Type:       1,
			Components: []Button{{Type: 2, Style: 5, Label: n.LinkLabel, URL: n.LinkURL}},
		}}
	}
	return payload
}
