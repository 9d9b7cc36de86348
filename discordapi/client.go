// Package discordapi contains a minimal Discord REST client covering what the
// notifier needs: posting and editing channel messages, reading guild entities,
// and managing the bot's own roles.
package discordapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultBaseURL = "https://discord.com/api/v10"

// entity cache TTL; guild layouts change rarely relative to fan-out frequency.
const cacheTTL = 30 * time.Second

// Client is a minimal Discord REST client authenticated as a bot.
type Client struct {
	Token      string
	BotUserID  string
	BaseURL    string // override for tests; defaults to the public API
	HTTPClient *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// Channel is a guild channel as returned by the API.
type Channel struct {
	ID                   string      `json:"id"`
	GuildID              string      `json:"guild_id"`
	Name                 string      `json:"name"`
	Type                 int         `json:"type"`
	PermissionOverwrites []Overwrite `json:"permission_overwrites"`
}

// Overwrite is a channel-level permission overwrite for a role or member.
type Overwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"` // 0 = role, 1 = member
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

// Role is a guild role. Position is the hierarchy ordinal; higher outranks lower.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Permissions string `json:"permissions"`
}

// Member is a guild member with its role ids.
type Member struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Roles []string `json:"roles"`
}

// Message is the handle returned when a message is created.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// MessagePayload is the outbound message body: content plus embeds and a
// button row rendered from the notification.
type MessagePayload struct {
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []ActionRow `json:"components,omitempty"`
}

type Embed struct {
	Title     string       `json:"title,omitempty"`
	Color     int          `json:"color,omitempty"`
	Fields    []EmbedField `json:"fields,omitempty"`
	Image     *EmbedMedia  `json:"image,omitempty"`
	Thumbnail *EmbedMedia  `json:"thumbnail,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedMedia struct {
	URL string `json:"url"`
}

// ActionRow holds link buttons (component type 1 wrapping type 2 style 5).
type ActionRow struct {
	Type       int      `json:"type"`
	Components []Button `json:"components"`
}

type Button struct {
	Type  int    `json:"type"`
	Style int    `json:"style"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// do performs an authorized request and decodes the response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord %s %s: %s: %s", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateMessage posts a message to a channel and returns its handle.
func (c *Client) CreateMessage(ctx context.Context, channelID string, payload MessagePayload) (Message, error) {
	var msg Message
	err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", payload, &msg)
	return msg, err
}

// EditMessage rewrites a previously sent message in place.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, payload MessagePayload) error {
	return c.do(ctx, http.MethodPatch, "/channels/"+channelID+"/messages/"+messageID, payload, nil)
}

// GuildChannels lists a guild's channels (cached briefly).
func (c *Client) GuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	key := "channels:" + guildID
	if v, ok := c.cached(key); ok {
		return v.([]Channel), nil
	}
	var channels []Channel
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/channels", nil, &channels); err != nil {
		return nil, err
	}
	c.store(key, channels)
	return channels, nil
}

// GuildRoles lists a guild's roles (cached briefly).
func (c *Client) GuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	key := "roles:" + guildID
	if v, ok := c.cached(key); ok {
		return v.([]Role), nil
	}
	var roles []Role
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/roles", nil, &roles); err != nil {
		return nil, err
	}
	c.store(key, roles)
	return roles, nil
}

// BotMember returns the bot's own membership in the guild (cached briefly).
func (c *Client) BotMember(ctx context.Context, guildID string) (Member, error) {
	key := "member:" + guildID
	if v, ok := c.cached(key); ok {
		return v.(Member), nil
	}
	var member Member
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/members/"+c.BotUserID, nil, &member); err != nil {
		return Member{}, err
	}
	c.store(key, member)
	return member, nil
}

// AddBotRole adds a role to the bot's own account.
func (c *Client) AddBotRole(ctx context.Context, guildID, roleID string) error {
	err := c.do(ctx, http.MethodPut, "/guilds/"+guildID+"/members/"+c.BotUserID+"/roles/"+roleID, nil, nil)
	if err == nil {
		c.invalidate("member:" + guildID)
	}
	return err
}

// RemoveBotRole removes a role from the bot's own account.
func (c *Client) RemoveBotRole(ctx context.Context, guildID, roleID string) error {
	err := c.do(ctx, http.MethodDelete, "/guilds/"+guildID+"/members/"+c.BotUserID+"/roles/"+roleID, nil, nil)
	if err == nil {
		c.invalidate("member:" + guildID)
	}
	return err
}

func (c *Client) cached(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *Client) store(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		c.cache = make(map[string]cacheEntry)
	}
	c.cache[key] = cacheEntry{value: value, expires: time.Now().Add(cacheTTL)}
}

func (c *Client) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, key)
}
