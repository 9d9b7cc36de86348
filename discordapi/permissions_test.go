package discordapi

import (
	"context"
	"strconv"
	"testing"

	"github.com/thedrkness/livebot/notify"
	"github.com/thedrkness/livebot/testutil"
)

func perms(bits ...uint64) string {
	var v uint64
	for _, b := range bits {
		v |= b
	}
	return strconv.FormatUint(v, 10)
}

// guildFixture wires a one-channel guild into the mock server.
type guildFixture struct {
	guildID   string
	channelID string

	everyonePerms string
	botRolePerms  string
	botRoles      []string
	overwrites    []Overwrite
	rolePositions map[string]int
}

func (g guildFixture) install(m *testutil.MockDiscordServer, botUserID string) {
	roles := []Role{
		{ID: g.guildID, Name: "@everyone", Position: 0, Permissions: g.everyonePerms},
	}
	for _, id := range g.botRoles {
		pos := g.rolePositions[id]
		roles = append(roles, Role{ID: id, Name: "role-" + id, Position: pos, Permissions: g.botRolePerms})
	}
	for id, pos := range g.rolePositions {
		found := false
		for _, r := range roles {
			if r.ID == id {
				found = true
				break
			}
		}
		if !found {
			roles = append(roles, Role{ID: id, Name: "role-" + id, Position: pos})
		}
	}
	m.MockJSON("/guilds/"+g.guildID+"/roles", roles)
	m.MockJSON("/guilds/"+g.guildID+"/channels", []Channel{
		{ID: g.channelID, GuildID: g.guildID, Name: "general", PermissionOverwrites: g.overwrites},
	})
	member := Member{Roles: g.botRoles}
	member.User.ID = botUserID
	m.MockJSON("/guilds/"+g.guildID+"/members/"+botUserID, member)
}

func newTestClient(t *testing.T, fixtures ...guildFixture) *Client {
	t.Helper()
	m := testutil.NewMockDiscordServer(t)
	c := &Client{Token: "t", BotUserID: "bot-1", BaseURL: m.URL}
	for _, f := range fixtures {
		f.install(m, c.BotUserID)
	}
	return c
}

func TestChannelCapabilitiesFromRoleUnion(t *testing.T) {
	c := newTestClient(t, guildFixture{
		guildID:       "g1",
		channelID:     "c1",
		everyonePerms: perms(permViewChannel),
		botRolePerms:  perms(permSendMessages, permEmbedLinks),
		botRoles:      []string{"r1"},
	})

	caps, err := c.ChannelCapabilities(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	want := notify.CapViewChannel | notify.CapSendMessages | notify.CapEmbedLinks
	if caps != want {
		t.Errorf("got caps %b, want %b", caps, want)
	}
}

func TestChannelOverwriteDeniesSend(t *testing.T) {
	c := newTestClient(t, guildFixture{
		guildID:       "g1",
		channelID:     "c1",
		everyonePerms: perms(permViewChannel, permSendMessages),
		overwrites: []Overwrite{
			{ID: "g1", Type: 0, Deny: perms(permSendMessages)},
		},
	})

	caps, err := c.ChannelCapabilities(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if caps.Has(notify.CapSendMessages) {
		t.Error("channel overwrite should deny send")
	}
	if !caps.Has(notify.CapViewChannel) {
		t.Error("view should survive the overwrite")
	}
}

func TestMemberOverwriteWinsOverRoleDeny(t *testing.T) {
	c := newTestClient(t, guildFixture{
		guildID:       "g1",
		channelID:     "c1",
		everyonePerms: perms(permViewChannel),
		botRolePerms:  perms(permSendMessages),
		botRoles:      []string{"r1"},
		overwrites: []Overwrite{
			{ID: "r1", Type: 0, Deny: perms(permSendMessages)},
			{ID: "bot-1", Type: 1, Allow: perms(permSendMessages)},
		},
	})

	caps, err := c.ChannelCapabilities(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if !caps.Has(notify.CapSendMessages) {
		t.Error("member overwrite must override the role deny")
	}
}

func TestAdministratorBypassesOverwrites(t *testing.T) {
	c := newTestClient(t, guildFixture{
		guildID:       "g1",
		channelID:     "c1",
		everyonePerms: perms(permAdministrator),
		overwrites: []Overwrite{
			{ID: "g1", Type: 0, Deny: perms(permViewChannel, permSendMessages)},
		},
	})

	caps, err := c.ChannelCapabilities(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if !caps.Has(notify.CapViewChannel | notify.CapSendMessages | notify.CapManageRoles) {
		t.Errorf("administrator must hold everything, got %b", caps)
	}
}

func TestBotRoleOrdinalIsHighestHeld(t *testing.T) {
	c := newTestClient(t, guildFixture{
		guildID:       "g1",
		channelID:     "c1",
		everyonePerms: "0",
		botRoles:      []string{"r-low", "r-high"},
		rolePositions: map[string]int{"r-low": 2, "r-high": 7, "r-other": 9},
	})

	ord, err := c.BotRoleOrdinal(context.Background(), "g1")
	if err != nil {
		t.Fatalf("ordinal: %v", err)
	}
	if ord != 7 {
		t.Errorf("expected highest held position 7, got %d", ord)
	}

	other, err := c.RoleOrdinal(context.Background(), "g1", "r-other")
	if err != nil {
		t.Fatalf("role ordinal: %v", err)
	}
	if other != 9 {
		t.Errorf("expected 9, got %d", other)
	}
	if _, err := c.RoleOrdinal(context.Background(), "g1", "missing"); err == nil {
		t.Error("unknown role must error")
	}
}

func TestChannelAndRoleExistence(t *testing.T) {
	c := newTestClient(t, guildFixture{
		guildID:       "g1",
		channelID:     "c1",
		everyonePerms: "0",
		rolePositions: map[string]int{"r1": 1},
	})
	ctx := context.Background()

	if ok, err := c.ChannelExists(ctx, "g1", "c1"); err != nil || !ok {
		t.Errorf("expected channel to exist, got %v %v", ok, err)
	}
	if ok, _ := c.ChannelExists(ctx, "g1", "c-gone"); ok {
		t.Error("missing channel reported as existing")
	}
	if ok, err := c.RoleExists(ctx, "g1", "r1"); err != nil || !ok {
		t.Errorf("expected role to exist, got %v %v", ok, err)
	}
	if ok, _ := c.RoleExists(ctx, "g1", "r-gone"); ok {
		t.Error("missing role reported as existing")
	}
}
