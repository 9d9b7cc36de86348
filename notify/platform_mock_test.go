package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// mockPlatform is an in-memory Platform with per-guild fixtures.
type mockPlatform struct {
	mu sync.Mutex

	channels    map[string]bool          // guildID/channelID -> exists
	roles       map[string]bool          // guildID/roleID -> exists
	channelCaps map[string]CapabilitySet // guildID/channelID
	guildCaps   map[string]CapabilitySet // guildID
	botOrdinal  map[string]int           // guildID
	roleOrdinal map[string]int           // guildID/roleID

	sendErr   map[string]error // channelID -> forced send failure
	sent      []sentMessage
	edited    []MessageRef
	roleAdds  []string
	roleDrops []string
	nextMsgID int
}

type sentMessage struct {
	ChannelID string
	N         Notification
}

func newMockPlatform() *mockPlatform {
	return &mockPlatform{
		channels:    make(map[string]bool),
		roles:       make(map[string]bool),
		channelCaps: make(map[string]CapabilitySet),
		guildCaps:   make(map[string]CapabilitySet),
		botOrdinal:  make(map[string]int),
		roleOrdinal: make(map[string]int),
		sendErr:     make(map[string]error),
	}
}

func key(a, b string) string { return a + "/" + b }

// addChannel registers a channel the bot can post in.
func (m *mockPlatform) addChannel(guildID, channelID string, caps CapabilitySet) {
	m.channels[key(guildID, channelID)] = true
	m.channelCaps[key(guildID, channelID)] = caps
}

func (m *mockPlatform) addRole(guildID, roleID string, ordinal int) {
	m.roles[key(guildID, roleID)] = true
	m.roleOrdinal[key(guildID, roleID)] = ordinal
}

func (m *mockPlatform) SendNotification(_ context.Context, channelID string, n Notification) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendErr[channelID]; err != nil {
		return MessageRef{}, err
	}
	m.nextMsgID++
	m.sent = append(m.sent, sentMessage{ChannelID: channelID, N: n})
	return MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("msg-%d", m.nextMsgID)}, nil
}

func (m *mockPlatform) EditNotification(_ context.Context, ref MessageRef, _ Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edited = append(m.edited, ref)
	return nil
}

func (m *mockPlatform) ChannelExists(_ context.Context, guildID, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[key(guildID, channelID)], nil
}

func (m *mockPlatform) RoleExists(_ context.Context, guildID, roleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[key(guildID, roleID)], nil
}

func (m *mockPlatform) ChannelCapabilities(_ context.Context, guildID, channelID string) (CapabilitySet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	caps, ok := m.channelCaps[key(guildID, channelID)]
	if !ok {
		return 0, errors.New("unknown channel")
	}
	return caps, nil
}

func (m *mockPlatform) GuildCapabilities(_ context.Context, guildID string) (CapabilitySet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guildCaps[guildID], nil
}

func (m *mockPlatform) BotRoleOrdinal(_ context.Context, guildID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botOrdinal[guildID], nil
}

func (m *mockPlatform) RoleOrdinal(_ context.Context, guildID, roleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.roleOrdinal[key(guildID, roleID)]
	if !ok {
		return 0, errors.New("unknown role")
	}
	return ord, nil
}

func (m *mockPlatform) AddBotRole(_ context.Context, guildID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleAdds = append(m.roleAdds, key(guildID, roleID))
	return nil
}

func (m *mockPlatform) RemoveBotRole(_ context.Context, guildID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleDrops = append(m.roleDrops, key(guildID, roleID))
	return nil
}
