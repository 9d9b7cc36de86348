// Package chat mirrors notifications into the watched channel's own Twitch
// chat, so viewers already in chat see the live/offline transitions too.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/thedrkness/livebot/config"
	"github.com/thedrkness/livebot/notify"
)

// sayer is the IRC write surface, satisfied by *twitch.Client.
type sayer interface {
	Say(channel, text string)
}

// Announcer posts announcement lines to the watched channel's chat. A zero
// or disabled Announcer ignores every call, so callers never have to guard.
type Announcer struct {
	mu      sync.Mutex
	client  sayer
	channel string
	enabled bool
}

// StartAnnouncer connects to Twitch chat if bot credentials are configured.
// Without credentials it returns a disabled announcer and logs once.
func StartAnnouncer(ctx context.Context, cfg config.Config) *Announcer {
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("twitch chat creds not set; chat announcements disabled", slog.Any("reason", err))
		return &Announcer{}
	}

	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
	a := &Announcer{client: client, channel: cfg.TwitchChannelLogin, enabled: true}

	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("channel", cfg.TwitchChannelLogin))
	})

	go func() {
		<-ctx.Done()
		client.Disconnect()
	}()
	go func() {
		client.Join(cfg.TwitchChannelLogin)
		if err := client.Connect(); err != nil && ctx.Err() == nil {
			slog.Error("twitch chat connect error", slog.Any("err", err))
			a.mu.Lock()
			a.enabled = false
			a.mu.Unlock()
		}
	}()
	return a
}

// AnnounceOnline posts the live announcement line.
func (a *Announcer) AnnounceOnline(info notify.OnlineInfo) {
	a.say(fmt.Sprintf("%s is LIVE: %s (%s) %s", info.Username, info.Title, info.Category, info.ChannelURL))
}

// AnnounceOffline posts the offline line, pointing at the VOD when one exists.
func (a *Announcer) AnnounceOffline(info notify.OfflineInfo) {
	if info.HasVod {
		a.say(fmt.Sprintf("%s is now offline. Stream length %s, VOD: %s", info.Username, info.Duration, info.VodURL))
		return
	}
	a.say(fmt.Sprintf("%s is now offline.", info.Username))
}

func (a *Announcer) say(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled || a.client == nil {
		return
	}
	a.client.Say(a.channel, text)
}
