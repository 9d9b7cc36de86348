package chat

import (
	"testing"

	"github.com/thedrkness/livebot/notify"
)

type fakeSayer struct {
	lines []string
}

func (f *fakeSayer) Say(channel, text string) {
	f.lines = append(f.lines, channel+": "+text)
}

func TestAnnounceOnline(t *testing.T) {
	f := &fakeSayer{}
	a := &Announcer{client: f, channel: "zdini", enabled: true}

	a.AnnounceOnline(notify.OnlineInfo{
		Username:   "zDini",
		Title:      "Test Stream",
		Category:   "Just Chatting",
		ChannelURL: "https://twitch.tv/zdini",
	})

	if len(f.lines) != 1 {
		t.Fatalf("expected one line, got %d", len(f.lines))
	}
	want := "zdini: zDini is LIVE: Test Stream (Just Chatting) https://twitch.tv/zdini"
	if f.lines[0] != want {
		t.Errorf("got %q, want %q", f.lines[0], want)
	}
}

func TestAnnounceOfflineWithAndWithoutVod(t *testing.T) {
	f := &fakeSayer{}
	a := &Announcer{client: f, channel: "zdini", enabled: true}

	a.AnnounceOffline(notify.OfflineInfo{Username: "zDini", HasVod: true, Duration: "03:15:42", VodURL: "https://twitch.tv/videos/2"})
	a.AnnounceOffline(notify.OfflineInfo{Username: "zDini", HasVod: false})

	if len(f.lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(f.lines))
	}
	if f.lines[0] != "zdini: zDini is now offline. Stream length 03:15:42, VOD: https://twitch.tv/videos/2" {
		t.Errorf("unexpected vod line %q", f.lines[0])
	}
	if f.lines[1] != "zdini: zDini is now offline." {
		t.Errorf("unexpected plain line %q", f.lines[1])
	}
}

func TestDisabledAnnouncerIgnoresCalls(t *testing.T) {
	a := &Announcer{}
	// Must not panic with no client configured.
	a.AnnounceOnline(notify.OnlineInfo{Username: "zDini"})
	a.AnnounceOffline(notify.OfflineInfo{Username: "zDini"})
}
