package resolver

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thedrkness/livebot/db"
	"github.com/thedrkness/livebot/notify"
	"github.com/thedrkness/livebot/twitchapi"
)

type fakeStore struct {
	mu     sync.Mutex
	states map[string]db.StreamState
	setErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]db.StreamState)}
}

func (f *fakeStore) GetStreamState(_ context.Context, channelID string) (db.StreamState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[channelID]; ok {
		return st, nil
	}
	return db.StreamState{ChannelID: channelID, Status: db.StatusOffline}, nil
}

func (f *fakeStore) SetStreamState(_ context.Context, st db.StreamState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.states[st.ChannelID] = st
	return nil
}

func (f *fakeStore) state(channelID string) db.StreamState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[channelID]
}

type fakeHelix struct {
	mu         sync.Mutex
	streams    []twitchapi.Stream
	streamsErr error
	probeCount int
	failFirst  int
	videos     []twitchapi.Video
	user       twitchapi.User
	block      chan struct{}
}

func (f *fakeHelix) GetStreams(_ context.Context, _ string) ([]twitchapi.Stream, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCount++
	if f.probeCount <= f.failFirst {
		return nil, errors.New("helix unavailable")
	}
	return f.streams, f.streamsErr
}

func (f *fakeHelix) GetUserByID(_ context.Context, _ string) (twitchapi.User, error) {
	return f.user, nil
}

func (f *fakeHelix) ListVideos(_ context.Context, _ string, _ int) ([]twitchapi.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCount++
	if f.probeCount <= f.failFirst {
		return nil, errors.New("helix unavailable")
	}
	return f.videos, nil
}

type fakeFanout struct {
	mu       sync.Mutex
	online   []notify.OnlineInfo
	offline  []notify.OfflineInfo
	panicMsg string
}

func (f *fakeFanout) DeliverOnline(_ context.Context, info notify.OnlineInfo) []notify.DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.online = append(f.online, info)
	return nil
}

func (f *fakeFanout) DeliverOffline(_ context.Context, info notify.OfflineInfo) []notify.DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = append(f.offline, info)
	return nil
}

func (f *fakeFanout) onlineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.online)
}

func testConfig() Config {
	return Config{
		ChannelID:           "909497787",
		ChannelLogin:        "zdini",
		ChannelDisplay:      "zDini",
		OnlinePollInterval:  5 * time.Millisecond,
		OnlinePollTimeout:   100 * time.Millisecond,
		OfflinePollInterval: 5 * time.Millisecond,
		OfflinePollTimeout:  100 * time.Millisecond,
	}
}

var syntheticIDPattern = regexp.MustCompile(`^[1-9]\d{10}$`)

func TestOnlineProbeResolvesMetadata(t *testing.T) {
	store := newFakeStore()
	store.states["909497787"] = db.StreamState{ChannelID: "909497787", Status: db.StatusOffline, CurrentStreamID: "41"}
	helix := &fakeHelix{
		streams: []twitchapi.Stream{{ID: "42", Title: "Test Stream", GameName: "Just Chatting", StartedAt: time.Now()}},
		user:    twitchapi.User{DisplayName: "zDini", ProfileImageURL: "https://example.com/pfp.png"},
	}
	fan := &fakeFanout{}
	svc := New(store, helix, fan, testConfig())

	svc.OnStreamOnline(context.Background(), StreamOnlineEvent{ChannelID: "909497787"})

	if got := fan.onlineCount(); got != 1 {
		t.Fatalf("expected exactly one delivery, got %d", got)
	}
	info := fan.online[0]
	if info.StreamID != "42" || info.Title != "Test Stream" || info.Category != "Just Chatting" {
		t.Errorf("unexpected resolved info: %+v", info)
	}
	if info.ProfileURL != "https://example.com/pfp.png" {
		t.Errorf("expected broadcaster profile image, got %q", info.ProfileURL)
	}
	st := store.state("909497787")
	if st.Status != db.StatusOnline || st.CurrentStreamID != "42" {
		t.Errorf("state not persisted as online/42: %+v", st)
	}
}

func TestOnlineDuplicateStreamIDSkipsDelivery(t *testing.T) {
	store := newFakeStore()
	store.states["909497787"] = db.StreamState{ChannelID: "909497787", Status: db.StatusOnline, CurrentStreamID: "42"}
	helix := &fakeHelix{streams: []twitchapi.Stream{{ID: "42", Title: "Test Stream"}}}
	fan := &fakeFanout{}
	svc := New(store, helix, fan, testConfig())

	svc.OnStreamOnline(context.Background(), StreamOnlineEvent{ChannelID: "909497787"})

	if got := fan.onlineCount(); got != 0 {
		t.Fatalf("duplicate broadcast must not be delivered, got %d deliveries", got)
	}
	if st := store.state("909497787"); st.CurrentStreamID != "42" {
		t.Errorf("duplicate must not mutate state, got %+v", st)
	}
}

func TestOnlineTimeoutDeliversPlaceholder(t *testing.T) {
	store := newFakeStore()
	helix := &fakeHelix{} // never returns a stream
	fan := &fakeFanout{}
	svc := New(store, helix, fan, testConfig())

	svc.OnStreamOnline(context.Background(), StreamOnlineEvent{ChannelID: "909497787"})

	if got := fan.onlineCount(); got != 1 {
		t.Fatalf("timeout must still deliver exactly once, got %d", got)
	}
	info := fan.online[0]
	if !syntheticIDPattern.MatchString(info.StreamID) {
		t.Errorf("expected synthetic 11-digit stream id, got %q", info.StreamID)
	}
	if info.Title != "zDini is Live, no title found." {
		t.Errorf("unexpected placeholder title %q", info.Title)
	}
	if info.Category != "N/A" {
		t.Errorf("unexpected placeholder category %q", info.Category)
	}
	if !strings.Contains(info.ThumbnailURL, "live_user_zdini") {
		t.Errorf("placeholder thumbnail should target the channel login, got %q", info.ThumbnailURL)
	}
	if st := store.state("909497787"); st.Status != db.StatusOnline {
		t.Errorf("timeout path must still persist online state, got %+v", st)
	}
}

func TestOnlineInFlightSignalDropped(t *testing.T) {
	store := newFakeStore()
	helix := &fakeHelix{
		streams: []twitchapi.Stream{{ID: "42"}},
		block:   make(chan struct{}),
	}
	fan := &fakeFanout{}
	svc := New(store, helix, fan, testConfig())

	done := make(chan struct{})
	go func() {
		svc.OnStreamOnline(context.Background(), StreamOnlineEvent{ChannelID: "909497787"})
		close(done)
	}()

	// Wait for the first cycle to hold the in-flight slot.
	deadline := time.After(time.Second)
	for {
		svc.mu.Lock()
		held := svc.inflight["909497787"]
		svc.mu.Unlock()
		if held {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first cycle never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Second signal for the same channel must return immediately without resolving.
	svc.OnStreamOnline(context.Background(), StreamOnlineEvent{ChannelID: "909497787"})
	if got := fan.onlineCount(); got != 0 {
		t.Fatalf("dropped signal must not deliver, got %d", got)
	}

	close(helix.block)
	<-done
	if got := fan.onlineCount(); got != 1 {
		t.Fatalf("expected exactly one delivery after first cycle finished, got %d", got)
	}
}

func TestOnlineProbeErrorRetriesUntilSuccess(t *testing.T) {
	store := newFakeStore()
	helix := &fakeHelix{
		failFirst: 2,
		streams:   []twitchapi.Stream{{ID: "42", Title: "Back up"}},
	}
	fan := &fakeFanout{}
	svc := New(store, helix, fan, testConfig())

	svc.OnStreamOnline(context.Background(), StreamOnlineEvent{ChannelID: "909497787"})

	if got := fan.onlineCount(); got != 1 {
		t.Fatalf("expected delivery after retries, got %d", got)
	}
	if fan.online[0].StreamID != "42" {
		t.Errorf("expected probe path after retries, got %+v", fan.online[0])
	}
}

func TestOnlinePersistenceFailureStillDelivers(t *testing.T) {
	store := newFakeStore()
	store.setErr = errors.New("connection refused")
	helix := &fakeHelix{streams: []twitchapi.Stream{{ID: "42", Title: "Test Stream"}}}
	fan := &fakeFanout{}
	svc := New(store, helix, fan, testConfig())

	svc.OnStreamOnline(context.Background(), StreamOnlineEvent{ChannelID: "909497787"})

	if got := fan.onlineCount(); got != 1 {
		t.Fatalf("persistence failure must not block delivery, got %d", got)
	}
}

func TestOfflineVodMatchByStreamID(t *testing.T) {
	store := newFakeStore()
	store.states["909497787"] = db.StreamState{ChannelID: "909497787", Status: db.StatusOnline, CurrentStreamID: "42"}
	helix := &fakeHelix{
		videos: []twitchapi.Video{
			{ID: "v1", StreamID: "41", Title: "Old VOD", URL: "https://twitch.tv/videos/1"},
			{ID: "v2", StreamID: "42", Title: "Fresh VOD", URL: "https://twitch.tv/videos/2",
				Duration: "1h2m3s", ThumbnailURL: "https://cdn.example/%{width}x%{height}.jpg"},
		},
	}
	fan := &fakeFanout{}
	svc := New(store, helix, fan, testConfig())

	svc.OnStreamOffline(context.Background(), StreamOfflineEvent{ChannelID: "909497787"})

	fan.mu.Lock()
	defer fan.mu.Unlock()
	if len(fan.offline) != 1 {
		t.Fatalf("expected exactly one offline delivery, got %d", len(fan.offline))
	}
	info := fan.offline[0]
	if !info.HasVod || info.Title != "Fresh VOD" || info.VodURL != "https://twitch.tv/videos/2" {
		t.Errorf("expected the matching VOD, got %+v", info)
	}
	if info.Duration != "01:02:03" {
		t.Errorf("expected formatted duration 01:02:03, got %q", info.Duration)
	}
	if info.ThumbnailURL != "https://cdn.example/1920x1080.jpg" {
		t.Errorf("thumbnail template not filled: %q", info.ThumbnailURL)
	}
	st := store.state("909497787")
	if st.Status != db.StatusOffline {
		t.Errorf("state must be offline after resolution, got %+v", st)
	}
	if st.CurrentStreamID == "42" || !syntheticIDPattern.MatchString(st.CurrentStreamID) {
		t.Errorf("offline must rotate the stream id to a fresh synthetic value, got %q", st.CurrentStreamID)
	}
}

func TestOfflineTimeoutDeliversDegraded(t *testing.T) {
	store := newFakeStore()
	store.states["909497787"] = db.StreamState{ChannelID: "909497787", Status: db.StatusOnline, CurrentStreamID: "42"}
	helix := &fakeHelix{
		videos: []twitchapi.Video{{ID: "v1", StreamID: "41", Title: "Old VOD"}},
	}
	fan := &fakeFanout{}
	svc := New(store, helix, fan, testConfig())

	svc.OnStreamOffline(context.Background(), StreamOfflineEvent{ChannelID: "909497787"})

	fan.mu.Lock()
	defer fan.mu.Unlock()
	if len(fan.offline) != 1 {
		t.Fatalf("expected exactly one degraded delivery, got %d", len(fan.offline))
	}
	info := fan.offline[0]
	if info.HasVod {
		t.Error("degraded delivery must not claim a VOD")
	}
	if info.Title != "No VOD found, but stream is Offline." {
		t.Errorf("unexpected degraded title %q", info.Title)
	}
	if info.VodURL != "https://twitch.tv/zdini" {
		t.Errorf("degraded link must point at the channel, got %q", info.VodURL)
	}
	if info.Duration != "N/A" {
		t.Errorf("unexpected degraded duration %q", info.Duration)
	}
}

func TestCyclePanicIsContainedAndSlotReleased(t *testing.T) {
	store := newFakeStore()
	helix := &fakeHelix{streams: []twitchapi.Stream{{ID: "42"}}}
	fan := &fakeFanout{panicMsg: "delivery exploded"}
	svc := New(store, helix, fan, testConfig())

	svc.OnStreamOnline(context.Background(), StreamOnlineEvent{ChannelID: "909497787"})

	// The slot must be free for the next signal.
	svc.mu.Lock()
	held := svc.inflight["909497787"]
	svc.mu.Unlock()
	if held {
		t.Fatal("in-flight slot leaked after panic")
	}

	fan.panicMsg = ""
	helix.streams[0].ID = "43"
	svc.OnStreamOnline(context.Background(), StreamOnlineEvent{ChannelID: "909497787"})
	if got := fan.onlineCount(); got != 1 {
		t.Fatalf("expected recovery then normal delivery, got %d", got)
	}
}

func TestContextCancelAbortsWithoutDelivery(t *testing.T) {
	store := newFakeStore()
	helix := &fakeHelix{} // never resolves
	fan := &fakeFanout{}
	cfg := testConfig()
	cfg.OnlinePollTimeout = time.Minute
	svc := New(store, helix, fan, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.OnStreamOnline(ctx, StreamOnlineEvent{ChannelID: "909497787"})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cycle did not abort on context cancel")
	}
	if got := fan.onlineCount(); got != 0 {
		t.Fatalf("aborted cycle must not deliver, got %d", got)
	}
}
