// Package resolver turns raw online/offline stream signals into confirmed,
// de-duplicated state transitions. Each signal starts one bounded resolution
// cycle: a repeating metadata probe raced against a hard timeout, with exactly
// one of the two paths finalizing the cycle.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/thedrkness/livebot/db"
	"github.com/thedrkness/livebot/notify"
	"github.com/thedrkness/livebot/telemetry"
	"github.com/thedrkness/livebot/twitchapi"
)

// Fallback assets used when upstream metadata is unavailable.
const (
	defaultProfileURL   = "https://static-cdn.jtvnw.net/user-default-pictures-uv/ebe4cd89-b4f4-4cd9-adac-2f30151b4209-profile_image-70x70.png"
	offlineThumbnailURL = "https://static-cdn.jtvnw.net/ttv-static/404_preview-1920x1080.jpg"
)

// StreamOnlineEvent is a normalized raw "went live" signal.
type StreamOnlineEvent struct {
	ChannelID string
}

// StreamOfflineEvent is a normalized raw "went offline" signal.
type StreamOfflineEvent struct {
	ChannelID string
}

// HelixAPI is the upstream probe surface, satisfied by *twitchapi.HelixClient.
type HelixAPI interface {
	GetStreams(ctx context.Context, userID string) ([]twitchapi.Stream, error)
	GetUserByID(ctx context.Context, userID string) (twitchapi.User, error)
	ListVideos(ctx context.Context, userID string, first int) ([]twitchapi.Video, error)
}

// StateStore is the persisted stream-state surface, satisfied by db.StateStore.
type StateStore interface {
	GetStreamState(ctx context.Context, channelID string) (db.StreamState, error)
	SetStreamState(ctx context.Context, st db.StreamState) error
}

// Deliverer fans a resolved notification out to all recipients.
type Deliverer interface {
	DeliverOnline(ctx context.Context, info notify.OnlineInfo) []notify.DeliveryResult
	DeliverOffline(ctx context.Context, info notify.OfflineInfo) []notify.DeliveryResult
}

// Config holds the watched channel identity and race tunables.
type Config struct {
	ChannelID      string
	ChannelLogin   string
	ChannelDisplay string

	OnlinePollInterval  time.Duration
	OnlinePollTimeout   time.Duration
	OfflinePollInterval time.Duration
	OfflinePollTimeout  time.Duration
}

// Service runs resolution cycles. Cycles are mutually exclusive per watched
// channel: a signal arriving while a cycle is in flight for the same channel
// is treated as a duplicate and dropped.
type Service struct {
	store  StateStore
	helix  HelixAPI
	fanout Deliverer
	cfg    Config

	mu       sync.Mutex
	inflight map[string]bool

	now func() time.Time
}

func New(store StateStore, helix HelixAPI, fanout Deliverer, cfg Config) *Service {
	if cfg.OnlinePollInterval <= 0 {
		cfg.OnlinePollInterval = 5 * time.Second
	}
	if cfg.OnlinePollTimeout <= 0 {
		cfg.OnlinePollTimeout = 60 * time.Second
	}
	if cfg.OfflinePollInterval <= 0 {
		cfg.OfflinePollInterval = 5 * time.Second
	}
	if cfg.OfflinePollTimeout <= 0 {
		cfg.OfflinePollTimeout = 50 * time.Second
	}
	return &Service{
		store:    store,
		helix:    helix,
		fanout:   fanout,
		cfg:      cfg,
		inflight: make(map[string]bool),
		now:      time.Now,
	}
}

// OnStreamOnline begins exactly one online resolution attempt for the raw
// signal. It blocks until the cycle finalizes; callers that must return
// quickly (webhook handlers) run it in a goroutine.
func (s *Service) OnStreamOnline(ctx context.Context, ev StreamOnlineEvent) {
	telemetry.CountEvent("stream.online")
	if !s.acquire(ev.ChannelID) {
		telemetry.CountDuplicate()
		slog.Info("online signal ignored: resolution already in flight", slog.String("channel_id", ev.ChannelID))
		return
	}
	defer s.release(ev.ChannelID)
	s.runCycle(ctx, "online", ev.ChannelID, s.resolveOnline)
}

// OnStreamOffline begins exactly one offline resolution attempt for the raw signal.
func (s *Service) OnStreamOffline(ctx context.Context, ev StreamOfflineEvent) {
	telemetry.CountEvent("stream.offline")
	if !s.acquire(ev.ChannelID) {
		telemetry.CountDuplicate()
		slog.Info("offline signal ignored: resolution already in flight", slog.String("channel_id", ev.ChannelID))
		return
	}
	defer s.release(ev.ChannelID)
	s.runCycle(ctx, "offline", ev.ChannelID, s.resolveOffline)
}

// runCycle is the cycle boundary: unexpected panics are logged with the raw
// event context and never crash the process.
func (s *Service) runCycle(ctx context.Context, kind, channelID string, run func(ctx context.Context, channelID string)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("resolution cycle panicked",
				slog.String("kind", kind), slog.String("channel_id", channelID), slog.Any("panic", r))
		}
	}()
	telemetry.TimeFunc(telemetry.ResolutionDuration, func() {
		run(ctx, channelID)
	})
}

// resolveOnline races the metadata probe against the online timeout. The
// select loop is the single-resolution guard: whichever arm fires first
// finalizes, and returning cancels the other.
func (s *Service) resolveOnline(ctx context.Context, channelID string) {
	prior, err := s.store.GetStreamState(ctx, channelID)
	if err != nil {
		slog.Error("stream state read failed; continuing with zero state", slog.String("channel_id", channelID), slog.Any("err", err))
	}

	ticker := time.NewTicker(s.cfg.OnlinePollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(s.cfg.OnlinePollTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Warn("online resolution aborted", slog.String("channel_id", channelID), slog.Any("err", ctx.Err()))
			return
		case <-timeout.C:
			// Availability over accuracy: never leave subscribers silent.
			slog.Warn("stream metadata not found in time; using placeholder", slog.String("channel_id", channelID))
			s.finalizeOnline(ctx, channelID, prior, s.placeholderOnlineInfo(), "timeout")
			return
		case <-ticker.C:
			info, ok, err := s.probeOnline(ctx, channelID)
			if err != nil {
				telemetry.CountProbeFailure()
				slog.Warn("online probe failed; retrying on next tick", slog.String("channel_id", channelID), slog.Any("err", err))
				continue
			}
			if !ok {
				slog.Debug("stream not queryable yet", slog.String("channel_id", channelID))
				continue
			}
			s.finalizeOnline(ctx, channelID, prior, info, "probe")
			return
		}
	}
}

// probeOnline queries current stream + broadcaster metadata. ok=false means
// the upstream has no stream entry yet (the raw signal outran the API).
func (s *Service) probeOnline(ctx context.Context, channelID string) (notify.OnlineInfo, bool, error) {
	streams, err := s.helix.GetStreams(ctx, channelID)
	if err != nil {
		return notify.OnlineInfo{}, false, err
	}
	if len(streams) == 0 {
		return notify.OnlineInfo{}, false, nil
	}
	stream := streams[0]

	info := s.placeholderOnlineInfo()
	if stream.ID != "" {
		info.StreamID = stream.ID
	}
	if stream.Title != "" {
		info.Title = stream.Title
	}
	if stream.GameName != "" {
		info.Category = stream.GameName
	}
	if !stream.StartedAt.IsZero() {
		info.StartedAt = stream.StartedAt.UTC()
	}
	// Broadcaster profile is decorative; a lookup failure keeps the fallbacks.
	if user, err := s.helix.GetUserByID(ctx, channelID); err == nil {
		if user.ProfileImageURL != "" {
			info.ProfileURL = user.ProfileImageURL
		}
		if user.DisplayName != "" {
			info.Username = user.DisplayName
		}
	}
	return info, true, nil
}

func (s *Service) placeholderOnlineInfo() notify.OnlineInfo {
	return notify.OnlineInfo{
		StreamID:     syntheticStreamID(),
		Title:        fmt.Sprintf("%s is Live, no title found.", s.cfg.ChannelDisplay),
		Category:     "N/A",
		ThumbnailURL: fmt.Sprintf("https://static-cdn.jtvnw.net/previews-ttv/live_user_%s-1920x1080.jpg", s.cfg.ChannelLogin),
		ProfileURL:   defaultProfileURL,
		Username:     s.cfg.ChannelDisplay,
		ChannelURL:   "https://twitch.tv/" + s.cfg.ChannelLogin,
		StartedAt:    s.now().UTC(),
	}
}

// finalizeOnline persists the confirmed transition and fans out exactly once.
func (s *Service) finalizeOnline(ctx context.Context, channelID string, prior db.StreamState, info notify.OnlineInfo, path string) {
	// Duplicate delivery of the same broadcast: the stream id did not change.
	if info.StreamID != "" && info.StreamID == prior.CurrentStreamID {
		telemetry.CountDuplicate()
		slog.Info("duplicate online signal for current broadcast; skipping",
			slog.String("channel_id", channelID), slog.String("stream_id", info.StreamID))
		return
	}

	next := db.StreamState{
		ChannelID:       channelID,
		Status:          db.StatusOnline,
		CurrentStreamID: info.StreamID,
		StartedAt:       info.StartedAt,
	}
	if err := s.store.SetStreamState(ctx, next); err != nil {
		// Deliver anyway from the in-memory resolved info so subscribers are
		// not silently missed; the next cycle may see a stale persisted value.
		slog.Error("stream state write failed; delivering from memory",
			slog.String("channel_id", channelID), slog.Any("err", err))
	}
	telemetry.SetLive(true)
	telemetry.CountResolution("online", path)
	slog.Info("stream confirmed online",
		slog.String("channel_id", channelID), slog.String("stream_id", info.StreamID),
		slog.String("path", path), slog.String("category", info.Category))
	s.fanout.DeliverOnline(ctx, info)
}

// resolveOffline races the VOD probe against the offline timeout, searching
// for a recording of the broadcast captured in the persisted state.
func (s *Service) resolveOffline(ctx context.Context, channelID string) {
	state, err := s.store.GetStreamState(ctx, channelID)
	if err != nil {
		slog.Error("stream state read failed; continuing with zero state", slog.String("channel_id", channelID), slog.Any("err", err))
	}

	ticker := time.NewTicker(s.cfg.OfflinePollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(s.cfg.OfflinePollTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Warn("offline resolution aborted", slog.String("channel_id", channelID), slog.Any("err", ctx.Err()))
			return
		case <-timeout.C:
			slog.Warn("no VOD found in time; sending degraded offline notice", slog.String("channel_id", channelID))
			s.finalizeOffline(ctx, channelID, s.degradedOfflineInfo(), "timeout")
			return
		case <-ticker.C:
			info, ok, err := s.probeOffline(ctx, channelID, state.CurrentStreamID)
			if err != nil {
				telemetry.CountProbeFailure()
				slog.Warn("vod probe failed; retrying on next tick", slog.String("channel_id", channelID), slog.Any("err", err))
				continue
			}
			if !ok {
				slog.Debug("matching vod not published yet", slog.String("channel_id", channelID), slog.String("stream_id", state.CurrentStreamID))
				continue
			}
			s.finalizeOffline(ctx, channelID, info, "probe")
			return
		}
	}
}

// probeOffline searches recent archives for a recording whose stream id
// matches the broadcast we saw go live.
func (s *Service) probeOffline(ctx context.Context, channelID, streamID string) (notify.OfflineInfo, bool, error) {
	if streamID == "" {
		return notify.OfflineInfo{}, false, nil
	}
	videos, err := s.helix.ListVideos(ctx, channelID, 20)
	if err != nil {
		return notify.OfflineInfo{}, false, err
	}
	for _, v := range videos {
		if v.StreamID != streamID {
			continue
		}
		info := s.degradedOfflineInfo()
		info.StreamID = v.StreamID
		info.Title = v.Title
		info.VodURL = v.URL
		info.Duration = twitchapi.FormatDuration(twitchapi.ParseDuration(v.Duration))
		if v.ThumbnailURL != "" {
			info.ThumbnailURL = vodThumbnail(v.ThumbnailURL)
		}
		info.HasVod = true
		if user, err := s.helix.GetUserByID(ctx, channelID); err == nil && user.ProfileImageURL != "" {
			info.ProfileURL = user.ProfileImageURL
		}
		return info, true, nil
	}
	return notify.OfflineInfo{}, false, nil
}

func (s *Service) degradedOfflineInfo() notify.OfflineInfo {
	return notify.OfflineInfo{
		StreamID:     syntheticStreamID(),
		Title:        "No VOD found, but stream is Offline.",
		VodURL:       "https://twitch.tv/" + s.cfg.ChannelLogin,
		Duration:     "N/A",
		ThumbnailURL: offlineThumbnailURL,
		ProfileURL:   defaultProfileURL,
		Username:     s.cfg.ChannelDisplay,
		HasVod:       false,
		EndedAt:      s.now().UTC(),
	}
}

// finalizeOffline persists the offline transition with a fresh placeholder
// stream id (so the next online cycle can never compare equal against a
// finished broadcast) and fans out exactly once.
func (s *Service) finalizeOffline(ctx context.Context, channelID string, info notify.OfflineInfo, path string) {
	next := db.StreamState{
		ChannelID:       channelID,
		Status:          db.StatusOffline,
		CurrentStreamID: syntheticStreamID(),
	}
	if err := s.store.SetStreamState(ctx, next); err != nil {
		slog.Error("stream state write failed; delivering from memory",
			slog.String("channel_id", channelID), slog.Any("err", err))
	}
	telemetry.SetLive(false)
	telemetry.CountResolution("offline", path)
	slog.Info("stream confirmed offline",
		slog.String("channel_id", channelID), slog.Bool("has_vod", info.HasVod), slog.String("path", path))
	s.fanout.DeliverOffline(ctx, info)
}

func (s *Service) acquire(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[channelID] {
		return false
	}
	s.inflight[channelID] = true
	return true
}

func (s *Service) release(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, channelID)
}

// syntheticStreamID produces a random 11-digit id, shaped like real stream
// ids, used when upstream never yields one.
func syntheticStreamID() string {
	//nolint:gosec // G404: math/rand is sufficient for placeholder ids, not used for security
	n := rand.Int63n(99999999999-10000000000+1) + 10000000000
	return fmt.Sprintf("%d", n)
}

// vodThumbnail fills Twitch's templated thumbnail dimensions.
func vodThumbnail(tmpl string) string {
	out := strings.ReplaceAll(tmpl, "%{width}", "1920")
	return strings.ReplaceAll(out, "%{height}", "1080")
}
