package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/thedrkness/livebot/resolver"
	"github.com/thedrkness/livebot/telemetry"
)

const (
	eventsubMsgID        = "Twitch-Eventsub-Message-Id"
	eventsubMsgTimestamp = "Twitch-Eventsub-Message-Timestamp"
	eventsubMsgSignature = "Twitch-Eventsub-Message-Signature"
	eventsubMsgType      = "Twitch-Eventsub-Message-Type"

	msgTypeNotification = "notification"
	msgTypeVerification = "webhook_callback_verification"
	msgTypeRevocation   = "revocation"

	// Messages older than this are rejected as replays.
	eventsubMaxAge = 10 * time.Minute

	// Webhook payloads are small; anything larger is not EventSub.
	eventsubMaxBody = 1 << 20
)

type eventsubEnvelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
	} `json:"event"`
}

// HandleEventSub is the webhook ingress. It verifies the message signature,
// answers verification challenges, suppresses replays, and hands confirmed
// stream.online/stream.offline notifications to the resolver without waiting
// for the resolution cycle to finish.
func (h *Handlers) HandleEventSub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.opts.EventSubSecret == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, eventsubMaxBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	msgID := r.Header.Get(eventsubMsgID)
	ts := r.Header.Get(eventsubMsgTimestamp)
	if !verifyEventSubSignature(h.opts.EventSubSecret, msgID, ts, body, r.Header.Get(eventsubMsgSignature)) {
		slog.Warn("eventsub signature rejected", slog.String("message_id", msgID))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	if sent, err := time.Parse(time.RFC3339Nano, ts); err != nil || time.Since(sent) > eventsubMaxAge {
		slog.Warn("eventsub message too old or bad timestamp", slog.String("message_id", msgID), slog.String("timestamp", ts))
		http.Error(w, "stale message", http.StatusForbidden)
		return
	}

	var envelope eventsubEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get(eventsubMsgType) {
	case msgTypeVerification:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(envelope.Challenge))
		return
	case msgTypeRevocation:
		slog.Warn("eventsub subscription revoked", slog.String("type", envelope.Subscription.Type))
		w.WriteHeader(http.StatusNoContent)
		return
	case msgTypeNotification:
		// fall through
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if msgID != "" && h.markSeen(msgID) {
		telemetry.CountDuplicate()
		slog.Info("eventsub message replayed; dropping", slog.String("message_id", msgID))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	channelID := envelope.Event.BroadcasterUserID
	if h.opts.ChannelID != "" && channelID != h.opts.ChannelID {
		slog.Info("event for unwatched broadcaster; dropping",
			slog.String("broadcaster_id", channelID), slog.String("type", envelope.Subscription.Type))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Acknowledge fast; the resolution cycle runs for up to a minute.
	switch envelope.Subscription.Type {
	case "stream.online":
		go h.sink.OnStreamOnline(h.ctx, resolver.StreamOnlineEvent{ChannelID: channelID})
	case "stream.offline":
		go h.sink.OnStreamOffline(h.ctx, resolver.StreamOfflineEvent{ChannelID: channelID})
	default:
		slog.Debug("unhandled eventsub type", slog.String("type", envelope.Subscription.Type))
	}
	w.WriteHeader(http.StatusNoContent)
}

// verifyEventSubSignature checks the HMAC-SHA256 of id+timestamp+body against
// the "sha256=<hex>" header value in constant time.
func verifyEventSubSignature(secret, msgID, timestamp string, body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msgID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
