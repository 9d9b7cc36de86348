package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thedrkness/livebot/db"
)

type subscriptionPayload struct {
	GuildID        string                `json:"guild_id"`
	Channels       []subscriptionChannel `json:"channels"`
	MentionRoleID  string                `json:"mention_role_id,omitempty"`
	PresenceRoleID string                `json:"presence_role_id,omitempty"`
}

type subscriptionChannel struct {
	ChannelID   string `json:"channel_id"`
	MentionRole bool   `json:"mention_role"`
}

func toPayload(sub db.Subscription) subscriptionPayload {
	p := subscriptionPayload{
		GuildID:        sub.GuildID,
		MentionRoleID:  sub.MentionRoleID,
		PresenceRoleID: sub.PresenceRoleID,
		Channels:       make([]subscriptionChannel, 0, len(sub.Channels)),
	}
	for _, c := range sub.Channels {
		p.Channels = append(p.Channels, subscriptionChannel{ChannelID: c.ChannelID, MentionRole: c.MentionRole})
	}
	return p
}

func fromPayload(p subscriptionPayload) db.Subscription {
	sub := db.Subscription{
		GuildID:        p.GuildID,
		MentionRoleID:  p.MentionRoleID,
		PresenceRoleID: p.PresenceRoleID,
	}
	for _, c := range p.Channels {
		sub.Channels = append(sub.Channels, db.ChannelTarget{ChannelID: c.ChannelID, MentionRole: c.MentionRole})
	}
	return sub
}

// HandleSubscriptions lists all guild subscriptions.
func (h *Handlers) HandleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	subs, err := db.ListSubscriptions(r.Context(), h.db)
	if err != nil {
		slog.Error("subscription list failed", slog.Any("err", err))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	out := make([]subscriptionPayload, 0, len(subs))
	for _, s := range subs {
		out = append(out, toPayload(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleSubscriptionByGuild reads, replaces, or deletes one guild's subscription.
func (h *Handlers) HandleSubscriptionByGuild(w http.ResponseWriter, r *http.Request) {
	guildID := strings.TrimPrefix(r.URL.Path, "/subscriptions/")
	if guildID == "" || strings.Contains(guildID, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sub, ok, err := db.GetSubscription(r.Context(), h.db, guildID)
		if err != nil {
			slog.Error("subscription read failed", slog.String("guild_id", guildID), slog.Any("err", err))
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, toPayload(sub))

	case http.MethodPut:
		var p subscriptionPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		p.GuildID = guildID
		if len(p.Channels) == 0 {
			http.Error(w, "at least one channel required", http.StatusBadRequest)
			return
		}
		if err := db.UpsertSubscription(r.Context(), h.db, fromPayload(p)); err != nil {
			slog.Error("subscription upsert failed", slog.String("guild_id", guildID), slog.Any("err", err))
			http.Error(w, "write failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case http.MethodDelete:
		if err := db.DeleteSubscription(r.Context(), h.db, guildID); err != nil {
			slog.Error("subscription delete failed", slog.String("guild_id", guildID), slog.Any("err", err))
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
