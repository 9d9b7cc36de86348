package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thedrkness/livebot/db"
	"github.com/thedrkness/livebot/telemetry"
)

// Outcome classifies what happened to one recipient during fan-out.
type Outcome string

const (
	OutcomeSent           Outcome = "sent"
	OutcomeEdited         Outcome = "edited"
	OutcomeSkippedStale   Outcome = "skipped_stale_config"
	OutcomeSkippedNoPerms Outcome = "skipped_no_permission"
	OutcomeFailed         Outcome = "failed"
)

// DeliveryResult is the typed per-recipient report entry. Fan-out never throws;
// it returns one of these per (guild, channel) target.
type DeliveryResult struct {
	GuildID   string
	ChannelID string
	Outcome   Outcome
	Err       error
}

// SubscriptionLister supplies the subscriptions to fan out across. Backed by
// db.ListSubscriptions in production, by fixtures in tests.
type SubscriptionLister func(ctx context.Context) ([]db.Subscription, error)

// Fanout delivers one resolved notification to every subscribed recipient,
// isolating failures so one broken guild never blocks the rest.
type Fanout struct {
	platform Platform
	guard    *Guard
	tracker  *Tracker
	listSubs SubscriptionLister

	// MaxConcurrent bounds parallel recipient units; <=1 means serial.
	MaxConcurrent int
}

func NewFanout(platform Platform, tracker *Tracker, listSubs SubscriptionLister) *Fanout {
	return &Fanout{
		platform:      platform,
		guard:         NewGuard(platform),
		tracker:       tracker,
		listSubs:      listSubs,
		MaxConcurrent: 4,
	}
}

// DeliverOnline fans out a live announcement and tracks each sent message for
// the later offline edit.
func (f *Fanout) DeliverOnline(ctx context.Context, info OnlineInfo) []DeliveryResult {
	return f.deliver(ctx, KindOnline, func(sub db.Subscription, target db.ChannelTarget) DeliveryResult {
		n := RenderOnline(info)
		if target.MentionRole {
			n.MentionRoleID = sub.MentionRoleID
		}
		ref, err := f.platform.SendNotification(ctx, target.ChannelID, n)
		if err != nil {
			return DeliveryResult{GuildID: sub.GuildID, ChannelID: target.ChannelID, Outcome: OutcomeFailed, Err: err}
		}
		f.tracker.RecordSent(sub.GuildID, target.ChannelID, ref, n.Timestamp)
		return DeliveryResult{GuildID: sub.GuildID, ChannelID: target.ChannelID, Outcome: OutcomeSent}
	})
}

// DeliverOffline fans out the offline notice, editing the still-fresh online
// announcement in place where the tracker allows, then clears the record.
func (f *Fanout) DeliverOffline(ctx context.Context, info OfflineInfo) []DeliveryResult {
	return f.deliver(ctx, KindOffline, func(sub db.Subscription, target db.ChannelTarget) DeliveryResult {
		n := RenderOffline(info)
		decision, rec := f.tracker.ResolveForOffline(sub.GuildID, target.ChannelID)
		var outcome Outcome
		var err error
		if decision == EditExisting {
			outcome = OutcomeEdited
			err = f.platform.EditNotification(ctx, rec.Ref, n)
		} else {
			outcome = OutcomeSent
			_, err = f.platform.SendNotification(ctx, target.ChannelID, n)
		}
		// Clear unconditionally so the next online cycle starts from scratch.
		f.tracker.Clear(sub.GuildID, target.ChannelID)
		if err != nil {
			return DeliveryResult{GuildID: sub.GuildID, ChannelID: target.ChannelID, Outcome: OutcomeFailed, Err: err}
		}
		return DeliveryResult{GuildID: sub.GuildID, ChannelID: target.ChannelID, Outcome: outcome}
	})
}

// deliver runs one isolated unit per (guild, channel) target. Units across
// recipients may run concurrently; the guard/role/message sequence inside one
// unit is strictly ordered.
func (f *Fanout) deliver(ctx context.Context, kind Kind, send func(db.Subscription, db.ChannelTarget) DeliveryResult) []DeliveryResult {
	subs, err := f.listSubs(ctx)
	if err != nil {
		slog.Error("subscription listing failed; fan-out aborted", slog.String("kind", string(kind)), slog.Any("err", err))
		return nil
	}

	type unit struct {
		sub    db.Subscription
		target db.ChannelTarget
	}
	var units []unit
	for _, sub := range subs {
		for _, target := range sub.Channels {
			units = append(units, unit{sub: sub, target: target})
		}
	}

	results := make([]DeliveryResult, len(units))
	sem := make(chan struct{}, f.concurrency())
	var wg sync.WaitGroup
	for i, u := range units {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, u unit) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = f.deliverOne(ctx, kind, u.sub, u.target, send)
		}(i, u)
	}
	wg.Wait()

	for _, r := range results {
		telemetry.CountDelivery(string(kind), string(r.Outcome))
		switch r.Outcome {
		case OutcomeFailed:
			slog.Error("notification delivery failed",
				slog.String("kind", string(kind)), slog.String("guild_id", r.GuildID),
				slog.String("channel_id", r.ChannelID), slog.Any("err", r.Err))
		case OutcomeSkippedStale, OutcomeSkippedNoPerms:
			slog.Warn("notification recipient skipped",
				slog.String("kind", string(kind)), slog.String("guild_id", r.GuildID),
				slog.String("channel_id", r.ChannelID), slog.String("reason", string(r.Outcome)))
		}
	}
	return results
}

func (f *Fanout) deliverOne(ctx context.Context, kind Kind, sub db.Subscription, target db.ChannelTarget, send func(db.Subscription, db.ChannelTarget) DeliveryResult) DeliveryResult {
	res := DeliveryResult{GuildID: sub.GuildID, ChannelID: target.ChannelID}

	// Entities may have been deleted since configuration; treat as stale
	// config, not an error.
	ok, err := f.platform.ChannelExists(ctx, sub.GuildID, target.ChannelID)
	if err != nil || !ok {
		res.Outcome = OutcomeSkippedStale
		res.Err = fmt.Errorf("channel %s unavailable: %w", target.ChannelID, err)
		if err == nil {
			res.Err = fmt.Errorf("channel %s no longer exists", target.ChannelID)
		}
		return res
	}
	if target.MentionRole && sub.MentionRoleID != "" {
		ok, err := f.platform.RoleExists(ctx, sub.GuildID, sub.MentionRoleID)
		if err != nil || !ok {
			res.Outcome = OutcomeSkippedStale
			res.Err = fmt.Errorf("mention role %s no longer exists", sub.MentionRoleID)
			return res
		}
	}

	if !f.guard.CanNotify(ctx, sub.GuildID, target.ChannelID) {
		res.Outcome = OutcomeSkippedNoPerms
		res.Err = fmt.Errorf("missing send/view capability in channel %s", target.ChannelID)
		return res
	}

	f.applyPresenceRole(ctx, kind, sub)

	return send(sub, target)
}

// applyPresenceRole adds the presence role on online, removes it on offline.
// Hierarchy violations and missing permissions are skipped, never escalated.
func (f *Fanout) applyPresenceRole(ctx context.Context, kind Kind, sub db.Subscription) {
	if sub.PresenceRoleID == "" {
		return
	}
	if ok, err := f.platform.RoleExists(ctx, sub.GuildID, sub.PresenceRoleID); err != nil || !ok {
		slog.Warn("presence role no longer exists", slog.String("guild_id", sub.GuildID), slog.String("role_id", sub.PresenceRoleID))
		return
	}
	if !f.guard.HasManageRoles(ctx, sub.GuildID) {
		return
	}
	if !f.guard.CanRaise(ctx, sub.GuildID, sub.PresenceRoleID) {
		slog.Warn("presence role outranks bot; skipping role update",
			slog.String("guild_id", sub.GuildID), slog.String("role_id", sub.PresenceRoleID))
		return
	}
	var err error
	if kind == KindOnline {
		err = f.platform.AddBotRole(ctx, sub.GuildID, sub.PresenceRoleID)
	} else {
		err = f.platform.RemoveBotRole(ctx, sub.GuildID, sub.PresenceRoleID)
	}
	if err != nil {
		slog.Warn("presence role update failed",
			slog.String("guild_id", sub.GuildID), slog.String("role_id", sub.PresenceRoleID), slog.Any("err", err))
	}
}

func (f *Fanout) concurrency() int {
	if f.MaxConcurrent <= 1 {
		return 1
	}
	return f.MaxConcurrent
}
