package notify

import (
	"sync"
	"time"
)

// Decision is the outcome of consulting the tracker for an offline notification.
type Decision int

const (
	// SendNew means no fresh online announcement exists; post a standalone message.
	SendNew Decision = iota
	// EditExisting means the tracked online announcement is still fresh; edit it in place.
	EditExisting
)

// Record is one tracked notification for a (guild, channel) recipient.
type Record struct {
	Ref      MessageRef
	PostedAt time.Time
}

type trackerKey struct {
	guildID   string
	channelID string
}

// Tracker is the transient registry of last-posted notifications, keyed per
// (guild, channel). It lives for one online→offline cycle per recipient and is
// not persisted; a process restart loses in-flight tracking, which is an
// accepted degradation.
type Tracker struct {
	mu        sync.Mutex
	records   map[trackerKey]Record
	freshness time.Duration
	now       func() time.Time
}

// NewTracker creates a tracker with the given freshness window (how long an
// online announcement stays editable after posting).
func NewTracker(freshness time.Duration) *Tracker {
	return &Tracker{
		records:   make(map[trackerKey]Record),
		freshness: freshness,
		now:       time.Now,
	}
}

// RecordSent stores the reference for a just-posted online notification,
// overwriting any prior record for the same recipient.
func (t *Tracker) RecordSent(guildID, channelID string, ref MessageRef, postedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[trackerKey{guildID, channelID}] = Record{Ref: ref, PostedAt: postedAt}
}

// ResolveForOffline decides between editing the tracked online announcement
// and sending a new message. The boundary is exclusive: a record exactly
// freshness old is already stale.
func (t *Tracker) ResolveForOffline(guildID, channelID string) (Decision, Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[trackerKey{guildID, channelID}]
	if !ok {
		return SendNew, Record{}
	}
	if t.now().Sub(rec.PostedAt) < t.freshness {
		return EditExisting, rec
	}
	return SendNew, Record{}
}

// Clear removes the record for a recipient. Called unconditionally once the
// offline notification is delivered so no two consecutive online cycles reuse
// a stale record.
func (t *Tracker) Clear(guildID, channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, trackerKey{guildID, channelID})
}

// SweepOlderThan drops records older than maxAge and returns how many were
// removed. Used by the scheduled sweep so a crashed offline cycle cannot pin
// entries forever.
func (t *Tracker) SweepOlderThan(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	cutoff := t.now().Add(-maxAge)
	for k, rec := range t.records {
		if rec.PostedAt.Before(cutoff) {
			delete(t.records, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
