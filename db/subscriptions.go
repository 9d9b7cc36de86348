package db

import (
	"context"
	"database/sql"
)

// ChannelTarget is one configured destination channel inside a guild.
type ChannelTarget struct {
	ChannelID   string
	MentionRole bool
}

// Subscription is a guild's notification configuration. It is written by the
// command surface and read-only to the notification core.
type Subscription struct {
	GuildID        string
	Channels       []ChannelTarget
	MentionRoleID  string
	PresenceRoleID string
}

// ListSubscriptions returns every guild subscription with its ordered channel targets.
func ListSubscriptions(ctx context.Context, dbx *sql.DB) ([]Subscription, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT s.guild_id, s.mention_role_id, s.presence_role_id, c.channel_id, c.mention_role
		 FROM subscriptions s
		 JOIN subscription_channels c ON c.guild_id = s.guild_id
		 ORDER BY s.guild_id, c.position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	var cur *Subscription
	for rows.Next() {
		var guildID, mentionRole, presenceRole string
		var target ChannelTarget
		if err := rows.Scan(&guildID, &mentionRole, &presenceRole, &target.ChannelID, &target.MentionRole); err != nil {
			return nil, err
		}
		if cur == nil || cur.GuildID != guildID {
			out = append(out, Subscription{GuildID: guildID, MentionRoleID: mentionRole, PresenceRoleID: presenceRole})
			cur = &out[len(out)-1]
		}
		cur.Channels = append(cur.Channels, target)
	}
	return out, rows.Err()
}

// GetSubscription returns one guild's subscription, or ok=false if it has none.
func GetSubscription(ctx context.Context, dbx *sql.DB, guildID string) (Subscription, bool, error) {
	sub := Subscription{GuildID: guildID}
	row := dbx.QueryRowContext(ctx,
		`SELECT mention_role_id, presence_role_id FROM subscriptions WHERE guild_id=$1`, guildID)
	if err := row.Scan(&sub.MentionRoleID, &sub.PresenceRoleID); err != nil {
		if err == sql.ErrNoRows {
			return sub, false, nil
		}
		return sub, false, err
	}
	rows, err := dbx.QueryContext(ctx,
		`SELECT channel_id, mention_role FROM subscription_channels WHERE guild_id=$1 ORDER BY position`, guildID)
	if err != nil {
		return sub, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var target ChannelTarget
		if err := rows.Scan(&target.ChannelID, &target.MentionRole); err != nil {
			return sub, false, err
		}
		sub.Channels = append(sub.Channels, target)
	}
	return sub, true, rows.Err()
}

// UpsertSubscription replaces a guild's subscription and channel targets.
// Used by the configuration command surface; the notification core never writes here.
func UpsertSubscription(ctx context.Context, dbx *sql.DB, sub Subscription) error {
	tx, err := dbx.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions (guild_id, mention_role_id, presence_role_id, created_at, updated_at)
		 VALUES ($1,$2,$3,NOW(),NOW())
		 ON CONFLICT (guild_id) DO UPDATE SET
		   mention_role_id=EXCLUDED.mention_role_id,
		   presence_role_id=EXCLUDED.presence_role_id,
		   updated_at=NOW()`,
		sub.GuildID, sub.MentionRoleID, sub.PresenceRoleID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscription_channels WHERE guild_id=$1`, sub.GuildID); err != nil {
		return err
	}
	for i, c := range sub.Channels {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscription_channels (guild_id, channel_id, mention_role, position) VALUES ($1,$2,$3,$4)`,
			sub.GuildID, c.ChannelID, c.MentionRole, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteSubscription removes a guild entirely (leave command).
func DeleteSubscription(ctx context.Context, dbx *sql.DB, guildID string) error {
	_, err := dbx.ExecContext(ctx, `DELETE FROM subscriptions WHERE guild_id=$1`, guildID)
	return err
}
