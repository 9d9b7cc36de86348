// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for stream status, broadcaster lookup, and listing archived VODs, using an
// app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const helixMaxRetries = 3

// HelixClient provides the minimal methods needed for live-status resolution.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

// Stream is one entry from /helix/streams; present only while the channel is live.
type Stream struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	GameName  string    `json:"game_name"`
	StartedAt time.Time `json:"started_at"`
}

// User is a broadcaster profile from /helix/users.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Video is one archive entry from /helix/videos. StreamID ties a VOD back to
// the live broadcast it was recorded from.
type Video struct {
	ID           string `json:"id"`
	StreamID     string `json:"stream_id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Duration     string `json:"duration"`
	ThumbnailURL string `json:"thumbnail_url"`
	CreatedAt    string `json:"created_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// get performs an authorized Helix GET with 401-refresh and 5xx retry.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt < helixMaxRetries+1; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.twitch.tv"+path, nil)
		if err != nil {
			return err
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			closeBody(resp)
			hc.AppTokenSource.Invalidate()
			lastErr = fmt.Errorf("helix %s: unauthorized", path)
			continue
		case resp.StatusCode >= 500:
			closeBody(resp)
			lastErr = fmt.Errorf("helix %s: %s", path, resp.Status)
			continue
		case resp.StatusCode != http.StatusOK:
			closeBody(resp)
			return fmt.Errorf("helix %s: %s", path, resp.Status)
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		closeBody(resp)
		return err
	}
	return lastErr
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// GetStreams returns the live stream entries for a broadcaster id. An empty
// slice means the channel is offline (or metadata is not queryable yet).
func (hc *HelixClient) GetStreams(ctx context.Context, userID string) ([]Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	q := url.Values{}
	q.Set("user_id", userID)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/helix/streams", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetUserByID resolves a broadcaster profile by user id.
func (hc *HelixClient) GetUserByID(ctx context.Context, userID string) (User, error) {
	if userID == "" {
		return User{}, fmt.Errorf("userID empty")
	}
	q := url.Values{}
	q.Set("id", userID)
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.get(ctx, "/helix/users", q, &body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("user not found")
	}
	return body.Data[0], nil
}

// ListVideos lists archive videos for a user, newest first.
func (hc *HelixClient) ListVideos(ctx context.Context, userID string, first int) ([]Video, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	if first <= 0 {
		first = 20
	}
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("type", "archive")
	q.Set("period", "day")
	q.Set("sort", "time")
	q.Set("first", fmt.Sprintf("%d", first))
	var body struct {
		Data []Video `json:"data"`
	}
	if err := hc.get(ctx, "/helix/videos", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}
