package notify

import "fmt"

const (
	colorOnline  = 0xfe2a2a
	colorOffline = 0xacb3c1
)

// RenderOnline builds the live announcement payload.
func RenderOnline(info OnlineInfo) Notification {
	return Notification{
		Title: fmt.Sprintf("%s is now Live!", info.Username),
		Body:  fmt.Sprintf("**%s went live on Twitch**", info.Username),
		Fields: []Field{
			{Name: "Title", Value: fmt.Sprintf("[%s](%s)", info.Title, info.ChannelURL)},
			{Name: "Currently Playing", Value: info.Category, Inline: true},
			{Name: "Started", Value: fmt.Sprintf("<t:%d:R>", info.StartedAt.Unix()), Inline: true},
		},
		ImageURL:     info.ThumbnailURL,
		ThumbnailURL: info.ProfileURL,
		LinkLabel:    "Watch Live Now",
		LinkURL:      info.ChannelURL,
		Color:        colorOnline,
		Timestamp:    info.StartedAt,
	}
}

// RenderOffline builds the offline payload. With a VOD it links the recording
// and shows the stream length; without one it degrades to a channel link.
func RenderOffline(info OfflineInfo) Notification {
	n := Notification{
		Title: fmt.Sprintf("%s is now Offline", info.Username),
		Body:  fmt.Sprintf("**%s is now offline**", info.Username),
		Fields: []Field{
			{Name: "VOD Title", Value: fmt.Sprintf("[%s](%s)", info.Title, info.VodURL)},
		},
		ImageURL:     info.ThumbnailURL,
		ThumbnailURL: info.ProfileURL,
		LinkURL:      info.VodURL,
		Color:        colorOffline,
		Timestamp:    info.EndedAt,
	}
	if info.HasVod {
		n.Fields = append(n.Fields, Field{Name: "Stream Length", Value: info.Duration, Inline: true})
		n.LinkLabel = "Watch Past VOD"
	} else {
		n.LinkLabel = "No VOD: Visit Channel"
	}
	n.Fields = append(n.Fields, Field{Name: "Stream Ended", Value: fmt.Sprintf("<t:%d:R>", info.EndedAt.Unix()), Inline: true})
	return n
}
