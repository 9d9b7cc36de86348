package twitchapi

import "fmt"

// ParseDuration parses Twitch duration format like "3h15m42s" into seconds.
func ParseDuration(s string) int {
	var total, cur int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur = cur*10 + int(r-'0')
			continue
		}
		switch r {
		case 'h':
			total += cur * 3600
		case 'm':
			total += cur * 60
		case 's':
			total += cur
		}
		cur = 0
	}
	return total
}

// FormatDuration renders seconds as HH:MM:SS for display.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
