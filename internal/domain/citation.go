package domain

import (
	"fmt"
	"math"
	"net/url"
	"strings"
)

// NewCitation builds a Citation with its display timestamp and a deep link
// that starts playback at the cited second.
func NewCitation(videoID, sourceID, title string, startSeconds float64) *Citation {
	return &Citation{
		VideoID:      videoID,
		SourceID:     sourceID,
		Title:        title,
		StartSeconds: startSeconds,
		Timestamp:    FormatTimestamp(startSeconds),
		URL:          WatchURL(sourceID, startSeconds),
	}
}

// FormatTimestamp renders seconds as MM:SS, or H:MM:SS from one hour on.
// Fractions are truncated so the link never starts after the cited text.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// WatchURL returns the YouTube watch URL for sourceID at the given offset,
// or "" when sourceID is empty.
func WatchURL(sourceID string, seconds float64) string {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return ""
	}
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	q := url.Values{}
	q.Set("v", sourceID)
	return fmt.Sprintf("https://www.youtube.com/watch?%s&t=%ds", q.Encode(), int(seconds))
}
