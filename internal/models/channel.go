package models

import "strings"

// Channel is a playable channel as returned by the channel resolution service.
type Channel struct {
	// ID is the channel identifier used by the platform.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Number is the channel number (tvg-chno) if specified.
	Number int `json:"number,omitempty"`

	// LogoURL is the URL to the channel logo.
	LogoURL string `json:"logo_url,omitempty"`

	// GroupTitle is the category/group the channel belongs to.
	GroupTitle string `json:"group_title,omitempty"`

	// StreamURL is the direct upstream stream URL.
	StreamURL string `json:"stream_url,omitempty"`

	// ProxyURL is the platform relay URL for this channel. Preferred over
	// StreamURL so that every stream is served from the same origin.
	ProxyURL string `json:"proxy_url,omitempty"`
}

// PlaybackURL returns the URL the player should use: the proxied URL when
// present, else the direct stream URL.
func (c Channel) PlaybackURL() string {
	if u := strings.TrimSpace(c.ProxyURL); u != "" {
		return u
	}
	return strings.TrimSpace(c.StreamURL)
}

// Validate performs basic validation on the channel.
func (c Channel) Validate() error {
	if c.ID == "" {
		return ErrChannelIDRequired
	}
	if c.PlaybackURL() == "" {
		return ErrStreamURLRequired
	}
	return nil
}
