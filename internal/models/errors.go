package models

import "errors"

// Common validation errors for models.
var (
	// ErrChannelIDRequired indicates a channel without an identifier.
	ErrChannelIDRequired = errors.New("channel id is required")

	// ErrStreamURLRequired indicates a missing stream URL.
	ErrStreamURLRequired = errors.New("stream url is required")

	// ErrInvalidSurface indicates an unknown surface name.
	ErrInvalidSurface = errors.New("invalid surface: must be 'embedded' or 'floating'")
)
