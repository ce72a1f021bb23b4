package models

import "time"

// RecordingStatusRecording is the only status the recording service reports
// for an in-progress recording.
const RecordingStatusRecording = "recording"

// RecordingSession is a recording as reported by the external recording service.
type RecordingSession struct {
	ID              string    `json:"id"`
	ChannelID       string    `json:"channel_id"`
	Title           string    `json:"title,omitempty"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
}

// IsRecording reports whether the session is currently recording.
func (r *RecordingSession) IsRecording() bool {
	return r != nil && r.Status == RecordingStatusRecording
}
