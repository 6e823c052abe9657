package domain

import "time"

// Strategy is a persisted set of generation recommendations for a channel.
// Only the latest record per channel is authoritative, older ones are kept for audit.
type Strategy struct {
	ID              int64
	ChannelID       string
	Recommended     []string
	Avoid           []string
	StyleHints      []string
	HookTemplates   []string
	IntervalMinutes int
	Rationale       string
	Confidence      float64
	ViewsLift       float64
	EngagementLift  float64
	SampleStrategy  int
	SampleControl   int
	Applied         bool // channel interval was updated from this record
	CreatedAt       time.Time
}
