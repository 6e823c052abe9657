package domain

import "time"

// Format is the structural template of a video
type Format string

// enum of supported formats
const (
	FormatSequential Format = "A" // ten equal segments
	FormatRanked     Format = "B" // ranked countdown, five segments
	FormatTrend      Format = "C" // driven by a trend plan payload
)

// Valid reports whether the format is one of the supported variants
func (f Format) Valid() bool {
	switch f {
	case FormatSequential, FormatRanked, FormatTrend:
		return true
	}
	return false
}

// PauseReason records why a channel was deactivated
type PauseReason string

// enum of pause reasons
const (
	PauseNone     PauseReason = ""
	PauseQuota    PauseReason = "quota"
	PauseAuth     PauseReason = "auth"
	PauseFailures PauseReason = "failures"
	PauseManual   PauseReason = "manual"
)

// AutoResumed reports whether channels paused for this reason are resumed without an operator.
// Such a reason never replaces another pause reason.
func (r PauseReason) AutoResumed() bool { return r == PauseQuota }

// interval bounds enforced on stored channels
const (
	MinChannelInterval = 15
	MaxChannelInterval = 240
)

// Channel represents a tenant, a single publishing destination with its own credentials and cadence
type Channel struct {
	ID              string
	Name            string
	Descriptor      Descriptor
	Format          Format
	IntervalMinutes int
	Active          bool
	PauseReason     PauseReason
	CredentialID    string
	Flags           ChannelFlags
	CreatedAt       time.Time
	LastPublishAt   *time.Time
	UpdatedAt       time.Time
}

// Descriptor is the creative description of a channel
type Descriptor struct {
	Theme string `json:"theme"`
	Tone  string `json:"tone"`
	Style string `json:"style"`
}

// ChannelFlags holds per-channel feature flags
type ChannelFlags struct {
	DedupWindowDays         *int     `json:"dedup_window_days,omitempty"`
	ApplyStrategyAuto       bool     `json:"apply_strategy_auto"`
	StrategyConfidenceFloor *float64 `json:"strategy_confidence_floor,omitempty"`
	Region                  string   `json:"region,omitempty"`
	Language                string   `json:"language,omitempty"`
}

// DedupWindow returns the dedup look-back for the channel, falling back to def when the flag is unset
func (c *Channel) DedupWindow(def int) time.Duration {
	days := def
	if c.Flags.DedupWindowDays != nil {
		days = *c.Flags.DedupWindowDays
	}
	if days < 0 {
		days = 0
	}
	return time.Duration(days) * 24 * time.Hour
}

// ConfidenceFloor returns the strategy confidence floor for the channel, falling back to def
func (c *Channel) ConfidenceFloor(def float64) float64 {
	if c.Flags.StrategyConfidenceFloor != nil {
		return *c.Flags.StrategyConfidenceFloor
	}
	return def
}

// Interval returns the publish interval as a duration
func (c *Channel) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}
