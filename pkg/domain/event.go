package domain

import (
	"encoding/json"
	"time"
)

// Severity of an event log entry
type Severity string

// enum of severities
const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is an append-only log entry, ChannelID is empty for global events
type Event struct {
	ID        int64
	ChannelID string
	Timestamp time.Time
	Severity  Severity
	Category  Category
	Message   string
	Payload   json.RawMessage
}

// EventFilter represents criteria for listing events
type EventFilter struct {
	ChannelID  string
	Categories []Category
	Severities []Severity
	Since      time.Time
	Limit      int
}

// CategoryCount is the number of events of one category for a channel
type CategoryCount struct {
	ChannelID string
	Category  Category
	Count     int
}
