package domain

import "time"

// Urgency of a trend candidate
type Urgency string

// enum of urgency levels
const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// Rank returns a sortable weight, higher is more urgent
func (u Urgency) Rank() int {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}

// TrendCandidate is a topic fetched from a trend feed, analyzed and planned for generation.
// Lifecycle flags only move from false to true.
type TrendCandidate struct {
	ID                   int64
	Topic                string
	TopicKey             string
	Source               string
	Category             string
	Region               string
	VolumeBucket         string
	Link                 string
	Summary              string
	FetchedAt            time.Time
	AnalyzedAt           *time.Time
	Approved             *bool
	FormatRecommendation Format
	Confidence           float64
	Urgency              Urgency
	Plan                 *TrendPlan
	Planned              bool
	Generated            bool
	Published            bool
}

// TrendFilter represents criteria for listing trend candidates, nil fields are not filtered
type TrendFilter struct {
	Approved  *bool
	Analyzed  *bool
	Planned   *bool
	Generated *bool
	Published *bool
	Limit     int
}

// TrendFlag names a lifecycle flag of a trend candidate
type TrendFlag string

// enum of trend lifecycle flags
const (
	TrendPlanned   TrendFlag = "planned"
	TrendGenerated TrendFlag = "generated"
	TrendPublished TrendFlag = "published"
)
