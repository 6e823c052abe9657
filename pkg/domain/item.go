package domain

import "time"

// ItemStatus is the lifecycle state of a generation attempt
type ItemStatus string

// enum of item statuses
const (
	StatusPlanned    ItemStatus = "planned"
	StatusGenerating ItemStatus = "generating"
	StatusReady      ItemStatus = "ready"
	StatusPublishing ItemStatus = "publishing"
	StatusPublished  ItemStatus = "published"
	StatusFailed     ItemStatus = "failed"
)

// forward transitions allowed by the item lifecycle. planned->failed covers an item that never
// started generating: the work dir can't be made, or the worker was interrupted before the pipeline.
// A ready item fails only through publishing.
var transitions = map[ItemStatus][]ItemStatus{
	StatusPlanned:    {StatusGenerating, StatusFailed},
	StatusGenerating: {StatusReady, StatusFailed},
	StatusReady:      {StatusPublishing},
	StatusPublishing: {StatusPublished, StatusFailed},
}

// rollbacks allowed when an in-flight operation is canceled or deferred
var rollbacks = map[ItemStatus]ItemStatus{
	StatusGenerating: StatusPlanned,
	StatusPublishing: StatusReady,
}

// CanTransition reports whether moving from one status to another follows the lifecycle
func CanTransition(from, to ItemStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PriorStatus returns the status an in-flight item rolls back to, false for non-rollback states
func PriorStatus(s ItemStatus) (ItemStatus, bool) {
	prev, ok := rollbacks[s]
	return prev, ok
}

// Terminal reports whether the status is final
func (s ItemStatus) Terminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// ABGroup is the experiment arm an item was assigned to
type ABGroup string

// enum of A/B arms
const (
	GroupStrategy ABGroup = "strategy"
	GroupControl  ABGroup = "control"
)

// Item represents one generated video artifact and its lifecycle record
type Item struct {
	ID           string
	ChannelID    string
	Title        string
	Topic        string
	TopicKey     string // normalized form used for dedup
	Format       Format
	Description  string
	Tags         []string
	ArtifactPath string
	ExternalID   string
	Status       ItemStatus
	ScheduledAt  time.Time
	PublishedAt  *time.Time
	Attempts     int
	ErrorCause   Category
	ErrorMessage string
	Snapshot     *StrategySnapshot
	Group        ABGroup
	TrendID      *int64
	Metrics      Metrics
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StrategySnapshot is captured at generation time and never changed afterwards
type StrategySnapshot struct {
	StrategyID   int64    `json:"strategy_id,omitempty"`
	Variant      ABGroup  `json:"variant"`
	Source       string   `json:"source"` // trend, strategy or descriptor
	Applied      bool     `json:"applied"`
	Recommended  []string `json:"recommended,omitempty"`
	Avoided      []string `json:"avoided,omitempty"`
	StyleHints   []string `json:"style_hints,omitempty"`
	HookTemplate string   `json:"hook_template,omitempty"`
	Confidence   float64  `json:"confidence"`
}

// Metrics holds observed post-publication performance of an item
type Metrics struct {
	Views            int64
	Likes            int64
	Comments         int64
	AvgRetention     *float64
	ClickThrough     *float64
	MetricsUpdatedAt *time.Time
}

// Engagement returns likes plus comments per view
func (m Metrics) Engagement() float64 {
	if m.Views <= 0 {
		return 0
	}
	return float64(m.Likes+m.Comments) / float64(m.Views)
}

// ItemFilter represents filtering criteria for listing items of a channel
type ItemFilter struct {
	ChannelID string
	Statuses  []ItemStatus
	Group     ABGroup
	Since     time.Time // created or published after, zero means no bound
	Published bool      // apply Since to publish time instead of creation time
	Limit     int
}

// AllowedFrom returns the statuses an item may move to the given status from
func AllowedFrom(to ItemStatus) []ItemStatus {
	var res []ItemStatus
	for _, from := range []ItemStatus{StatusPlanned, StatusGenerating, StatusReady, StatusPublishing} {
		if CanTransition(from, to) {
			res = append(res, from)
		}
	}
	return res
}
