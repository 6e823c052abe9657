package domain

// Script is the structured output of script synthesis
type Script struct {
	Title    string    `json:"title"`
	Hook     string    `json:"hook,omitempty"`
	Segments []Segment `json:"segments"`
}

// Segment is one narrated scene of a script
type Segment struct {
	Narration  string   `json:"narration"`
	Query      string   `json:"query"`
	Alternates []string `json:"alternates,omitempty"`
	Duration   int      `json:"duration"` // target seconds
	Rank       int      `json:"rank,omitempty"`
}

// TotalDuration returns the sum of segment target durations in seconds
func (s *Script) TotalDuration() int {
	total := 0
	for _, seg := range s.Segments {
		total += seg.Duration
	}
	return total
}

// TrendPlan is the plan payload produced by trend analysis
type TrendPlan struct {
	Angle        string        `json:"angle,omitempty"`
	SegmentCount int           `json:"segment_count"`
	Segments     []PlanSegment `json:"segments,omitempty"`
}

// PlanSegment is a planned segment of a trend-driven video
type PlanSegment struct {
	Query      string   `json:"query"`
	Alternates []string `json:"alternates,omitempty"`
	Duration   int      `json:"duration"`
	Note       string   `json:"note,omitempty"`
}
