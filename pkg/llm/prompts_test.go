package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/shortcast/pkg/domain"
)

// promptServer replies with a fixed completion and captures the last user prompt
func promptServer(t *testing.T, content string, prompt *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if prompt != nil && len(req.Messages) > 1 {
			*prompt = req.Messages[1].Content
		}
		writeCompletion(w, content)
	}))
}

func TestClient_Script(t *testing.T) {
	content := "```json\n" + `{"title": "5 Hottest Deserts", "hook": "Think you can handle heat?", "segments": [
		{"narration": " Number five, the Mojave. ", "query": "mojave desert", "alternates": ["desert road"], "duration": 9, "rank": 5},
		{"narration": "Number four.", "query": "sahara dunes", "duration": 9, "rank": 4}]}` + "\n```"
	var prompt string
	server := promptServer(t, content, &prompt)
	defer server.Close()

	c := testClient(t, server.URL, nil, "key1")
	script, err := c.Script(context.Background(), ScriptRequest{
		Topic:        "Top 5 hottest deserts",
		Format:       domain.FormatRanked,
		Descriptor:   domain.Descriptor{Theme: "geography", Tone: "curious"},
		HookTemplate: "You won't believe {topic}",
		Hints:        &Hints{StyleHints: []string{"short sentences"}, Avoid: []string{"oceans"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "5 Hottest Deserts", script.Title)
	require.Len(t, script.Segments, 2)
	assert.Equal(t, "Number five, the Mojave.", script.Segments[0].Narration)
	assert.Equal(t, 5, script.Segments[0].Rank)
	assert.Equal(t, []string{"desert road"}, script.Segments[0].Alternates)
	assert.Equal(t, 18, script.TotalDuration())

	assert.Contains(t, prompt, "Top 5 hottest deserts")
	assert.Contains(t, prompt, "5 ranked segments")
	assert.Contains(t, prompt, "You won't believe {topic}")
	assert.Contains(t, prompt, "short sentences")
	assert.Contains(t, prompt, "oceans")
}

func TestClient_ScriptInvalid(t *testing.T) {
	server := promptServer(t, "sorry, I can't help with that", nil)
	defer server.Close()

	c := testClient(t, server.URL, nil, "key1")
	_, err := c.Script(context.Background(), ScriptRequest{Topic: "x", Format: domain.FormatSequential, Simple: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrScriptInvalid)
	assert.Equal(t, domain.CatScriptInvalid, domain.CategoryOf(err))
}

func TestBuildScriptPrompt(t *testing.T) {
	t.Run("sequential simple", func(t *testing.T) {
		p := buildScriptPrompt(ScriptRequest{Topic: "volcanoes", Format: domain.FormatSequential, Simple: true,
			Descriptor: domain.Descriptor{Theme: "nature"}})
		assert.Contains(t, p, "exactly 10 segments")
		assert.Contains(t, p, "6 seconds")
		assert.NotContains(t, p, "nature", "simple variant omits the descriptor")
	})

	t.Run("trend plan", func(t *testing.T) {
		plan := &domain.TrendPlan{Angle: "what it means", SegmentCount: 2, Segments: []domain.PlanSegment{
			{Query: "eclipse sky", Alternates: []string{"dark sky"}, Duration: 7, Note: "open wide"},
			{Query: "telescope", Duration: 8},
		}}
		p := buildScriptPrompt(ScriptRequest{Topic: "solar eclipse", Format: domain.FormatTrend, Plan: plan})
		assert.Contains(t, p, "exactly 2 segments")
		assert.Contains(t, p, "Angle: what it means")
		assert.Contains(t, p, "1. query: eclipse sky, duration: 7s, alternates: dark sky, note: open wide")
		assert.Contains(t, p, "2. query: telescope, duration: 8s")
	})
}

func TestClient_Topic(t *testing.T) {
	var prompt string
	server := promptServer(t, `{"topic": " Hidden caves of Vietnam "}`, &prompt)
	defer server.Close()

	c := testClient(t, server.URL, nil, "key1")
	topic, err := c.Topic(context.Background(), TopicRequest{
		Descriptor: domain.Descriptor{Theme: "travel"},
		Format:     domain.FormatRanked,
		Hints:      &Hints{Recommended: []string{"deserts"}, Avoid: []string{"cities"}},
		Exclude:    []string{"Top 5 hottest deserts"},
		Rejected:   []string{"Hottest deserts on earth"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hidden caves of Vietnam", topic)
	assert.Contains(t, prompt, "travel")
	assert.Contains(t, prompt, "top-5 countdown")
	assert.Contains(t, prompt, "- Top 5 hottest deserts")
	assert.Contains(t, prompt, "- Hottest deserts on earth")
	assert.Contains(t, prompt, "deserts")
}

func TestClient_TopicEmpty(t *testing.T) {
	server := promptServer(t, `{"topic": ""}`, nil)
	defer server.Close()
	c := testClient(t, server.URL, nil, "key1")
	_, err := c.Topic(context.Background(), TopicRequest{})
	require.Error(t, err)
}

func TestClient_AltQueries(t *testing.T) {
	server := promptServer(t, `{"queries": ["Desert Dunes", "desert dunes", "", "sand", "dry land", "heat"]}`, nil)
	defer server.Close()

	c := testClient(t, server.URL, nil, "key1")
	res, err := c.AltQueries(context.Background(), "desert dunes", "the dunes move", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"sand", "dry land"}, res, "original query and duplicates are dropped")
}

func TestClient_AdviseStrategy(t *testing.T) {
	var prompt string
	server := promptServer(t, `{"style_hints": ["start with a number"], "hook_templates": ["Did you know {topic}?"],
		"rationale": "countdowns retain better"}`, &prompt)
	defer server.Close()

	c := testClient(t, server.URL, nil, "key1")
	res, err := c.AdviseStrategy(context.Background(), StrategyInput{
		Top:       []PerformanceSample{{Topic: "deserts", Views: 42, Engagement: 0.1}},
		Bottom:    []PerformanceSample{{Topic: "lakes", Views: 3}},
		ViewsLift: 2.5,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"start with a number"}, res.StyleHints)
	assert.Equal(t, []string{"Did you know {topic}?"}, res.HookTemplates)
	assert.Equal(t, "countdowns retain better", res.Rationale)
	assert.Contains(t, prompt, "views lift +250%")
	assert.Contains(t, prompt, "- deserts (views 42")
}

func TestClient_AnalyzeTrend(t *testing.T) {
	server := promptServer(t, `{"approved": true, "format": "X", "confidence": 1.7, "urgency": "extreme",
		"plan": {"angle": "why now", "segment_count": 1, "segments": [{"query": "storm", "duration": 40}]}}`, nil)
	defer server.Close()

	c := testClient(t, server.URL, nil, "key1")
	v, err := c.AnalyzeTrend(context.Background(), TrendInput{Topic: "storm", Article: "long article"})
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.Equal(t, domain.FormatTrend, v.Format)
	assert.InDelta(t, 1.0, v.Confidence, 0.0001)
	assert.Equal(t, domain.UrgencyLow, v.Urgency)
	assert.Equal(t, 3, v.Plan.SegmentCount)
	assert.Equal(t, 15, v.Plan.Segments[0].Duration)
}

func TestClient_Diagnose(t *testing.T) {
	var prompt string
	server := promptServer(t, "  The encoder binary lacks libx264. Install a full ffmpeg build.  ", &prompt)
	defer server.Close()

	c := testClient(t, server.URL, nil, "key1")
	ts := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	res, err := c.Diagnose(context.Background(), "ch1", domain.CatEncoder, []*domain.Event{
		{Timestamp: ts, Severity: domain.SeverityError, Message: "encode failed", Payload: []byte(`{"stderr":"Unknown encoder"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, "The encoder binary lacks libx264. Install a full ffmpeg build.", res)
	assert.Contains(t, prompt, `category "encoder"`)
	assert.Contains(t, prompt, "2024-05-10 12:00:00 [error] encode failed payload: {\"stderr\":\"Unknown encoder\"}")
}

func TestExtractObject(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: "here you go: {\"a\": {\"b\": 2}} thanks", want: `{"a": {"b": 2}}`},
		{in: "no json", wantErr: true},
		{in: "} reversed {", wantErr: true},
	}
	for _, tt := range tests {
		res, err := extractObject(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, res)
	}
}
