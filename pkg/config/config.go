package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/umputun/shortcast/pkg/domain"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Store struct {
		Path            string        `yaml:"path" json:"path" jsonschema:"default=./channels.db,description=Path to the sqlite store"`
		MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=1h,description=Connection maximum lifetime"`
	} `yaml:"store" json:"store" jsonschema:"description=Store configuration"`

	Paths struct {
		Temp   string `yaml:"temp" json:"temp" jsonschema:"default=./tmp,description=Per-item work directories"`
		Output string `yaml:"output" json:"output" jsonschema:"default=./output,description=Final video artifacts"`
		Tokens string `yaml:"tokens" json:"tokens" jsonschema:"default=./tokens,description=Per-channel credential token files"`
		Music  string `yaml:"music" json:"music" jsonschema:"required,description=Background music library"`
	} `yaml:"paths" json:"paths" jsonschema:"description=Filesystem locations"`

	Binaries struct {
		Paths       []string      `yaml:"paths" json:"paths" jsonschema:"description=Search path set for ffmpeg ffprobe and espeak-ng; PATH if empty"`
		EspeakVoice string        `yaml:"espeak_voice" json:"espeak_voice" jsonschema:"default=en-us,description=Voice of the local speech fallback"`
		Timeout     time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=10m,description=Maximum run time of a child process"`
	} `yaml:"binaries" json:"binaries" jsonschema:"description=External binaries"`

	LLM LLMConfig `yaml:"llm" json:"llm" jsonschema:"description=LLM provider configuration"`

	TTS TTSConfig `yaml:"tts" json:"tts" jsonschema:"description=Text-to-speech provider configuration"`

	Stock StockConfig `yaml:"stock" json:"stock" jsonschema:"description=Stock clip provider configuration"`

	Upload UploadConfig `yaml:"upload" json:"upload" jsonschema:"description=Upload platform configuration"`

	Quotas []QuotaConfig `yaml:"quotas" json:"quotas" jsonschema:"description=Daily limits of external providers"`

	Schedule struct {
		IntervalMin     int           `yaml:"interval_min" json:"interval_min" jsonschema:"default=15,description=Lower clamp of the publish interval in minutes"`
		IntervalMax     int           `yaml:"interval_max" json:"interval_max" jsonschema:"default=180,description=Upper clamp of the publish interval in minutes"`
		Lead            time.Duration `yaml:"lead" json:"lead" jsonschema:"default=3m,description=Generation starts this long before a publish slot"`
		GenAttempts     int           `yaml:"gen_attempts" json:"gen_attempts" jsonschema:"default=3,description=Generation attempts per slot"`
		FailureLimit    int           `yaml:"failure_limit" json:"failure_limit" jsonschema:"default=3,description=Consecutive failures with the same cause pausing a channel"`
		DedupWindowDays int           `yaml:"dedup_window_days" json:"dedup_window_days" jsonschema:"default=30,description=Topic duplicate look-back in days"`
		TopicAttempts   int           `yaml:"topic_attempts" json:"topic_attempts" jsonschema:"default=3,description=Topic proposals per slot"`
		ConfidenceFloor float64       `yaml:"confidence_floor" json:"confidence_floor" jsonschema:"default=0.6,minimum=0,maximum=1,description=Minimum strategy confidence applied automatically"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Scheduler configuration"`

	Pipeline struct {
		Attempts  int     `yaml:"attempts" json:"attempts" jsonschema:"default=3,description=Attempts per pipeline stage"`
		MusicGain float64 `yaml:"music_gain" json:"music_gain" jsonschema:"default=0.13,description=Linear gain of the music bed"`
		Grade     string  `yaml:"grade" json:"grade" jsonschema:"description=Color grade preset: warm cool vivid or cinematic"`
		Zoom      bool    `yaml:"zoom" json:"zoom" jsonschema:"default=false,description=Slow zoom-in on clips"`
		KeepWork  bool    `yaml:"keep_work" json:"keep_work" jsonschema:"default=false,description=Keep work directories for debugging"`
		CRF       int     `yaml:"crf" json:"crf" jsonschema:"default=23,description=Encoder constant rate factor"`
		Bitrate   string  `yaml:"bitrate" json:"bitrate" jsonschema:"default=4M,description=Maximum video bitrate"`
		MinFreeMB int     `yaml:"min_free_mb" json:"min_free_mb" jsonschema:"default=1024,description=Free space required on the work volume"`
	} `yaml:"pipeline" json:"pipeline" jsonschema:"description=Generation pipeline configuration"`

	Feedback struct {
		CadenceHours         int `yaml:"cadence_hours" json:"cadence_hours" jsonschema:"default=6,description=Metrics refresh cadence"`
		StrategyRewriteHours int `yaml:"strategy_rewrite_hours" json:"strategy_rewrite_hours" jsonschema:"default=24,description=Strategy rewrite cadence"`
		MinSample            int `yaml:"min_sample" json:"min_sample" jsonschema:"default=3,description=Published items required per arm"`
		Concurrency          int `yaml:"concurrency" json:"concurrency" jsonschema:"default=4,description=Channels refreshed in parallel"`
	} `yaml:"feedback" json:"feedback" jsonschema:"description=Feedback loop configuration"`

	Trends struct {
		Disabled        bool          `yaml:"disabled" json:"disabled" jsonschema:"default=false,description=Disable trend ingestion"`
		FeedURL         string        `yaml:"feed_url" json:"feed_url" jsonschema:"description=Trend feed url; {region} is replaced with the channel region"`
		Region          string        `yaml:"region" json:"region" jsonschema:"default=US,description=Region used when no channel sets one"`
		Interval        time.Duration `yaml:"interval" json:"interval" jsonschema:"default=2h,description=Ingest period"`
		MinConfidence   float64       `yaml:"min_confidence" json:"min_confidence" jsonschema:"default=0.5,description=Approved verdicts below are rejected"`
		SkipArticles    bool          `yaml:"skip_articles" json:"skip_articles" jsonschema:"default=false,description=Analyse without the linked article text"`
	} `yaml:"trends" json:"trends" jsonschema:"description=Trend ingestion configuration"`

	Health struct {
		IntervalSec        int           `yaml:"interval_sec" json:"interval_sec" jsonschema:"default=300,description=Failure monitor interval"`
		FailureThreshold   int           `yaml:"failure_threshold" json:"failure_threshold" jsonschema:"default=20,description=Failures of one category pausing a channel"`
		FailureWindow      time.Duration `yaml:"failure_window" json:"failure_window" jsonschema:"default=24h,description=Failure evaluation window"`
		DiagnosisEvents    int           `yaml:"diagnosis_events" json:"diagnosis_events" jsonschema:"default=10,description=Event payloads analysed for a diagnosis"`
		EventRetentionDays int           `yaml:"event_retention_days" json:"event_retention_days" jsonschema:"default=30,description=Events older than this are pruned"`
		ArtifactRetention  time.Duration `yaml:"artifact_retention" json:"artifact_retention" jsonschema:"default=72h,description=Published artifacts older than this are removed"`
	} `yaml:"health" json:"health" jsonschema:"description=Supervisor health configuration"`

	Cache struct {
		RedisURL string `yaml:"redis_url" json:"redis_url" jsonschema:"description=Redis url of the analytics cache; in-memory if empty"`
		Prefix   string `yaml:"prefix" json:"prefix" jsonschema:"default=shortcast,description=Cache key prefix"`
	} `yaml:"cache" json:"cache" jsonschema:"description=Analytics cache configuration"`

	Server struct {
		Listen     string        `yaml:"listen" json:"listen" jsonschema:"description=Control API listen address; disabled if empty"`
		Timeout    time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
		AuthPasswd string        `yaml:"auth_passwd" json:"auth_passwd" jsonschema:"description=Basic auth password of the control API; optional"`
	} `yaml:"server" json:"server" jsonschema:"description=Control API configuration"`

	Channels []ChannelConfig `yaml:"channels" json:"channels" jsonschema:"description=Channels synchronised into the store at start"`
}

// LLMConfig holds LLM provider settings
type LLMConfig struct {
	APIKey      string        `yaml:"api_key" json:"api_key" jsonschema:"required,description=Primary API key"`
	APIKey2     string        `yaml:"api_key_2" json:"api_key_2" jsonschema:"description=Failover API key"`
	Endpoint    string        `yaml:"endpoint" json:"endpoint" jsonschema:"description=OpenAI-compatible API endpoint"`
	Model       string        `yaml:"model" json:"model" jsonschema:"default=gpt-4o-mini,description=Model name"`
	Temperature float64       `yaml:"temperature" json:"temperature" jsonschema:"default=0.7,minimum=0,maximum=2,description=Temperature for response generation"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" jsonschema:"default=2000,description=Maximum tokens in response"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Request timeout"`
	OllamaURL   string        `yaml:"ollama_url" json:"ollama_url" jsonschema:"description=Local ollama failover url"`
	OllamaModel string        `yaml:"ollama_model" json:"ollama_model" jsonschema:"default=llama3.1,description=Local ollama model"`
}

// TTSConfig holds speech provider settings
type TTSConfig struct {
	APIKey   string        `yaml:"api_key" json:"api_key" jsonschema:"description=API key; defaults to the LLM key"`
	Endpoint string        `yaml:"endpoint" json:"endpoint" jsonschema:"description=OpenAI-compatible API endpoint"`
	Model    string        `yaml:"model" json:"model" jsonschema:"default=tts-1,description=Speech model"`
	Speed    float64       `yaml:"speed" json:"speed" jsonschema:"default=1.0,description=Speech speed"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Request timeout"`
}

// StockConfig holds stock clip provider settings
type StockConfig struct {
	APIKey  string        `yaml:"api_key" json:"api_key" jsonschema:"required,description=Stock clip API key"`
	BaseURL string        `yaml:"base_url" json:"base_url" jsonschema:"description=Stock clip API base url"`
	PerPage int           `yaml:"per_page" json:"per_page" jsonschema:"default=15,description=Clips per search"`
	Rate    time.Duration `yaml:"rate" json:"rate" jsonschema:"default=1s,description=Minimum interval between requests"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Search timeout"`
}

// UploadConfig holds upload platform settings
type UploadConfig struct {
	ClientSecret      string        `yaml:"client_secret" json:"client_secret" jsonschema:"required,description=OAuth client secret json"`
	Endpoint          string        `yaml:"endpoint" json:"endpoint" jsonschema:"description=Upload API endpoint override"`
	AnalyticsEndpoint string        `yaml:"analytics_endpoint" json:"analytics_endpoint" jsonschema:"description=Analytics API endpoint override"`
	Units             int           `yaml:"units" json:"units" jsonschema:"default=1600,description=Quota units per upload"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=10m,description=Upload timeout"`
	CategoryID        string        `yaml:"category_id" json:"category_id" jsonschema:"default=24,description=Platform category of uploads"`
}

// QuotaConfig holds the daily limit of a provider
type QuotaConfig struct {
	Provider   string `yaml:"provider" json:"provider" jsonschema:"required,enum=llm,enum=tts,enum=stock,enum=upload,description=Provider name"`
	DailyLimit int    `yaml:"daily_limit" json:"daily_limit" jsonschema:"required,minimum=1,description=Units per day"`
	Timezone   string `yaml:"timezone" json:"timezone" jsonschema:"default=UTC,description=IANA zone of the midnight reset"`
	AutoResume bool   `yaml:"auto_resume" json:"auto_resume" jsonschema:"default=true,description=Resume quota-paused channels at reset"`
}

// ChannelConfig describes a channel synchronised into the store
type ChannelConfig struct {
	ID              string   `yaml:"id" json:"id" jsonschema:"required,description=Channel id"`
	Name            string   `yaml:"name" json:"name" jsonschema:"description=Display name; defaults to id"`
	Theme           string   `yaml:"theme" json:"theme" jsonschema:"required,description=Creative theme"`
	Tone            string   `yaml:"tone" json:"tone" jsonschema:"description=Narration tone"`
	Style           string   `yaml:"style" json:"style" jsonschema:"description=Visual style"`
	Format          string   `yaml:"format" json:"format" jsonschema:"default=A,enum=A,enum=B,enum=C,description=Video format"`
	Interval        int      `yaml:"interval" json:"interval" jsonschema:"default=60,description=Initial publish interval in minutes"`
	Credential      string   `yaml:"credential" json:"credential" jsonschema:"description=Credential id; defaults to channel id"`
	Account         string   `yaml:"account" json:"account" jsonschema:"description=Platform account of the credential"`
	TokenFile       string   `yaml:"token_file" json:"token_file" jsonschema:"description=OAuth token json imported at start"`
	Region          string   `yaml:"region" json:"region" jsonschema:"description=Trend region"`
	Language        string   `yaml:"language" json:"language" jsonschema:"description=Narration language"`
	DedupWindowDays *int     `yaml:"dedup_window_days" json:"dedup_window_days,omitempty" jsonschema:"description=Topic duplicate look-back override"`
	ApplyStrategy   bool     `yaml:"apply_strategy" json:"apply_strategy" jsonschema:"default=false,description=Apply strategy recommendations automatically"`
	ConfidenceFloor *float64 `yaml:"confidence_floor" json:"confidence_floor,omitempty" jsonschema:"description=Strategy confidence floor override"`
	Disabled        bool     `yaml:"disabled" json:"disabled" jsonschema:"default=false,description=Sync the channel as paused"`
}

// Domain converts the channel config to a store channel
func (c ChannelConfig) Domain() *domain.Channel {
	res := &domain.Channel{
		ID:              c.ID,
		Name:            c.Name,
		Descriptor:      domain.Descriptor{Theme: c.Theme, Tone: c.Tone, Style: c.Style},
		Format:          domain.Format(c.Format),
		IntervalMinutes: c.Interval,
		Active:          !c.Disabled,
		CredentialID:    c.Credential,
		Flags: domain.ChannelFlags{
			DedupWindowDays:         c.DedupWindowDays,
			ApplyStrategyAuto:       c.ApplyStrategy,
			StrategyConfidenceFloor: c.ConfidenceFloor,
			Region:                  c.Region,
			Language:                c.Language,
		},
	}
	if c.Disabled {
		res.PauseReason = domain.PauseManual
	}
	return res
}

// Load reads configuration from an optional YAML file and overlays the environment
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			// expand environment variables
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	setDefaults(&cfg)

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// envBinding maps an environment variable to a config field
type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func envString(dst func(c *Config) *string) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func envInt(dst func(c *Config) *int) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func envFloat(dst func(c *Config) *float64) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

var envBindings = []envBinding{
	{"LLM_API_KEY", envString(func(c *Config) *string { return &c.LLM.APIKey })},
	{"LLM_API_KEY_2", envString(func(c *Config) *string { return &c.LLM.APIKey2 })},
	{"LLM_ENDPOINT", envString(func(c *Config) *string { return &c.LLM.Endpoint })},
	{"LLM_MODEL", envString(func(c *Config) *string { return &c.LLM.Model })},
	{"OLLAMA_URL", envString(func(c *Config) *string { return &c.LLM.OllamaURL })},
	{"OLLAMA_MODEL", envString(func(c *Config) *string { return &c.LLM.OllamaModel })},
	{"TTS_API_KEY", envString(func(c *Config) *string { return &c.TTS.APIKey })},
	{"STOCK_CLIP_API_KEY", envString(func(c *Config) *string { return &c.Stock.APIKey })},
	{"MUSIC_LIBRARY_DIR", envString(func(c *Config) *string { return &c.Paths.Music })},
	{"UPLOAD_CLIENT_SECRET", envString(func(c *Config) *string { return &c.Upload.ClientSecret })},
	{"TOKEN_DIR", envString(func(c *Config) *string { return &c.Paths.Tokens })},
	{"DB_PATH", envString(func(c *Config) *string { return &c.Store.Path })},
	{"TEMP_DIR", envString(func(c *Config) *string { return &c.Paths.Temp })},
	{"OUTPUT_DIR", envString(func(c *Config) *string { return &c.Paths.Output })},
	{"POSTING_INTERVAL_MIN", envInt(func(c *Config) *int { return &c.Schedule.IntervalMin })},
	{"POSTING_INTERVAL_MAX", envInt(func(c *Config) *int { return &c.Schedule.IntervalMax })},
	{"DEDUP_WINDOW_DAYS", envInt(func(c *Config) *int { return &c.Schedule.DedupWindowDays })},
	{"APPLY_STRATEGY_CONFIDENCE_FLOOR", envFloat(func(c *Config) *float64 { return &c.Schedule.ConfidenceFloor })},
	{"FEEDBACK_CADENCE_HOURS", envInt(func(c *Config) *int { return &c.Feedback.CadenceHours })},
	{"STRATEGY_REWRITE_HOURS", envInt(func(c *Config) *int { return &c.Feedback.StrategyRewriteHours })},
	{"HEALTH_CHECK_INTERVAL_SEC", envInt(func(c *Config) *int { return &c.Health.IntervalSec })},
	{"EVENT_RETENTION_DAYS", envInt(func(c *Config) *int { return &c.Health.EventRetentionDays })},
	{"REDIS_URL", envString(func(c *Config) *string { return &c.Cache.RedisURL })},
	{"TREND_FEED_URL", envString(func(c *Config) *string { return &c.Trends.FeedURL })},
	{"LISTEN", envString(func(c *Config) *string { return &c.Server.Listen })},
	{"BINARY_PATHS", func(c *Config, v string) error {
		c.Binaries.Paths = splitPaths(v)
		return nil
	}},
}

// applyEnv overlays set environment variables, env wins over the file
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			return fmt.Errorf("%s=%q: %w", b.name, v, err)
		}
	}
	return nil
}

func splitPaths(v string) []string {
	var res []string
	for _, p := range strings.Split(v, ":") {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

func setDefaults(cfg *Config) {
	// store
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./channels.db"
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = 10
	}
	if cfg.Store.MaxIdleConns == 0 {
		cfg.Store.MaxIdleConns = 5
	}
	if cfg.Store.ConnMaxLifetime == 0 {
		cfg.Store.ConnMaxLifetime = time.Hour
	}

	// paths and binaries
	if cfg.Paths.Temp == "" {
		cfg.Paths.Temp = "./tmp"
	}
	if cfg.Paths.Output == "" {
		cfg.Paths.Output = "./output"
	}
	if cfg.Paths.Tokens == "" {
		cfg.Paths.Tokens = "./tokens"
	}
	if cfg.Binaries.EspeakVoice == "" {
		cfg.Binaries.EspeakVoice = "en-us"
	}
	if cfg.Binaries.Timeout == 0 {
		cfg.Binaries.Timeout = 10 * time.Minute
	}

	// providers
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2000
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.LLM.OllamaURL != "" && cfg.LLM.OllamaModel == "" {
		cfg.LLM.OllamaModel = "llama3.1"
	}
	if cfg.TTS.APIKey == "" {
		cfg.TTS.APIKey = cfg.LLM.APIKey
	}
	if cfg.TTS.Endpoint == "" && cfg.TTS.APIKey == cfg.LLM.APIKey {
		cfg.TTS.Endpoint = cfg.LLM.Endpoint
	}
	if cfg.TTS.Model == "" {
		cfg.TTS.Model = "tts-1"
	}
	if cfg.TTS.Speed == 0 {
		cfg.TTS.Speed = 1.0
	}
	if cfg.TTS.Timeout == 0 {
		cfg.TTS.Timeout = 30 * time.Second
	}
	if cfg.Stock.PerPage == 0 {
		cfg.Stock.PerPage = 15
	}
	if cfg.Stock.Rate == 0 {
		cfg.Stock.Rate = time.Second
	}
	if cfg.Stock.Timeout == 0 {
		cfg.Stock.Timeout = 30 * time.Second
	}
	if cfg.Upload.Units == 0 {
		cfg.Upload.Units = 1600
	}
	if cfg.Upload.Timeout == 0 {
		cfg.Upload.Timeout = 10 * time.Minute
	}
	if cfg.Upload.CategoryID == "" {
		cfg.Upload.CategoryID = "24"
	}
	setQuotaDefaults(cfg)

	// schedule
	if cfg.Schedule.IntervalMin == 0 {
		cfg.Schedule.IntervalMin = 15
	}
	if cfg.Schedule.IntervalMax == 0 {
		cfg.Schedule.IntervalMax = 180
	}
	if cfg.Schedule.Lead == 0 {
		cfg.Schedule.Lead = 3 * time.Minute
	}
	if cfg.Schedule.GenAttempts == 0 {
		cfg.Schedule.GenAttempts = 3
	}
	if cfg.Schedule.FailureLimit == 0 {
		cfg.Schedule.FailureLimit = 3
	}
	if cfg.Schedule.DedupWindowDays == 0 {
		cfg.Schedule.DedupWindowDays = 30
	}
	if cfg.Schedule.TopicAttempts == 0 {
		cfg.Schedule.TopicAttempts = 3
	}
	if cfg.Schedule.ConfidenceFloor == 0 {
		cfg.Schedule.ConfidenceFloor = 0.6
	}

	// pipeline
	if cfg.Pipeline.Attempts == 0 {
		cfg.Pipeline.Attempts = 3
	}
	if cfg.Pipeline.MusicGain == 0 {
		cfg.Pipeline.MusicGain = 0.13
	}
	if cfg.Pipeline.CRF == 0 {
		cfg.Pipeline.CRF = 23
	}
	if cfg.Pipeline.Bitrate == "" {
		cfg.Pipeline.Bitrate = "4M"
	}
	if cfg.Pipeline.MinFreeMB == 0 {
		cfg.Pipeline.MinFreeMB = 1024
	}

	// feedback
	if cfg.Feedback.CadenceHours == 0 {
		cfg.Feedback.CadenceHours = 6
	}
	if cfg.Feedback.StrategyRewriteHours == 0 {
		cfg.Feedback.StrategyRewriteHours = 24
	}
	if cfg.Feedback.MinSample == 0 {
		cfg.Feedback.MinSample = 3
	}
	if cfg.Feedback.Concurrency == 0 {
		cfg.Feedback.Concurrency = 4
	}

	// trends
	if cfg.Trends.Region == "" {
		cfg.Trends.Region = "US"
	}
	if cfg.Trends.Interval == 0 {
		cfg.Trends.Interval = 2 * time.Hour
	}
	if cfg.Trends.MinConfidence == 0 {
		cfg.Trends.MinConfidence = 0.5
	}

	// health
	if cfg.Health.IntervalSec == 0 {
		cfg.Health.IntervalSec = 300
	}
	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = 20
	}
	if cfg.Health.FailureWindow == 0 {
		cfg.Health.FailureWindow = 24 * time.Hour
	}
	if cfg.Health.DiagnosisEvents == 0 {
		cfg.Health.DiagnosisEvents = 10
	}
	if cfg.Health.EventRetentionDays == 0 {
		cfg.Health.EventRetentionDays = 30
	}
	if cfg.Health.ArtifactRetention == 0 {
		cfg.Health.ArtifactRetention = 72 * time.Hour
	}

	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "shortcast"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	// channels
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		if ch.Name == "" {
			ch.Name = ch.ID
		}
		if ch.Format == "" {
			ch.Format = string(domain.FormatSequential)
		}
		if ch.Interval == 0 {
			ch.Interval = 60
		}
		if ch.Credential == "" {
			ch.Credential = ch.ID
		}
	}
}

// setQuotaDefaults adds the providers missing from the config with their default limits
func setQuotaDefaults(cfg *Config) {
	defaults := []QuotaConfig{
		{Provider: domain.ProviderLLM, DailyLimit: 2000, Timezone: "UTC", AutoResume: true},
		{Provider: domain.ProviderTTS, DailyLimit: 2000, Timezone: "UTC", AutoResume: true},
		{Provider: domain.ProviderStock, DailyLimit: 4800, Timezone: "UTC", AutoResume: true},
		{Provider: domain.ProviderUpload, DailyLimit: 10000, Timezone: "America/Los_Angeles", AutoResume: true},
	}
	have := map[string]bool{}
	for i := range cfg.Quotas {
		if cfg.Quotas[i].Timezone == "" {
			cfg.Quotas[i].Timezone = "UTC"
		}
		have[cfg.Quotas[i].Provider] = true
	}
	for _, d := range defaults {
		if !have[d.Provider] {
			cfg.Quotas = append(cfg.Quotas, d)
		}
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	// required secrets
	if cfg.LLM.APIKey == "" {
		return errors.New("llm api key is required (LLM_API_KEY)")
	}
	if cfg.Stock.APIKey == "" {
		return errors.New("stock clip api key is required (STOCK_CLIP_API_KEY)")
	}
	if cfg.Upload.ClientSecret == "" {
		return errors.New("upload client secret is required (UPLOAD_CLIENT_SECRET)")
	}
	if cfg.Paths.Music == "" {
		return errors.New("music library dir is required (MUSIC_LIBRARY_DIR)")
	}

	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	if cfg.Schedule.IntervalMin < domain.MinChannelInterval || cfg.Schedule.IntervalMax > domain.MaxChannelInterval ||
		cfg.Schedule.IntervalMin > cfg.Schedule.IntervalMax {
		return fmt.Errorf("posting interval range [%d, %d] must be within [%d, %d]", cfg.Schedule.IntervalMin,
			cfg.Schedule.IntervalMax, domain.MinChannelInterval, domain.MaxChannelInterval)
	}
	if cfg.Schedule.DedupWindowDays < 0 {
		return errors.New("dedup window must be non-negative")
	}
	if cfg.Schedule.ConfidenceFloor < 0 || cfg.Schedule.ConfidenceFloor > 1 {
		return errors.New("strategy confidence floor must be between 0 and 1")
	}
	if cfg.Feedback.CadenceHours < 1 || cfg.Feedback.StrategyRewriteHours < 1 {
		return errors.New("feedback cadences must be at least one hour")
	}
	if cfg.Health.IntervalSec < 1 {
		return errors.New("health check interval must be at least one second")
	}
	if cfg.Server.Timeout < time.Second {
		return errors.New("server timeout must be at least 1 second")
	}

	for _, q := range cfg.Quotas {
		if q.DailyLimit < 1 {
			return fmt.Errorf("quota %s: daily limit must be positive", q.Provider)
		}
		if _, err := time.LoadLocation(q.Timezone); err != nil {
			return fmt.Errorf("quota %s: %w", q.Provider, err)
		}
	}

	seen := map[string]bool{}
	for _, ch := range cfg.Channels {
		if ch.ID == "" {
			return errors.New("channel id is required")
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate channel %s", ch.ID)
		}
		seen[ch.ID] = true
		if ch.Theme == "" {
			return fmt.Errorf("channel %s: theme is required", ch.ID)
		}
		if !domain.Format(ch.Format).Valid() {
			return fmt.Errorf("channel %s: invalid format %q", ch.ID, ch.Format)
		}
		if ch.Interval < domain.MinChannelInterval || ch.Interval > domain.MaxChannelInterval {
			return fmt.Errorf("channel %s: interval %d out of range", ch.ID, ch.Interval)
		}
	}
	return nil
}

// Secrets returns configured secret values, used to mask them in logs
func (c *Config) Secrets() []string {
	var res []string
	for _, s := range []string{c.LLM.APIKey, c.LLM.APIKey2, c.TTS.APIKey, c.Stock.APIKey, c.Upload.ClientSecret,
		c.Server.AuthPasswd} {
		if s != "" {
			res = append(res, s)
		}
	}
	return res
}

// Channel returns the configured channel by id
func (c *Config) Channel(id string) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}
