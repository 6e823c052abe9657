// Package llm talks to the completion providers: a primary and optional secondary openai-compatible
// key with failover to a local ollama model, plus prompt builders and response parsers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/retry"
)

// Config of the completion providers
type Config struct {
	APIKey      string
	APIKey2     string // failover key, optional
	Endpoint    string // openai-compatible base url, optional
	Model       string
	Temperature float64
	MaxTokens   int
	OllamaURL   string // local failover, optional
	OllamaModel string
	Timeout     time.Duration
	Attempts    int           // per backend, for transient and rate-limited errors
	RetryBase   time.Duration // first retry delay
}

// Request is a single completion request
type Request struct {
	System      string
	Prompt      string
	Temperature float64 // zero means config default
	MaxTokens   int     // zero means config default
	JSON        bool    // ask for a json object response
}

// Charger accounts provider usage
type Charger interface {
	Charge(ctx context.Context, provider string, units int) (*domain.ProviderQuota, error)
}

type backend interface {
	name() string
	complete(ctx context.Context, req Request) (string, error)
}

// Client completes prompts trying backends in order. A backend is skipped to the next one on
// quota, auth and permanent errors, transient and rate-limited ones are retried first.
type Client struct {
	backends []backend
	classify func(error) domain.ErrorClass
	charger  Charger
	cfg      Config
}

// NewClient makes a client from config. classify maps provider errors, charger may be nil.
func NewClient(cfg Config, classify func(error) domain.ErrorClass, charger Charger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	res := &Client{classify: classify, charger: charger, cfg: cfg}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	for i, key := range []string{cfg.APIKey, cfg.APIKey2} {
		if key == "" {
			continue
		}
		oc := openai.DefaultConfig(key)
		if cfg.Endpoint != "" {
			oc.BaseURL = cfg.Endpoint
		}
		oc.HTTPClient = httpClient
		res.backends = append(res.backends, &openaiBackend{id: fmt.Sprintf("openai#%d", i+1),
			client: openai.NewClientWithConfig(oc), model: cfg.Model})
	}
	if cfg.OllamaURL != "" {
		u, err := url.Parse(cfg.OllamaURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama url: %w", err)
		}
		res.backends = append(res.backends, &ollamaBackend{client: api.NewClient(u, httpClient), model: cfg.OllamaModel})
	}
	if len(res.backends) == 0 {
		return nil, errors.New("no llm backend configured")
	}
	return res, nil
}

// Complete returns the completion text of the first backend that succeeds
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if req.Temperature == 0 {
		req.Temperature = c.cfg.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	var lastErr error
	for i, b := range c.backends {
		policy := retry.Policy{Name: "llm " + b.name(), Attempts: c.cfg.Attempts, Base: c.cfg.RetryBase,
			Cap: 16 * time.Second, Classify: c.classify}
		var text string
		err := policy.Do(ctx, func(ctx context.Context) error {
			t, err := b.complete(ctx, req)
			if err != nil {
				return err
			}
			text = t
			return nil
		})
		if err == nil {
			c.charge(ctx)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if i < len(c.backends)-1 {
			log.Printf("[WARN] llm backend %s failed (%s), failing over: %v", b.name(), c.classOf(err), err)
		}
	}
	return "", c.wrap(lastErr)
}

func (c *Client) charge(ctx context.Context) {
	if c.charger == nil {
		return
	}
	if _, err := c.charger.Charge(ctx, domain.ProviderLLM, 1); err != nil {
		log.Printf("[WARN] can't charge llm quota: %v", err)
	}
}

func (c *Client) classOf(err error) domain.ErrorClass {
	if c.classify == nil {
		return domain.ClassPermanent
	}
	return c.classify(err)
}

// wrap annotates the final error with its failure category
func (c *Client) wrap(err error) error {
	switch c.classOf(err) {
	case domain.ClassQuota:
		return domain.Fail(domain.CatQuota, fmt.Errorf("llm: %v: %w", err, domain.ErrQuotaExhausted))
	case domain.ClassAuth:
		return domain.Fail(domain.CatAuth, fmt.Errorf("llm: %w", err))
	case domain.ClassRateLimited:
		return domain.Fail(domain.CatRateLimited, fmt.Errorf("llm: %w", err))
	case domain.ClassTransient:
		return domain.Fail(domain.CatTransient, fmt.Errorf("llm: %w", err))
	}
	return fmt.Errorf("llm: %w", err)
}

type openaiBackend struct {
	id     string
	client *openai.Client
	model  string
}

func (b *openaiBackend) name() string { return b.id }

func (b *openaiBackend) complete(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from llm")
	}
	return resp.Choices[0].Message.Content, nil
}

type ollamaBackend struct {
	client *api.Client
	model  string
}

func (b *ollamaBackend) name() string { return "ollama" }

func (b *ollamaBackend) complete(ctx context.Context, req Request) (string, error) {
	gr := &api.GenerateRequest{
		Model:  b.model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: new(bool),
		Options: map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if req.JSON {
		gr.Format = []byte(`"json"`)
	}
	var sb strings.Builder
	err := b.client.Generate(ctx, gr, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	return sb.String(), nil
}
