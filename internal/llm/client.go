// Package llm talks to an OpenAI-compatible chat completion API for the two
// AI features: locating the speaker's place in the script and refining a raw
// transcript into a script.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tiroq/cuesync/internal/diaglog"
)

const (
	DefaultOracleModel   = "gpt-4o-mini"
	DefaultRefineModel   = "gpt-4o"
	DefaultOracleTimeout = 10 * time.Second
	DefaultRefineTimeout = 60 * time.Second

	oracleMaxTokens   = 50
	refineTemperature = 0.3
)

// zeroTemperature is sent for deterministic answers; a literal 0 would be
// dropped from the request by omitempty.
const zeroTemperature = math.SmallestNonzeroFloat32

var (
	ErrMissingAPIKey   = errors.New("llm: OpenAI API key not set")
	ErrNothingToRefine = errors.New("nothing to refine: transcript is empty")
	ErrEmptyReply      = errors.New("llm: empty reply")
)

// Config configures a Client.
type Config struct {
	APIKey        string
	BaseURL       string // default api.openai.com
	OracleModel   string
	RefineModel   string
	OracleTimeout time.Duration
	RefineTimeout time.Duration
	HTTPClient    *http.Client
	Logger        *diaglog.Logger
}

// Client wraps go-openai with the prompts and limits of each feature.
type Client struct {
	api *openai.Client
	cfg Config
}

// New returns a client, or ErrMissingAPIKey.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.OracleModel == "" {
		cfg.OracleModel = DefaultOracleModel
	}
	if cfg.RefineModel == "" {
		cfg.RefineModel = DefaultRefineModel
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultOracleTimeout
	}
	if cfg.RefineTimeout <= 0 {
		cfg.RefineTimeout = DefaultRefineTimeout
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &Client{api: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

// LocatePhrase asks for a verbatim 3-5 word quote from scriptWindow marking
// the furthest point the speaker reached. The raw reply is returned.
func (c *Client) LocatePhrase(ctx context.Context, scriptWindow, recentSpeech string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OracleTimeout)
	defer cancel()

	return c.complete(ctx, "locate", openai.ChatCompletionRequest{
		Model:       c.cfg.OracleModel,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: locatePrompt(scriptWindow, recentSpeech)}},
		MaxTokens:   oracleMaxTokens,
		Temperature: zeroTemperature,
	})
}

// Refine turns a raw transcript into a teleprompter-ready script.
func (c *Client) Refine(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", ErrNothingToRefine
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefineTimeout)
	defer cancel()

	out, err := c.complete(ctx, "refine", openai.ChatCompletionRequest{
		Model:       c.cfg.RefineModel,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: refinePrompt(transcript)}},
		Temperature: refineTemperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) complete(ctx context.Context, purpose string, req openai.ChatCompletionRequest) (string, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	payload := map[string]interface{}{
		"purpose":    purpose,
		"model":      req.Model,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		c.cfg.Logger.Log(diaglog.LogEntry{Component: diaglog.ComponentLLM, Event: diaglog.EventLLMRequest, Reason: err.Error(), Payload: payload})
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("API error: %s", apiErr.Message)
		}
		return "", fmt.Errorf("API error: %w", err)
	}
	c.cfg.Logger.Log(diaglog.LogEntry{Component: diaglog.ComponentLLM, Event: diaglog.EventLLMRequest, Payload: payload})
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyReply
	}
	return resp.Choices[0].Message.Content, nil
}
