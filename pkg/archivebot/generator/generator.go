// Package generator asks an OpenAI-compatible chat completions endpoint
// (OpenAI, a local llama.cpp server, Ollama) whether and how to reply to a
// conversation.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jholhewres/archivebot/pkg/archivebot/chat"
)

// Config configures the response generator.
type Config struct {
	// BaseURL is the API endpoint (default: OpenAI). Point it at a local
	// server such as "http://127.0.0.1:8080/v1".
	BaseURL string `yaml:"base_url"`

	// APIKey is the API key. Resolved from the keyring or environment when
	// empty.
	APIKey string `yaml:"api_key"`

	// Model is the model name (default: "gpt-4o-mini").
	Model string `yaml:"model"`

	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Stop sequences end generation early.
	Stop []string `yaml:"stop"`

	// RequestTimeoutSeconds bounds a single completion (default: 60).
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// Persona is the name the model speaks as.
	Persona string `yaml:"persona"`

	// Prompt is a text/template system prompt. Empty uses DefaultPrompt.
	Prompt string `yaml:"prompt"`

	// SilenceToken is the answer meaning "do not reply" (default: [SILENCE]).
	SilenceToken string `yaml:"silence_token"`

	// Timezone is used for the time context of the prompt
	// (default: Europe/Moscow).
	Timezone string `yaml:"timezone"`
}

// DefaultConfig returns the generator defaults.
func DefaultConfig() Config {
	return Config{
		Model:                 "gpt-4o-mini",
		Temperature:           0.7,
		TopP:                  0.95,
		MaxTokens:             200,
		Stop:                  []string{"User:", "Assistant:", "\nUser", "\nAssistant"},
		RequestTimeoutSeconds: 60,
		Persona:               "Ivan",
		SilenceToken:          DefaultSilenceToken,
		Timezone:              "Europe/Moscow",
	}
}

// Client generates reply decisions.
type Client struct {
	cfg    Config
	openai openai.Client
	prompt *Prompt
	logger *slog.Logger
	now    func() time.Time
}

// New creates a client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 60
	}
	if cfg.SilenceToken == "" {
		cfg.SilenceToken = DefaultSilenceToken
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	prompt, err := NewPrompt(cfg.Prompt, cfg.Persona, cfg.SilenceToken, loc)
	if err != nil {
		return nil, err
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// Local servers accept any key.
		apiKey = "local"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		cfg:    cfg,
		openai: openai.NewClient(opts...),
		prompt: prompt,
		logger: logger.With("component", "generator"),
		now:    time.Now,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Generate asks the model for a reply to history. Transport and API errors
// become a failure decision.
func (c *Client) Generate(ctx context.Context, history chat.History, last string) chat.Decision {
	system, err := c.prompt.Render(c.now())
	if err != nil {
		return chat.Failure(err.Error())
	}

	messages := c.convertMessages(system, history, last)
	params := openai.ChatCompletionNewParams{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: openai.Float(c.cfg.Temperature),
		MaxTokens:   openai.Int(int64(c.cfg.MaxTokens)),
	}
	if c.cfg.TopP > 0 {
		params.TopP = openai.Float(c.cfg.TopP)
	}
	if len(c.cfg.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: c.cfg.Stop}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.RequestTimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		c.logger.Warn("completion request failed", "model", c.cfg.Model, "error", err)
		return chat.Failure(fmt.Sprintf("completion request: %v", err))
	}
	if len(resp.Choices) == 0 {
		return chat.Failure("no choices in response")
	}

	raw := resp.Choices[0].Message.Content
	c.logger.Debug("completion done",
		"model", c.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason)

	decision := Classify(raw, c.cfg.SilenceToken)
	c.logger.Debug("decision", "kind", decision.Kind, "reason", decision.Reason)
	return decision
}

// convertMessages maps own messages to the assistant role and the other
// party's to the user role. The conversation always ends with last.
func (c *Client) convertMessages(system string, history chat.History, last string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	out = append(out, openai.SystemMessage(system))

	for _, m := range history {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if m.Role == chat.RoleSelf {
			out = append(out, openai.AssistantMessage(text))
		} else {
			out = append(out, openai.UserMessage(text))
		}
	}

	if lastMsg, ok := history.Last(); (!ok || strings.TrimSpace(lastMsg.Text) != strings.TrimSpace(last)) && strings.TrimSpace(last) != "" {
		out = append(out, openai.UserMessage(strings.TrimSpace(last)))
	}
	return out
}
