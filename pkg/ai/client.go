// Package ai summarizes assessment sessions with a local Ollama model
// through its OpenAI-compatible API.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/pkg/types"
)

const systemPrompt = "You are a professional security researcher analyzing Bluetooth security assessment results. Write clear, evidence-based analysis. Never invent findings that are not in the data."

// Client talks to a local Ollama instance. When disabled it degrades
// to a stub so reporting still works offline.
type Client struct {
	client  *openai.Client
	log     *logger.Logger
	cfg     config.OllamaConfig
	enabled bool
}

var _ core.Summarizer = (*Client)(nil)

func NewClient(cfg config.OllamaConfig, log *logger.Logger) *Client {
	if !cfg.Enabled {
		return &Client{enabled: false, log: log.WithComponent("ai"), cfg: cfg}
	}

	// Ollama exposes an OpenAI-compatible surface under /v1; the API
	// key is required by the client but ignored by the server.
	clientCfg := openai.DefaultConfig("ollama")
	clientCfg.BaseURL = strings.TrimRight(cfg.Host, "/") + "/v1"
	client := openai.NewClientWithConfig(clientCfg)

	log.Infow("AI summarizer initialized",
		"host", cfg.Host,
		"model", cfg.Model,
	)
	return &Client{
		client:  client,
		log:     log.WithComponent("ai"),
		cfg:     cfg,
		enabled: true,
	}
}

func (c *Client) IsEnabled() bool {
	return c.enabled
}

// SummarizeSession produces an analyst summary of a whole session.
func (c *Client) SummarizeSession(ctx context.Context, record types.SessionRecord) (string, error) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ai: marshal session: %w", err)
	}

	prompt := fmt.Sprintf(`Summarize this Bluetooth security assessment session for a report.
Cover: devices discovered, scenarios executed and their outcomes, and notable failures or denials.
Keep it under 300 words.

Session data:
%s`, data)

	return c.complete(ctx, prompt)
}

// AnalyzeScenario explains the outcome of a single scenario.
func (c *Client) AnalyzeScenario(ctx context.Context, snap types.ScenarioSnapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ai: marshal scenario: %w", err)
	}

	prompt := fmt.Sprintf(`Analyze this Bluetooth attack scenario result.
Explain what the %s technique tests, what the outcome (%s) indicates about the target's resilience, and what an assessor should try next.
Keep it under 150 words.

Scenario data:
%s`, snap.Request.Kind, snap.Status, data)

	return c.complete(ctx, prompt)
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	if !c.enabled {
		return "", fmt.Errorf("ai: summarizer disabled")
	}

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		c.log.Errorw("Completion failed", "error", err, "model", c.cfg.Model)
		return "", fmt.Errorf("ai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ai: no completion choices returned")
	}

	c.log.Debugw("Completion generated",
		"model", c.cfg.Model,
		"total_tokens", resp.Usage.TotalTokens,
		"duration_seconds", time.Since(start).Seconds(),
	)
	return resp.Choices[0].Message.Content, nil
}
