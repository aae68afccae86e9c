package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const deepseekBaseURL = "https://api.deepseek.com"

// Adjustment bounds for knowledge augmentation.
const (
	minKnowledgeAdjustment = -20.0
	maxKnowledgeAdjustment = 20.0
)

// KnowledgeResult carries what the provider learned from comparable
// historical setups.
type KnowledgeResult struct {
	Answer     string  `json:"answer"`
	Adjustment float64 `json:"adjustment"`
	CaseCount  int     `json:"case_count"`
}

// KnowledgeProvider augments a raw confidence with lessons from similar
// historical cases. Implementations are best effort; the engine proceeds
// with the raw confidence when a query fails.
type KnowledgeProvider interface {
	QueryHistoricalCases(ctx context.Context, symbol, signalType, marketCondition string) (*KnowledgeResult, error)
}

// DeepSeekProvider queries the DeepSeek chat-completion API for historical
// case analysis.
type DeepSeekProvider struct {
	http   *resty.Client
	model  string
	logger zerolog.Logger
}

// NewDeepSeekProvider builds a provider against the DeepSeek API. No
// retries: a slow or failed call must not hold up signal generation beyond
// the timeout.
func NewDeepSeekProvider(apiKey, model string, timeout time.Duration, logger zerolog.Logger) *DeepSeekProvider {
	if model == "" {
		model = "deepseek-chat"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(deepseekBaseURL).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")

	return &DeepSeekProvider{
		http:   client,
		model:  model,
		logger: logger.With().Str("component", "knowledge").Logger(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

const knowledgeSystemPrompt = `You are a crypto trading case archive. Given a token, a proposed signal direction and the market condition, recall how comparable historical setups played out and judge whether the proposal deserves more or less confidence.

Respond with a single JSON object and nothing else:
{"answer": "<one short paragraph summarising comparable cases>", "adjustment": <number between -20 and 20>, "case_count": <number of comparable cases considered>}`

// QueryHistoricalCases asks the model for comparable historical setups and
// a confidence adjustment. The adjustment is clamped to [-20, +20] no
// matter what the model returns.
func (p *DeepSeekProvider) QueryHistoricalCases(ctx context.Context, symbol, signalType, marketCondition string) (*KnowledgeResult, error) {
	userPrompt := fmt.Sprintf("Token: %s\nProposed signal: %s\nMarket condition: %s", symbol, signalType, marketCondition)

	var result chatResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: p.model,
			Messages: []chatMessage{
				{Role: "system", Content: knowledgeSystemPrompt},
				{Role: "user", Content: userPrompt},
			},
			MaxTokens:   512,
			Temperature: 0.2,
		}).
		SetResult(&result).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge provider: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("knowledge provider returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Error != nil {
		return nil, fmt.Errorf("knowledge provider error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("knowledge provider returned no choices")
	}

	parsed, err := parseKnowledgeAnswer(result.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("symbol", symbol).
		Float64("adjustment", parsed.Adjustment).
		Int("case_count", parsed.CaseCount).
		Msg("Knowledge query answered")

	return parsed, nil
}

// parseKnowledgeAnswer extracts the JSON object from the model's reply,
// tolerating markdown code fences, and clamps the adjustment.
func parseKnowledgeAnswer(content string) (*KnowledgeResult, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var result KnowledgeResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge answer: %w", err)
	}

	if result.Adjustment < minKnowledgeAdjustment {
		result.Adjustment = minKnowledgeAdjustment
	}
	if result.Adjustment > maxKnowledgeAdjustment {
		result.Adjustment = maxKnowledgeAdjustment
	}

	return &result, nil
}
