// Package collab holds the external collaborators: the LLM service, the
// transcript source, and the validation test runner. The pipeline treats
// every one of them as "take input X, produce artifact Y or fail".
package collab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/msageha/taskforge/internal/logx"
	"github.com/msageha/taskforge/internal/model"
)

// LLMClient is the narrow contract the pipeline has with the LLM service.
// The returned text is persisted as-is; the pipeline never interprets it
// beyond parsing the agreed JSON shape.
type LLMClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// OpenAIClient implements LLMClient against an OpenAI-compatible endpoint.
// Transient failures (rate limits, 5xx) are retried with exponential
// backoff before an error crosses back into the executor.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	maxRetries  uint64
	logger      *logx.Logger
}

func NewOpenAIClient(cfg model.LLMConfig, logger *logx.Logger) (*OpenAIClient, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, model.Errorf(model.KindCollaboratorFailure, "missing API key: %s not set", keyEnv)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8000
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
		maxRetries:  uint64(maxRetries),
		logger:      logger,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	var text string
	attempt := 0
	op := func() error {
		attempt++
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(model.NewError(model.KindCollaboratorFailure, err))
			}
			c.logger.Warnf("llm_retry attempt=%d error=%v", attempt, err)
			return model.NewError(model.KindTransientCollaborator, err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(model.Errorf(model.KindCollaboratorFailure, "empty completion"))
		}
		text = resp.Choices[0].Message.Content
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", fmt.Errorf("llm complete: %w", err)
	}
	return text, nil
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Network-level errors (timeouts, resets) are worth another attempt.
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
