package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/schoolbot/backend/internal/contextstore"
	"github.com/schoolbot/backend/pkg/circuitbreaker"
	"github.com/schoolbot/backend/pkg/config"
	"github.com/schoolbot/backend/pkg/logger"
	"github.com/schoolbot/backend/pkg/retry"
)

// Client wraps the OpenAI API as the two oracles the pipeline depends on:
// an embedder and a response generator. Both calls carry their own timeout
// and run behind a circuit breaker. Embedding calls are retried; generation
// is not — a failed generation becomes a user-facing apology upstream, and
// retrying it would only stack latency onto an already-slow reply.
type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// GenerateRequest carries everything the generator needs for one reply.
type GenerateRequest struct {
	SystemPrompt string
	Context      string
	History      []contextstore.Turn
	Question     string
}

func NewClient(cfg config.OpenAIConfig) *Client {
	cb := circuitbreaker.New("openai", circuitbreaker.Config{
		MaxRequests:      5,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("OpenAI client initialized",
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		client:         openai.NewClient(cfg.APIKey),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        time.Duration(cfg.TimeoutSec) * time.Second,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: []string{text},
				Model: openai.EmbeddingModel(c.embeddingModel),
			})
			if err != nil {
				return fmt.Errorf("failed to create embedding: %w", err)
			}
			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding response contains no data")
			}

			embedding = resp.Data[0].Embedding
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return embedding, nil
}

// Generate produces the assistant reply grounded in the retrieved context and
// the user's recent history.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf("%s\n\nКонтекст из базы знаний:\n%s", req.SystemPrompt, req.Context),
	})
	for _, turn := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Question,
	})

	var content string

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:            c.model,
			Messages:         messages,
			Temperature:      c.temperature,
			MaxTokens:        c.maxTokens,
			FrequencyPenalty: 0.3,
			PresencePenalty:  0.3,
		})
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion response contains no choices")
		}

		logger.Debug("Completion generated",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		content = resp.Choices[0].Message.Content
		return nil
	})

	if err != nil {
		return "", err
	}
	return content, nil
}
