// Package llm wraps the external text-completion collaborator behind a
// narrow prompt-in, text-out interface. Transient failures are retried
// here; permanent failures are returned to the caller, which is expected
// to degrade rather than propagate them.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// DefaultModel is the chat model used for answer generation.
const DefaultModel = "gpt-4o-mini"

// ErrEmptyCompletion indicates the model returned no usable text.
var ErrEmptyCompletion = errors.New("empty completion")

// Completer is the generation contract consumed by the retrieval pipeline.
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Client is the OpenAI chat-completions implementation of Completer.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a completion client sharing the given OpenAI client.
// An empty model selects DefaultModel.
func NewClient(client *openai.Client, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: client, model: model}
}

// Complete sends a single-turn prompt and returns the generated text.
// Rate limit errors are retried with exponential backoff; other errors
// fail immediately.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	var text string

	operation := func() error {
		resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model:       openai.ChatModel(c.model),
			Temperature: openai.Float(temperature),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(ErrEmptyCompletion)
		}
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
