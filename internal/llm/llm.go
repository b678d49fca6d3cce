// Package llm wraps the Anthropic API for the two model phases: category
// selection and the bounded tool loop.
package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ErrRateLimited marks an upstream 429 so the HTTP layer can mirror it.
var ErrRateLimited = errors.New("llm rate limited")

// Provider is the single call surface the phases need; tests substitute a
// scripted fake.
type Provider interface {
	CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// Client wraps the Anthropic API.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() anthropic.Model { return c.model }

// CreateMessage sends one Messages API call.
func (c *Client) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	return msg, nil
}

// classify folds provider 429s into ErrRateLimited and passes everything
// else through.
func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) && apierr.StatusCode == 429 {
		return errors.Join(ErrRateLimited, err)
	}
	return err
}
