// Package openai implements imagepick.Evaluator with an OpenAI-compatible
// chat completions API. Images are sent inline as data URLs, so nothing is
// stored provider-side and Delete is a no-op.
package openai

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/sashabaranov/go-openai"

	"github.com/anatolykoptev/go-imagepick"
)

const (
	DefaultModel = "gpt-4o-mini"
	provider     = "openai"
	maxTokens    = 16
)

// Client wraps a go-openai client.
type Client struct {
	client *openai.Client
	model  string
}

// New returns a client for the given key. baseURL may point at any
// OpenAI-compatible endpoint; empty uses the official API.
func New(apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Upload reads the image and encodes it as a data URL.
func (c *Client) Upload(_ context.Context, path string) (imagepick.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return imagepick.Upload{}, err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return imagepick.Upload{
		Name:     filepath.Base(path),
		URI:      imagepick.EncodeDataURL(data, mimeType),
		MIMEType: mimeType,
	}, nil
}

// Generate sends the prompt followed by every image in one user message.
func (c *Client) Generate(ctx context.Context, prompt string, uploads []imagepick.Upload) (string, error) {
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
	for _, u := range uploads {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: u.URI, Detail: openai.ImageURLDetailLow},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &imagepick.EvalError{Provider: provider, Op: "generate", Message: "no choices in response"}
	}
	return resp.Choices[0].Message.Content, nil
}

// Delete does nothing; inline images are not stored.
func (c *Client) Delete(context.Context, imagepick.Upload) error { return nil }

func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &imagepick.EvalError{Provider: provider, Op: "generate",
			StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &imagepick.EvalError{Provider: provider, Op: "generate",
			StatusCode: reqErr.HTTPStatusCode, Message: fmt.Sprint(reqErr.Err)}
	}
	return &imagepick.EvalError{Provider: provider, Op: "generate", Err: err}
}
