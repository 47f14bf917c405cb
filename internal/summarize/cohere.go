package summarize

import (
	"context"
	"fmt"
	"net/http"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

const defaultCohereModel = "command-r"

type cohereChat struct {
	client *cohereclient.Client
	params params
}

func newCohere(apiKey, baseURL string, hc *http.Client, p params) *cohereChat {
	if p.model == "" {
		p.model = defaultCohereModel
	}
	// An empty base URL resolves to the public API.
	client := cohereclient.NewClient(
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(hc),
		cohereclient.WithBaseURL(baseURL),
	)
	return &cohereChat{client: client, params: p}
}

// Retries on this provider are whatever the SDK does by default; it exposes
// no client-wide switch for them.
func (c *cohereChat) Summarize(ctx context.Context, text string) (string, error) {
	if err := checkInput(text); err != nil {
		return "", err
	}
	model := c.params.model
	preamble := SystemPrompt
	temperature := c.params.temperature
	topP := c.params.topP
	maxTokens := c.params.maxTokens
	resp, err := c.client.Chat(ctx, &cohere.ChatRequest{
		Message:     text,
		Model:       &model,
		Preamble:    &preamble,
		Temperature: &temperature,
		P:           &topP,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("cohere chat: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	return finish(resp.Text)
}
