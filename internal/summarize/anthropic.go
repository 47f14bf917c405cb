package summarize

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

type anthropicChat struct {
	client anthropic.Client
	params params
}

func newAnthropic(apiKey, baseURL string, hc *http.Client, p params) *anthropicChat {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(hc),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if p.model == "" {
		p.model = defaultAnthropicModel
	}
	return &anthropicChat{client: anthropic.NewClient(opts...), params: p}
}

func (a *anthropicChat) Summarize(ctx context.Context, text string) (string, error) {
	if err := checkInput(text); err != nil {
		return "", err
	}
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.params.model),
		MaxTokens: int64(a.params.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
		// Current Claude models reject temperature and top_p together.
		Temperature: anthropic.Float(a.params.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("messages: %w", err)
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return finish(out.String())
}
