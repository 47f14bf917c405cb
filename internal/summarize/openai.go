package summarize

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// openAIChat talks to any OpenAI-compatible chat completions endpoint. The
// default configuration points it at Groq.
type openAIChat struct {
	client openai.Client
	params params
}

func newOpenAI(apiKey, baseURL string, hc *http.Client, p params) *openAIChat {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(hc),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL+"/"))
	}
	return &openAIChat{client: openai.NewClient(opts...), params: p}
}

func (o *openAIChat) Summarize(ctx context.Context, text string) (string, error) {
	if err := checkInput(text); err != nil {
		return "", err
	}
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.params.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(text),
		},
		MaxTokens:   openai.Int(int64(o.params.maxTokens)),
		Temperature: openai.Float(o.params.temperature),
		TopP:        openai.Float(o.params.topP),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return finish(resp.Choices[0].Message.Content)
}
