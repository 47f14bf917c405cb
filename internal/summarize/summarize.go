// Package summarize turns article text into a short bullet-point summary
// through a hosted chat-completion model.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"newsdigest/internal/config"
)

const SystemPrompt = "You are an expert in news summarization in english. Summarize the following news article into 3-5 bullet points in english."

var (
	ErrEmptyInput    = errors.New("summarize: empty input text")
	ErrEmptyResponse = errors.New("summarize: empty response from model")
)

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// params are the sampling settings shared by every provider.
type params struct {
	model       string
	maxTokens   int
	temperature float64
	topP        float64
}

// New picks the provider named in cfg. Each call makes one request; SDK-level
// retries are disabled where the SDK allows it.
func New(cfg config.SummarizerConfig) (Summarizer, error) {
	provider, baseURL, p := resolve(cfg)
	hc := &http.Client{Timeout: cfg.Timeout()}

	switch provider {
	case config.ProviderOpenAICompatible:
		return newOpenAI(cfg.APIKey, baseURL, hc, p), nil
	case config.ProviderAnthropic:
		return newAnthropic(cfg.APIKey, baseURL, hc, p), nil
	case config.ProviderCohere:
		return newCohere(cfg.APIKey, baseURL, hc, p), nil
	default:
		return nil, fmt.Errorf("unsupported summarizer provider %q", cfg.Provider)
	}
}

// resolve normalizes the provider and drops the Groq defaults for providers
// that have their own endpoint and model.
func resolve(cfg config.SummarizerConfig) (string, string, params) {
	p := params{
		model:       strings.TrimSpace(cfg.Model),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	provider := config.NormalizeProvider(cfg.Provider)
	if provider != config.ProviderOpenAICompatible {
		if baseURL == config.DefaultGroqURL {
			baseURL = ""
		}
		if p.model == config.DefaultGroqModel {
			p.model = ""
		}
	}
	return provider, baseURL, p
}

func checkInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	return nil
}

func finish(out string) (string, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
