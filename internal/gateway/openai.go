package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIProvider translates through an OpenAI-compatible chat completions
// endpoint. One request covers the whole chunk: the model is instructed to
// answer with a JSON array holding exactly one translation per input text.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds a provider for api.openai.com or, when baseURL is
// set, any compatible endpoint (Ollama, vLLM, LM Studio and friends).
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
		cfg.BaseURL = trimmed
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  strings.TrimSpace(model),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// ModelName returns the configured model identifier.
func (p *OpenAIProvider) ModelName() string {
	if p == nil {
		return ""
	}
	return p.model
}

func (p *OpenAIProvider) Translate(ctx context.Context, req *Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
	}

	started := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildTranslationSystemPrompt(req),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildTranslationUserPrompt(req.Texts),
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, p.classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Message: "response has no choices"}
	}

	texts, err := parseTranslatedArray(resp.Choices[0].Message.Content, len(req.Texts))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
	}

	translations := make([]Translation, len(texts))
	for i, text := range texts {
		translations[i] = Translation{Translated: text, Confidence: 1.0}
	}

	return &Response{
		Translations: translations,
		Provider:     p.Name(),
		ElapsedMS:    time.Since(started).Milliseconds(),
	}, nil
}

func (p *OpenAIProvider) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || looksRateLimited(apiErr.Message) {
			return &RateLimitError{
				Provider:   p.Name(),
				RetryAfter: parseRetryAfter(nil, apiErr.Message),
				Message:    apiErr.Message,
			}
		}
		return &ProviderError{
			Provider:   p.Name(),
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return classifyTransportError(p.Name(), err)
}

func buildTranslationSystemPrompt(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional video game localizer. Translate each string from %s to %s.\n",
		languageOrAuto(req.SourceLanguage), strings.ToLower(req.TargetLanguage))
	b.WriteString("Preserve placeholders ({name}, %s, <color>, [item], $gold$) exactly as written.\n")
	b.WriteString("Keep the tone and register of game text. Do not add explanations.\n")
	if hint := strings.TrimSpace(req.Context); hint != "" {
		fmt.Fprintf(&b, "Context: %s\n", hint)
	}
	fmt.Fprintf(&b, "Reply with a JSON array of exactly %d strings, one translation per input, same order.", len(req.Texts))
	return b.String()
}

func buildTranslationUserPrompt(texts []string) string {
	payload, _ := json.Marshal(texts)
	return string(payload)
}

func languageOrAuto(lang string) string {
	trimmed := strings.ToLower(strings.TrimSpace(lang))
	if trimmed == "" {
		return "the detected language"
	}
	return trimmed
}

// parseTranslatedArray extracts a JSON array of want strings from a chat
// completion, tolerating markdown fences and prose around the array.
func parseTranslatedArray(content string, want int) ([]string, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("response contains no JSON array")
	}

	var texts []string
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &texts); err != nil {
		return nil, fmt.Errorf("decode translation array: %w", err)
	}
	if len(texts) != want {
		return nil, fmt.Errorf("expected %d translations, got %d", want, len(texts))
	}
	return texts, nil
}
