package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	googleEndpoint = "https://translation.googleapis.com/language/translate/v2"

	// Google Cloud Translation v2 accepts at most 128 q segments per request.
	googleMaxTextsPerCall = 128
)

// GoogleProvider calls the Google Cloud Translation v2 API with an API key.
type GoogleProvider struct {
	apiKey   string
	endpoint string
	client   *resty.Client
}

func NewGoogleProvider(apiKey string) *GoogleProvider {
	return &GoogleProvider{
		apiKey:   strings.TrimSpace(apiKey),
		endpoint: googleEndpoint,
		client:   resty.New().SetTimeout(60 * time.Second),
	}
}

func (p *GoogleProvider) Name() string {
	return "google"
}

type googleTranslateBody struct {
	Q      []string `json:"q"`
	Target string   `json:"target"`
	Source string   `json:"source,omitempty"`
	Format string   `json:"format"`
}

type googleResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage"`
		} `json:"translations"`
	} `json:"data"`
}

func (p *GoogleProvider) Translate(ctx context.Context, req *Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
	}
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = p.apiKey
	}
	if apiKey == "" {
		return nil, &ProviderError{Provider: p.Name(), Message: "api key is required"}
	}

	started := time.Now()
	translations := make([]Translation, 0, len(req.Texts))
	for offset := 0; offset < len(req.Texts); offset += googleMaxTextsPerCall {
		end := offset + googleMaxTextsPerCall
		if end > len(req.Texts) {
			end = len(req.Texts)
		}
		chunk := req.Texts[offset:end]

		body := googleTranslateBody{
			Q:      chunk,
			Target: strings.ToLower(req.TargetLanguage),
			Format: "text",
		}
		if src := strings.TrimSpace(req.SourceLanguage); src != "" {
			body.Source = strings.ToLower(src)
		}

		var parsed googleResponse
		rr, err := p.client.R().
			SetContext(ctx).
			SetQueryParam("key", apiKey).
			SetBody(body).
			SetResult(&parsed).
			Post(p.endpoint)
		if err != nil {
			return nil, classifyTransportError(p.Name(), err)
		}
		if rr.IsError() {
			return nil, classifyHTTPError(p.Name(), rr.StatusCode(), rr.Header(), string(rr.Body()))
		}
		if len(parsed.Data.Translations) != len(chunk) {
			return nil, &ProviderError{
				Provider: p.Name(),
				Message:  fmt.Sprintf("expected %d translations, got %d", len(chunk), len(parsed.Data.Translations)),
			}
		}

		for _, tr := range parsed.Data.Translations {
			translations = append(translations, Translation{Translated: tr.TranslatedText, Confidence: 1.0})
		}
	}

	return &Response{
		Translations: translations,
		Provider:     p.Name(),
		ElapsedMS:    time.Since(started).Milliseconds(),
	}, nil
}
