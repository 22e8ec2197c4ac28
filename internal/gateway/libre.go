package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultLibreEndpoint is the public LibreTranslate instance.
const DefaultLibreEndpoint = "https://libretranslate.com"

// LibreProvider calls a LibreTranslate instance. The endpoint is
// configurable so self-hosted instances work; the API key is optional.
type LibreProvider struct {
	endpoint string
	apiKey   string
	client   *resty.Client
}

func NewLibreProvider(endpoint, apiKey string) *LibreProvider {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		trimmed = DefaultLibreEndpoint
	}
	return &LibreProvider{
		endpoint: trimmed,
		apiKey:   strings.TrimSpace(apiKey),
		client:   resty.New().SetTimeout(60 * time.Second),
	}
}

func (p *LibreProvider) Name() string {
	return "libretranslate"
}

type libreTranslateBody struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText   string `json:"translatedText"`
	DetectedLanguage *struct {
		Language   string  `json:"language"`
		Confidence float64 `json:"confidence"`
	} `json:"detectedLanguage"`
}

// Translate posts one request per text: LibreTranslate has no native batch
// endpoint.
func (p *LibreProvider) Translate(ctx context.Context, req *Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
	}
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = p.apiKey
	}

	source := strings.ToLower(strings.TrimSpace(req.SourceLanguage))
	if source == "" {
		source = "auto"
	}

	started := time.Now()
	translations := make([]Translation, 0, len(req.Texts))
	for _, text := range req.Texts {
		body := libreTranslateBody{
			Q:      text,
			Source: source,
			Target: strings.ToLower(req.TargetLanguage),
			Format: "text",
			APIKey: apiKey,
		}

		var parsed libreResponse
		rr, err := p.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&parsed).
			Post(p.endpoint + "/translate")
		if err != nil {
			return nil, classifyTransportError(p.Name(), err)
		}
		if rr.IsError() {
			return nil, classifyHTTPError(p.Name(), rr.StatusCode(), rr.Header(), string(rr.Body()))
		}

		confidence := 1.0
		if parsed.DetectedLanguage != nil && parsed.DetectedLanguage.Confidence > 0 {
			confidence = parsed.DetectedLanguage.Confidence
			if confidence > 1 {
				// Public instances report percentages.
				confidence /= 100
			}
		}
		translations = append(translations, Translation{Translated: parsed.TranslatedText, Confidence: confidence})
	}

	return &Response{
		Translations: translations,
		Provider:     p.Name(),
		ElapsedMS:    time.Since(started).Milliseconds(),
	}, nil
}
