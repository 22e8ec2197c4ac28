package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	deepLFreeEndpoint = "https://api-free.deepl.com/v2/translate"
	deepLProEndpoint  = "https://api.deepl.com/v2/translate"

	// DeepL accepts at most 50 text fields per request.
	deepLMaxTextsPerCall = 50
)

// DeepLProvider calls the DeepL v2 translate API. Free-tier keys (suffix
// ":fx") are routed to the api-free host.
type DeepLProvider struct {
	apiKey   string
	endpoint string // overrides key-based endpoint selection when set
	client   *resty.Client
}

func NewDeepLProvider(apiKey string) *DeepLProvider {
	return &DeepLProvider{
		apiKey: strings.TrimSpace(apiKey),
		client: resty.New().SetTimeout(60 * time.Second),
	}
}

func (p *DeepLProvider) Name() string {
	return "deepl"
}

type deepLResponse struct {
	Translations []struct {
		Text                   string `json:"text"`
		DetectedSourceLanguage string `json:"detected_source_language"`
	} `json:"translations"`
}

func (p *DeepLProvider) Translate(ctx context.Context, req *Request) (*Response, error) {
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

	endpoint := p.endpoint
	if endpoint == "" {
		endpoint = deepLProEndpoint
		if strings.HasSuffix(apiKey, ":fx") {
			endpoint = deepLFreeEndpoint
		}
	}

	started := time.Now()
	translations := make([]Translation, 0, len(req.Texts))
	for offset := 0; offset < len(req.Texts); offset += deepLMaxTextsPerCall {
		end := offset + deepLMaxTextsPerCall
		if end > len(req.Texts) {
			end = len(req.Texts)
		}
		chunk := req.Texts[offset:end]

		form := url.Values{}
		for _, text := range chunk {
			form.Add("text", text)
		}
		form.Set("target_lang", strings.ToUpper(req.TargetLanguage))
		if src := strings.TrimSpace(req.SourceLanguage); src != "" {
			form.Set("source_lang", strings.ToUpper(src))
		}

		var parsed deepLResponse
		rr, err := p.client.R().
			SetContext(ctx).
			SetHeader("Authorization", "DeepL-Auth-Key "+apiKey).
			SetFormDataFromValues(form).
			SetResult(&parsed).
			Post(endpoint)
		if err != nil {
			return nil, classifyTransportError(p.Name(), err)
		}
		if rr.IsError() {
			return nil, classifyHTTPError(p.Name(), rr.StatusCode(), rr.Header(), string(rr.Body()))
		}
		if len(parsed.Translations) != len(chunk) {
			return nil, &ProviderError{
				Provider: p.Name(),
				Message:  fmt.Sprintf("expected %d translations, got %d", len(chunk), len(parsed.Translations)),
			}
		}

		for _, tr := range parsed.Translations {
			// DeepL reports no per-segment confidence.
			translations = append(translations, Translation{Translated: tr.Text, Confidence: 1.0})
		}
	}

	return &Response{
		Translations: translations,
		Provider:     p.Name(),
		ElapsedMS:    time.Since(started).Milliseconds(),
	}, nil
}
