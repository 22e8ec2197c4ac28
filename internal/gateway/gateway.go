package gateway

import (
	"context"
	"fmt"
	"strings"
)

// Provider translates a batch of texts between two languages.
type Provider interface {
	Translate(ctx context.Context, req *Request) (*Response, error)
	Name() string
}

// Request describes one batch translation request. Texts are translated in
// order; responses must align positionally with them.
type Request struct {
	Texts          []string
	SourceLanguage string // ISO 639-1 (for example: "en", "ja")
	TargetLanguage string
	Provider       string
	Context        string // optional domain hint (for example: "fantasy RPG dialogue")
	APIKey         string
}

// Translation is one translated text plus the provider's own confidence in
// it, when the provider reports one. Confidence is in [0,1]; providers that
// report nothing use 1.0.
type Translation struct {
	Translated string
	Confidence float64
}

// Response carries the translations for one request, positionally aligned
// with Request.Texts.
type Response struct {
	Translations []Translation
	Provider     string
	ElapsedMS    int64
}

func (r *Request) validate() error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	if len(r.Texts) == 0 {
		return fmt.Errorf("texts are required")
	}
	if strings.TrimSpace(r.TargetLanguage) == "" {
		return fmt.Errorf("target language is required")
	}
	return nil
}
