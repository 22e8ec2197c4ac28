package gateway

import (
	"context"
	"fmt"
	"time"
)

// MockProvider is a deterministic offline provider for tests and dry runs.
// It wraps each source text in a [target] marker so output is recognizable
// without calling any network service.
type MockProvider struct {
	// Delay, when set, is waited per call to exercise timeout paths.
	Delay time.Duration
	// Fail, when set, makes every call return this error.
	Fail error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string {
	return "mock"
}

func (p *MockProvider) Translate(ctx context.Context, req *Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
	}
	if p.Fail != nil {
		return nil, p.Fail
	}
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, classifyTransportError(p.Name(), ctx.Err())
		}
	}

	started := time.Now()
	translations := make([]Translation, len(req.Texts))
	for i, text := range req.Texts {
		translations[i] = Translation{
			Translated: fmt.Sprintf("[%s] %s", req.TargetLanguage, text),
			Confidence: 1.0,
		}
	}

	return &Response{
		Translations: translations,
		Provider:     p.Name(),
		ElapsedMS:    time.Since(started).Milliseconds(),
	}, nil
}
