// Package llm provides the model gateway: one request/response call to a
// hosted or local language model per invocation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/dex/internal/config"
)

// ErrInvocation marks any failure to obtain text from the model provider.
var ErrInvocation = errors.New("model invocation failed")

// Request is one call to the model.
type Request struct {
	Model             string
	Contents          string
	SystemInstruction string
	Temperature       float64
	// CandidateCount is the number of candidates to request. Zero leaves the
	// provider default.
	CandidateCount int
}

// Gateway sends requests to a model provider. Implementations hold no
// per-conversation state.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GatewayFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// NewGateway builds the gateway selected by cfg.Provider.
func NewGateway(ctx context.Context, cfg config.LLMConfig) (Gateway, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg)
	case config.ProviderOllama, config.ProviderOpenAI:
		return NewLangChainClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

func invocationError(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvocation, provider, err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func emptyResponse(provider string) error {
	return fmt.Errorf("%w: %s returned no candidates", ErrInvocation, provider)
}
