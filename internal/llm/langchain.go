package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ashureev/dex/internal/config"
)

// LangChainClient serves requests through a langchaingo model (ollama or openai).
type LangChainClient struct {
	llm      llms.Model
	provider string
	timeout  time.Duration
}

// NewLangChainClient creates a langchaingo-backed client for cfg.Provider.
func NewLangChainClient(cfg config.LLMConfig) (*LangChainClient, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", cfg.Provider)
	}

	return newLangChainClient(model, cfg.Provider, cfg.Timeout), nil
}

func newLangChainClient(model llms.Model, provider string, timeout time.Duration) *LangChainClient {
	return &LangChainClient{llm: model, provider: provider, timeout: timeout}
}

// Generate sends the system instruction and contents as a two-message chat.
func (c *LangChainClient) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]llms.MessageContent, 0, 2)
	if req.SystemInstruction != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemInstruction))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Contents))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.CandidateCount > 0 {
		opts = append(opts, llms.WithCandidateCount(req.CandidateCount))
	}

	response, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", invocationError(c.provider, err)
	}

	if len(response.Choices) == 0 {
		return "", emptyResponse(c.provider)
	}

	return response.Choices[0].Content, nil
}
