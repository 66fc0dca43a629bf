package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"

	"github.com/ashureev/dex/internal/config"
)

type fakeModels struct {
	model  string
	config *genai.GenerateContentConfig
	text   string
	resp   *genai.GenerateContentResponse
	err    error
	wait   bool
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = cfg
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.text = contents[0].Parts[0].Text
	}
	if f.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content}},
	}
}

func TestGeminiGenerate(t *testing.T) {
	fake := &fakeModels{resp: textResponse("Bonjour", "! Ça va?")}
	c := &GeminiClient{models: fake, model: "gemini-2.0-flash"}

	got, err := c.Generate(context.Background(), Request{
		Contents:          "Human: hi\nHello",
		SystemInstruction: "Your name is Dex.",
		Temperature:       0.9,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "Bonjour! Ça va?" {
		t.Errorf("text = %q", got)
	}
	if fake.model != "gemini-2.0-flash" {
		t.Errorf("model = %q, want default model", fake.model)
	}
	if fake.text != "Human: hi\nHello" {
		t.Errorf("contents = %q", fake.text)
	}
	if fake.config.Temperature == nil || *fake.config.Temperature != float32(0.9) {
		t.Errorf("temperature not forwarded: %+v", fake.config.Temperature)
	}
	if fake.config.CandidateCount != 0 {
		t.Errorf("candidate count = %d, want provider default", fake.config.CandidateCount)
	}
	if fake.config.SystemInstruction == nil || fake.config.SystemInstruction.Parts[0].Text != "Your name is Dex." {
		t.Errorf("system instruction not forwarded")
	}
}

func TestGeminiClassificationRequest(t *testing.T) {
	fake := &fakeModels{resp: textResponse("SESSION_MISTAKES")}
	c := &GeminiClient{models: fake, model: "gemini-2.0-flash"}

	_, err := c.Generate(context.Background(), Request{Model: "gemini-x", Contents: "q", CandidateCount: 1})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if fake.model != "gemini-x" {
		t.Errorf("model = %q, want request override", fake.model)
	}
	if *fake.config.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", *fake.config.Temperature)
	}
	if fake.config.CandidateCount != 1 {
		t.Errorf("candidate count = %d, want 1", fake.config.CandidateCount)
	}
	if fake.config.SystemInstruction != nil {
		t.Errorf("empty system instruction should not be sent")
	}
}

func TestGeminiErrors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeModels
	}{
		{"provider error", &fakeModels{err: errors.New("429 quota exceeded")}},
		{"no candidates", &fakeModels{resp: &genai.GenerateContentResponse{}}},
		{"nil content", &fakeModels{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &GeminiClient{models: tt.fake, model: "m"}
			_, err := c.Generate(context.Background(), Request{Contents: "x"})
			if !errors.Is(err, ErrInvocation) {
				t.Errorf("error = %v, want ErrInvocation", err)
			}
		})
	}
}

func TestGeminiTimeout(t *testing.T) {
	c := &GeminiClient{models: &fakeModels{wait: true}, model: "m", timeout: 20 * time.Millisecond}

	_, err := c.Generate(context.Background(), Request{Contents: "x"})
	if !errors.Is(err, ErrInvocation) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want ErrInvocation wrapping deadline", err)
	}
}

type fakeLLM struct {
	messages []llms.MessageContent
	options  llms.CallOptions
	content  string
	choices  bool
	err      error
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.options)
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := &llms.ContentResponse{}
	if f.choices {
		resp.Choices = []*llms.ContentChoice{{Content: f.content}}
	}
	return resp, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainGenerate(t *testing.T) {
	fake := &fakeLLM{content: "Salut!", choices: true}
	c := newLangChainClient(fake, config.ProviderOllama, time.Second)

	got, err := c.Generate(context.Background(), Request{
		Model:             "llama3.1",
		Contents:          "Bonjour",
		SystemInstruction: "Your name is Dex.",
		Temperature:       0.9,
		CandidateCount:    1,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "Salut!" {
		t.Errorf("text = %q", got)
	}
	if len(fake.messages) != 2 {
		t.Fatalf("messages = %d, want system + human", len(fake.messages))
	}
	if fake.messages[0].Role != llms.ChatMessageTypeSystem || fake.messages[1].Role != llms.ChatMessageTypeHuman {
		t.Errorf("roles = %s, %s", fake.messages[0].Role, fake.messages[1].Role)
	}
	if fake.options.Temperature != 0.9 || fake.options.CandidateCount != 1 || fake.options.Model != "llama3.1" {
		t.Errorf("options = %+v", fake.options)
	}
}

func TestLangChainWithoutSystemInstruction(t *testing.T) {
	fake := &fakeLLM{content: "ok", choices: true}
	c := newLangChainClient(fake, config.ProviderOpenAI, 0)

	if _, err := c.Generate(context.Background(), Request{Contents: "hi"}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(fake.messages) != 1 {
		t.Errorf("messages = %d, want human only", len(fake.messages))
	}
}

func TestLangChainErrors(t *testing.T) {
	for name, fake := range map[string]*fakeLLM{
		"provider error": {err: errors.New("connection refused")},
		"no choices":     {},
	} {
		t.Run(name, func(t *testing.T) {
			c := newLangChainClient(fake, config.ProviderOllama, time.Second)
			_, err := c.Generate(context.Background(), Request{Contents: "x"})
			if !errors.Is(err, ErrInvocation) {
				t.Errorf("error = %v, want ErrInvocation", err)
			}
		})
	}
}

func TestNewGateway(t *testing.T) {
	ctx := context.Background()

	gw, err := NewGateway(ctx, config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3.1", OllamaHost: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("ollama gateway: %v", err)
	}
	if _, ok := gw.(*LangChainClient); !ok {
		t.Errorf("ollama gateway is %T", gw)
	}

	if _, err := NewGateway(ctx, config.LLMConfig{Provider: config.ProviderOpenAI}); err == nil {
		t.Error("openai without key should fail")
	}
	if _, err := NewGateway(ctx, config.LLMConfig{Provider: config.ProviderGemini}); err == nil {
		t.Error("gemini without key should fail")
	}
	if _, err := NewGateway(ctx, config.LLMConfig{Provider: "bard"}); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestGatewayFunc(t *testing.T) {
	var gw Gateway = GatewayFunc(func(_ context.Context, req Request) (string, error) {
		return "echo: " + req.Contents, nil
	})
	got, err := gw.Generate(context.Background(), Request{Contents: "hi"})
	if err != nil || got != "echo: hi" {
		t.Errorf("got %q, %v", got, err)
	}
}
