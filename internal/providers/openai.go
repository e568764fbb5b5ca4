package providers

import (
	"context"
	"fmt"

	"github.com/rendis/recipe-engine/pkg/schema"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOpenAIModel is the text model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements TextGenerator over langchaingo's OpenAI backend.
type OpenAIClient struct {
	llm   llms.Model
	model string
	guard *Guard
}

// NewOpenAIClient creates an OpenAI text client. baseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIClient(apiKey, model, baseURL string, guard *Guard) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return &OpenAIClient{llm: llm, model: model, guard: guard}, nil
}

// NewOpenAIClientFromModel wraps an existing langchaingo model.
func NewOpenAIClientFromModel(llm llms.Model, model string, guard *Guard) *OpenAIClient {
	return &OpenAIClient{llm: llm, model: model, guard: guard}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return "openai" }

// GenerateText sends one prompt as a chat completion.
func (c *OpenAIClient) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithModel(model)}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(float64(req.Temperature)))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	var text string
	call := func(ctx context.Context) error {
		resp, err := c.llm.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeProvider, "openai: %v", err).WithCause(err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return schema.NewError(schema.ErrCodeProvider, "openai: empty response")
		}
		text = resp.Choices[0].Content
		return nil
	}
	var err error
	if c.guard != nil {
		err = c.guard.Do(ctx, c.Name(), call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	if req.JSON {
		text = CleanJSONBlock(text)
	}
	return &TextResult{Text: text, Model: model}, nil
}
