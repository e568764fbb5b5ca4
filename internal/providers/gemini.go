package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rendis/recipe-engine/pkg/schema"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is the text model used when none is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient implements TextGenerator for Google Gemini.
type GeminiClient struct {
	client *genai.Client
	model  string
	guard  *Guard
}

// NewGeminiClient creates a Gemini client. guard may be nil.
func NewGeminiClient(ctx context.Context, apiKey, model string, guard *Guard) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{client: client, model: model, guard: guard}, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() string { return "gemini" }

// GenerateText sends one prompt to Gemini.
func (c *GeminiClient) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}
	model := c.client.GenerativeModel(modelName)
	temp := req.Temperature
	if temp == 0 {
		temp = 0.7
	}
	model.SetTemperature(temp)
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	var text string
	call := func(ctx context.Context) error {
		resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeProvider, "gemini: %v", err).WithCause(err)
		}
		text, err = extractText(resp)
		return err
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
	return &TextResult{Text: text, Model: modelName}, nil
}

// Close releases the underlying client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", schema.NewError(schema.ErrCodeProvider, "gemini: no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", schema.NewError(schema.ErrCodeProvider, "gemini: no content in response")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", schema.NewError(schema.ErrCodeProvider, "gemini: no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// CleanJSONBlock strips markdown code fences a model wraps around JSON.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
