package tagging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const tagSystemPrompt = "You label AI generated images for search. " +
	"Given the prompt that produced an image, reply with a JSON array of 3 to 8 " +
	"short lowercase tags (single words or two-word phrases). Reply with the array only."

// OpenAIGenerator asks a chat model for tags.
//
// Thread Safety: OpenAIGenerator is safe for concurrent use.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// OpenAIGeneratorConfig configures NewOpenAIGenerator.
type OpenAIGeneratorConfig struct {
	APIKey     string // required
	BaseURL    string
	Model      string // default gpt-4o-mini
	HTTPClient *http.Client
}

// NewOpenAIGenerator creates a chat based tag generator.
func NewOpenAIGenerator(cfg OpenAIGeneratorConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tagging: OpenAI API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(clientConfig), model: model}, nil
}

// Tags implements Generator.
func (g *OpenAIGenerator) Tags(ctx context.Context, prompt string, meta Metadata) ([]string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: tagSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   120,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("tagging: chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("tagging: chat completion returned no choices")
	}
	return parseTagList(resp.Choices[0].Message.Content)
}

// parseTagList accepts a JSON array, optionally inside a markdown code
// fence, or a plain comma separated list.
func parseTagList(content string) ([]string, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("tagging: empty tag response")
	}

	if strings.HasPrefix(s, "[") {
		var tags []string
		if err := json.Unmarshal([]byte(s), &tags); err != nil {
			return nil, fmt.Errorf("tagging: invalid tag array: %w", err)
		}
		return tags, nil
	}
	return strings.Split(s, ","), nil
}

var _ Generator = (*OpenAIGenerator)(nil)
