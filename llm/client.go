package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/anthropics/feishu-notes-bot/internal/conf"
)

const defaultModel = "gpt-4o-mini"

// Client is an OpenAI-compatible chat completion client used for
// note categorization.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a new LLM client. baseURL may be empty to use the
// provider default; model falls back to a small default when empty.
func NewClient(apiKey, baseURL, model string) *Client {
	if model == "" {
		model = defaultModel
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

const categorizePrompt = `You are a note categorizer. Classify the user's note into exactly one category:

- task: something to do, an action item, an errand
- idea: a thought, concept, or plan worth keeping
- quote: a quotation or something someone said
- other: anything that fits none of the above

Reply with only the category name, lowercase, no explanations.`

// Categorize asks the model to classify a note. The response is
// normalized; anything outside the known categories maps to "other".
func (c *Client) Categorize(ctx context.Context, noteText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: categorizePrompt},
			{Role: openai.ChatMessageRoleUser, Content: noteText},
		},
		Temperature: 0.1, // Low temperature for deterministic responses
		MaxTokens:   10,  // Single category word
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	category := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	category = strings.Trim(category, ".\"'")
	if !conf.IsValidCategory(category) {
		fmt.Printf("[LLM] Unrecognized category %q, falling back to other\n", category)
		category = "other"
	}
	return category, nil
}
