package data

import (
	"context"

	"github.com/anthropics/feishu-notes-bot/internal/biz/repo"
	"github.com/anthropics/feishu-notes-bot/llm"
)

type llmClassifier struct {
	client *llm.Client
}

// NewLLMClassifier wraps the LLM client as a Classifier.
func NewLLMClassifier(client *llm.Client) repo.Classifier {
	return &llmClassifier{client: client}
}

func (c *llmClassifier) Classify(ctx context.Context, noteText string) (string, error) {
	return c.client.Categorize(ctx, noteText)
}
