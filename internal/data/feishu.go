package data

import (
	"context"

	"github.com/anthropics/feishu-notes-bot/feishu"
	"github.com/anthropics/feishu-notes-bot/internal/biz/repo"
)

type feishuSink struct {
	client *feishu.Client
}

// NewFeishuSink wraps the Feishu client as a MessageSink.
func NewFeishuSink(client *feishu.Client) repo.MessageSink {
	return &feishuSink{client: client}
}

func (s *feishuSink) SendText(ctx context.Context, chatID, text string) error {
	return s.client.SendText(ctx, chatID, text)
}
