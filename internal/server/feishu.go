package server

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/anthropics/feishu-notes-bot/feishu"
	"github.com/anthropics/feishu-notes-bot/internal/security"
	"github.com/anthropics/feishu-notes-bot/internal/service"
)

// FeishuServer connects the Feishu event stream to the bot service.
type FeishuServer struct {
	feishuClient *feishu.Client
	bot          *service.BotService

	// Message deduplication cache
	seenMsgsMu sync.RWMutex
	seenMsgs   map[string]time.Time // msgID -> timestamp
}

// NewFeishuServer creates a new Feishu server.
func NewFeishuServer(feishuClient *feishu.Client, bot *service.BotService) *FeishuServer {
	return &FeishuServer{
		feishuClient: feishuClient,
		bot:          bot,
		seenMsgs:     make(map[string]time.Time),
	}
}

// Start registers the message handler and blocks on the Feishu
// WebSocket connection.
func (s *FeishuServer) Start() error {
	s.feishuClient.OnMessage(s.handleMessage)
	return s.feishuClient.Start()
}

// Stop disconnects from Feishu.
func (s *FeishuServer) Stop() {
	s.feishuClient.Stop()
}

// handleMessage converts a Feishu message into a bot command.
func (s *FeishuServer) handleMessage(msg *feishu.Message) {
	// Feishu redelivers events it considers unacknowledged; process each
	// message id once.
	if s.isMessageSeen(msg.MsgID) {
		fmt.Printf("[Server] Duplicate message ignored: %s\n", msg.MsgID)
		return
	}
	s.markMessageSeen(msg.MsgID)

	if msg.Sender == nil || msg.Sender.OpenID == "" {
		fmt.Printf("[Server] Message %s has no sender, ignored\n", msg.MsgID)
		return
	}

	actor := security.Actor{
		UserID:  UserIDFromOpenID(msg.Sender.OpenID),
		ChatID:  msg.ChatID,
		IsGroup: msg.ChatType == "group",
	}

	s.bot.HandleMessage(context.Background(), actor, msg.Content)
}

// UserIDFromOpenID derives a stable numeric user id from a Feishu
// open_id. The same open_id always maps to the same id, which is what
// the quota, rate limit and block lists key on.
func UserIDFromOpenID(openID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(openID))
	// Clear the sign bit so ids print as positive numbers.
	return int64(h.Sum64() & (1<<63 - 1))
}

// isMessageSeen checks if a message has been processed.
func (s *FeishuServer) isMessageSeen(msgID string) bool {
	s.seenMsgsMu.RLock()
	defer s.seenMsgsMu.RUnlock()
	_, exists := s.seenMsgs[msgID]
	return exists
}

// markMessageSeen marks a message as processed and prunes old entries.
func (s *FeishuServer) markMessageSeen(msgID string) {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()
	s.seenMsgs[msgID] = time.Now()

	cutoff := time.Now().Add(-5 * time.Minute)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}
}
