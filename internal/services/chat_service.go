package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"smartspend/internal/advice"
	"smartspend/internal/core"
	"smartspend/internal/metrics"
	"smartspend/internal/session"
	"smartspend/internal/storage"
)

const (
	chatBlankReply  = "Sorry, I couldn't generate a response right now."
	chatFailedReply = "Sorry, the request timed out or failed."
)

// ChatService is the free-form conversation with the advice provider.
type ChatService struct {
	chat     storage.ChatStore
	provider advice.Provider
	timeout  time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewChatService(chat storage.ChatStore, provider advice.Provider, timeout time.Duration, m *metrics.Metrics) *ChatService {
	if provider == nil {
		provider = advice.Unavailable{}
	}
	if timeout <= 0 {
		timeout = advice.DefaultTimeout
	}
	return &ChatService{chat: chat, provider: provider, timeout: timeout, metrics: m, now: time.Now}
}

// Send records the user's message, asks the provider and records the reply.
// Provider failures become a canned reply rather than an error.
func (s *ChatService) Send(ctx context.Context, text string) (core.ChatMessage, error) {
	owner, ok := session.OwnerFromContext(ctx)
	if !ok {
		return core.ChatMessage{}, core.ErrNotAuthenticated
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return core.ChatMessage{}, &core.ValidationError{Field: "text", Err: core.ErrEmptyMessage}
	}

	userMsg := core.ChatMessage{OwnerID: owner, Text: text, FromUser: true, Timestamp: s.now()}
	if _, err := s.chat.AppendMessage(ctx, userMsg); err != nil {
		return core.ChatMessage{}, fmt.Errorf("record message: %w", err)
	}

	answer, err := s.provider.Complete(ctx, text, s.timeout)
	switch {
	case err == nil && answer != "":
		s.metrics.ObserveAdvice("ok")
	case err == nil:
		s.metrics.ObserveAdvice("empty")
		answer = chatBlankReply
	case core.IsCancellation(err):
		return core.ChatMessage{}, err
	default:
		s.metrics.ObserveAdvice("error")
		slog.WarnContext(ctx, "Chat provider failed", "owner_id", owner, "error", err)
		answer = chatFailedReply
	}

	reply := core.ChatMessage{OwnerID: owner, Text: answer, Timestamp: s.now()}
	id, err := s.chat.AppendMessage(context.WithoutCancel(ctx), reply)
	if err != nil {
		return core.ChatMessage{}, fmt.Errorf("record reply: %w", err)
	}
	reply.ID = id
	return reply, nil
}

// History lists the owner's conversation oldest first.
func (s *ChatService) History(ctx context.Context) ([]core.ChatMessage, error) {
	owner, ok := session.OwnerFromContext(ctx)
	if !ok {
		return []core.ChatMessage{}, nil
	}
	msgs, err := s.chat.ListMessages(ctx, owner)
	if err != nil {
		if core.IsCancellation(err) {
			return nil, err
		}
		return []core.ChatMessage{}, core.Persistence("list messages", err)
	}
	return msgs, nil
}
