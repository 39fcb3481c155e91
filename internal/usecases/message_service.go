package usecases

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"feishu_dify_bridge/internal/entities"
	"feishu_dify_bridge/internal/interfaces"

	"github.com/rs/zerolog"
)

// MessageService runs the bridge pipeline for one inbound message:
// ask the AI backend, remember the conversation, reply on Feishu.
type MessageService struct {
	aiClient        interfaces.AIClient
	messenger       interfaces.Messenger
	conversations   interfaces.ConversationStore
	fallbackMessage string
	log             zerolog.Logger
}

type MessageServiceOption func(*MessageService)

// WithFallbackMessage makes the service send text to the user when the AI
// backend fails. Without it the user gets no reply on failure.
func WithFallbackMessage(text string) MessageServiceOption {
	return func(s *MessageService) {
		s.fallbackMessage = text
	}
}

func NewMessageService(ai interfaces.AIClient, messenger interfaces.Messenger, conversations interfaces.ConversationStore, log zerolog.Logger, opts ...MessageServiceOption) *MessageService {
	s := &MessageService{
		aiClient:      ai,
		messenger:     messenger,
		conversations: conversations,
		log:           log.With().Str("component", "message_service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessMessage handles one text message end to end. Errors are logged
// here and returned for the caller's information only.
func (s *MessageService) ProcessMessage(ctx context.Context, msg entities.Message) error {
	start := time.Now()
	log := s.log.With().
		Str("event_id", msg.EventID).
		Str("receive_id", msg.ReceiveID).
		Logger()

	conversationID, err := s.conversations.Get(ctx, msg.ReceiveID)
	if err != nil {
		// continue as a new conversation
		log.Warn().Err(err).Msg("conversation lookup failed")
		conversationID = ""
	}

	reply, err := s.aiClient.Reply(ctx, entities.ChatRequest{
		Query:          msg.Text,
		User:           msg.ReceiveID,
		ConversationID: conversationID,
	})
	if err != nil {
		log.Error().Err(err).Msg("ai backend call failed")
		if conversationID != "" && conversationGone(err) {
			if err := s.conversations.Delete(ctx, msg.ReceiveID); err != nil {
				log.Warn().Err(err).Msg("stale conversation delete failed")
			} else {
				log.Info().Str("conversation_id", conversationID).Msg("stale conversation forgotten")
			}
		}
		s.sendFallback(ctx, log, msg.ReceiveID)
		return fmt.Errorf("ai reply: %w", err)
	}

	if reply.ConversationID != "" && reply.ConversationID != conversationID {
		if err := s.conversations.Put(ctx, msg.ReceiveID, reply.ConversationID); err != nil {
			log.Warn().Err(err).Msg("conversation save failed")
		}
	}

	if err := s.messenger.SendMessage(ctx, msg.ReceiveID, reply.Answer); err != nil {
		log.Error().Err(err).Msg("reply delivery failed")
		return fmt.Errorf("send reply: %w", err)
	}

	log.Info().
		Str("conversation_id", reply.ConversationID).
		Int("answer_len", len(reply.Answer)).
		Dur("elapsed", time.Since(start)).
		Msg("reply delivered")
	return nil
}

func (s *MessageService) sendFallback(ctx context.Context, log zerolog.Logger, receiveID string) {
	if s.fallbackMessage == "" {
		return
	}
	if err := s.messenger.SendMessage(ctx, receiveID, s.fallbackMessage); err != nil {
		log.Error().Err(err).Msg("fallback delivery failed")
	}
}

// conversationGone reports whether the backend no longer knows the
// conversation we sent.
func conversationGone(err error) bool {
	var backendErr *entities.BackendError
	return errors.As(err, &backendErr) && backendErr.StatusCode == http.StatusNotFound
}
