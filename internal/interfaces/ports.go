package interfaces

import (
	"context"

	"feishu_dify_bridge/internal/entities"
)

// AIClient produces the answer for one chat turn.
type AIClient interface {
	Reply(ctx context.Context, req entities.ChatRequest) (entities.ChatReply, error)
}

// Messenger delivers text to a chat platform recipient.
type Messenger interface {
	SendMessage(ctx context.Context, to, content string) error
}

// ConversationStore maps a Feishu receive id to the AI backend conversation id.
type ConversationStore interface {
	Get(ctx context.Context, receiveID string) (string, error)
	Put(ctx context.Context, receiveID, conversationID string) error
	Delete(ctx context.Context, receiveID string) error
}
