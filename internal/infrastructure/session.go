package infrastructure

import (
	"context"
	"sync"

	"feishu_dify_bridge/internal/interfaces"
)

// SessionManager keeps the chat to Dify conversation mapping in memory.
// Nothing survives a restart.
type SessionManager struct {
	conversations map[string]string
	mu            sync.RWMutex
}

var _ interfaces.ConversationStore = (*SessionManager)(nil)

func NewSessionManager() *SessionManager {
	return &SessionManager{
		conversations: make(map[string]string),
	}
}

// Get returns the conversation id for receiveID, or "" if there is none.
func (sm *SessionManager) Get(_ context.Context, receiveID string) (string, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.conversations[receiveID], nil
}

// Put records the latest conversation id for receiveID.
func (sm *SessionManager) Put(_ context.Context, receiveID, conversationID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.conversations[receiveID] = conversationID
	return nil
}

// Delete forgets the conversation for receiveID.
func (sm *SessionManager) Delete(_ context.Context, receiveID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.conversations, receiveID)
	return nil
}
