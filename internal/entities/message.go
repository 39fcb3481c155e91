package entities

// Message is a text message extracted from a Feishu webhook event.
type Message struct {
	EventID   string
	ReceiveID string // where the reply goes: chat_id, else sender open_id
	ChatID    string
	SenderID  string
	ChatType  string // "p2p" or "group"
	Text      string
}

// ChatRequest is one turn sent to the AI backend.
type ChatRequest struct {
	Query          string
	User           string
	ConversationID string // empty starts a new conversation
}

// ChatReply is the assembled answer of one turn.
type ChatReply struct {
	Answer         string
	ConversationID string
	MessageID      string
}
