package entities

const (
	EventTypeMessageReceive = "im.message.receive_v1"
	RequestTypeURLVerify    = "url_verification"
)

// FeishuEnvelope is the webhook body. URL verification requests only carry
// Challenge, Token and Type; schema 2.0 events carry Header and Event.
type FeishuEnvelope struct {
	Challenge string `json:"challenge,omitempty"`
	Token     string `json:"token,omitempty"`
	Type      string `json:"type,omitempty"`
	Encrypt   string `json:"encrypt,omitempty"`

	Schema string        `json:"schema,omitempty"`
	Header *FeishuHeader `json:"header,omitempty"`
	Event  *FeishuEvent  `json:"event,omitempty"`
}

type FeishuHeader struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Token      string `json:"token"`
	AppID      string `json:"app_id"`
	TenantKey  string `json:"tenant_key"`
}

type FeishuEvent struct {
	Sender  *FeishuSender  `json:"sender,omitempty"`
	Message *FeishuMessage `json:"message,omitempty"`
}

type FeishuSender struct {
	SenderID   FeishuUserID `json:"sender_id"`
	SenderType string       `json:"sender_type"`
	TenantKey  string       `json:"tenant_key"`
}

type FeishuUserID struct {
	OpenID  string `json:"open_id"`
	UserID  string `json:"user_id"`
	UnionID string `json:"union_id"`
}

type FeishuMessage struct {
	MessageID   string          `json:"message_id"`
	ChatID      string          `json:"chat_id"`
	ChatType    string          `json:"chat_type"`
	MessageType string          `json:"message_type"`
	Content     string          `json:"content"` // JSON string, {"text":"..."} for text
	Mentions    []FeishuMention `json:"mentions,omitempty"`
}

// FeishuMention maps a placeholder such as "@_user_1" in the text to a user.
type FeishuMention struct {
	Key  string       `json:"key"`
	ID   FeishuUserID `json:"id"`
	Name string       `json:"name"`
}

// VerificationToken returns the token of either payload version.
func (e *FeishuEnvelope) VerificationToken() string {
	if e.Header != nil && e.Header.Token != "" {
		return e.Header.Token
	}
	return e.Token
}

func (e *FeishuEnvelope) EventType() string {
	if e.Header == nil {
		return ""
	}
	return e.Header.EventType
}

func (e *FeishuEnvelope) EventID() string {
	if e.Header == nil {
		return ""
	}
	return e.Header.EventID
}

// IsChallenge reports whether this is an endpoint ownership check.
func (e *FeishuEnvelope) IsChallenge() bool {
	return e.Challenge != "" || e.Type == RequestTypeURLVerify
}
