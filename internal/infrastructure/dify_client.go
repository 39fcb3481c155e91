package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"feishu_dify_bridge/internal/entities"
	"feishu_dify_bridge/internal/interfaces"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/rs/zerolog"
)

const (
	difyModeStreaming = "streaming"
	difyModeBlocking  = "blocking"

	maxErrorBodyBytes = 4 << 10
)

// DifyClient calls the chat-messages endpoint of a Dify app.
type DifyClient struct {
	endpoint   string
	apiKey     string
	streaming  bool
	httpClient *http.Client
	log        zerolog.Logger
}

var _ interfaces.AIClient = (*DifyClient)(nil)

func NewDifyClient(endpoint, apiKey string, streaming bool, timeout time.Duration, log zerolog.Logger) *DifyClient {
	return &DifyClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		streaming:  streaming,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "dify").Logger(),
	}
}

type difyChatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	User           string         `json:"user"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// difyEvent covers the blocking response body and every stream event we read.
type difyEvent struct {
	Event          string `json:"event"`
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`

	// error events
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply sends one turn and returns the complete answer, in whichever
// response mode the client was built with.
func (c *DifyClient) Reply(ctx context.Context, req entities.ChatRequest) (entities.ChatReply, error) {
	if !c.streaming {
		return c.Complete(ctx, req)
	}

	stream, err := c.Stream(ctx, req)
	if err != nil {
		return entities.ChatReply{}, err
	}
	defer stream.Close()

	return CollectReply(stream)
}

// Complete calls Dify in blocking mode.
func (c *DifyClient) Complete(ctx context.Context, req entities.ChatRequest) (entities.ChatReply, error) {
	resp, err := c.post(ctx, req, difyModeBlocking)
	if err != nil {
		return entities.ChatReply{}, err
	}
	defer resp.Body.Close()

	var body difyEvent
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return entities.ChatReply{}, &entities.BackendError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}
	if body.Answer == "" {
		return entities.ChatReply{}, &entities.BackendError{Op: "decode", StatusCode: resp.StatusCode, Err: errors.New("empty answer")}
	}

	return entities.ChatReply{
		Answer:         body.Answer,
		ConversationID: body.ConversationID,
		MessageID:      body.MessageID,
	}, nil
}

// Stream calls Dify in streaming mode. The caller must Close the stream.
func (c *DifyClient) Stream(ctx context.Context, req entities.ChatRequest) (*ChatStream, error) {
	resp, err := c.post(ctx, req, difyModeStreaming)
	if err != nil {
		return nil, err
	}
	return newChatStream(ssestream.NewDecoder(resp)), nil
}

func (c *DifyClient) post(ctx context.Context, req entities.ChatRequest, mode string) (*http.Response, error) {
	sessionID := req.ConversationID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	payload := difyChatRequest{
		Inputs: map[string]any{
			"message":    req.Query,
			"session_id": sessionID,
			"stream":     mode == difyModeStreaming,
		},
		Query:          req.Query,
		User:           req.User,
		ResponseMode:   mode,
		ConversationID: req.ConversationID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &entities.BackendError{Op: "request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat-messages", bytes.NewReader(data))
	if err != nil {
		return nil, &entities.BackendError{Op: "request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if mode == difyModeStreaming {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	c.log.Debug().
		Str("user", req.User).
		Str("conversation_id", req.ConversationID).
		Str("mode", mode).
		Msg("calling dify")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &entities.BackendError{Op: "request", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &entities.BackendError{
			Op:         "status",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}

	return resp, nil
}

// ChatStream is a lazy, finite sequence of answer fragments read from a
// Dify event stream. It cannot be restarted.
type ChatStream struct {
	decoder        ssestream.Decoder
	cur            string
	replace        bool
	conversationID string
	messageID      string
	done           bool
	err            error
}

func newChatStream(decoder ssestream.Decoder) *ChatStream {
	return &ChatStream{decoder: decoder}
}

// Next advances to the next non-empty fragment. It returns false once the
// stream has ended; Err distinguishes a clean end from a failure.
func (s *ChatStream) Next() bool {
	if s.done || s.err != nil || s.decoder == nil {
		return false
	}

	for s.decoder.Next() {
		data := bytes.TrimSpace(s.decoder.Event().Data)
		if len(data) == 0 {
			continue
		}

		var ev difyEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.err = &entities.BackendError{Op: "decode", Err: err}
			return false
		}
		if ev.ConversationID != "" {
			s.conversationID = ev.ConversationID
		}
		if ev.MessageID != "" {
			s.messageID = ev.MessageID
		}

		switch ev.Event {
		case "message", "agent_message":
			if ev.Answer == "" {
				continue
			}
			s.cur, s.replace = ev.Answer, false
			return true
		case "message_replace":
			// moderation output supersedes everything streamed so far
			s.cur, s.replace = ev.Answer, true
			return true
		case "message_end":
			s.done = true
			return false
		case "error":
			s.err = &entities.BackendError{
				Op:         "stream",
				StatusCode: ev.Status,
				Err:        fmt.Errorf("%s: %s", ev.Code, ev.Message),
			}
			return false
		}
	}

	if err := s.decoder.Err(); err != nil {
		s.err = &entities.BackendError{Op: "stream", Err: err}
		return false
	}
	s.err = &entities.BackendError{Op: "stream", Err: errors.New("stream ended without message_end")}
	return false
}

// Current returns the fragment produced by the last successful Next.
func (s *ChatStream) Current() string {
	return s.cur
}

// Replaces reports whether Current replaces all earlier fragments.
func (s *ChatStream) Replaces() bool {
	return s.replace
}

func (s *ChatStream) ConversationID() string {
	return s.conversationID
}

func (s *ChatStream) MessageID() string {
	return s.messageID
}

func (s *ChatStream) Err() error {
	return s.err
}

func (s *ChatStream) Close() error {
	if s.decoder == nil {
		return nil
	}
	return s.decoder.Close()
}

// CollectReply drains the stream and joins the fragments in arrival order.
func CollectReply(stream *ChatStream) (entities.ChatReply, error) {
	var sb strings.Builder
	for stream.Next() {
		if stream.Replaces() {
			sb.Reset()
		}
		sb.WriteString(stream.Current())
	}
	if err := stream.Err(); err != nil {
		return entities.ChatReply{}, err
	}
	if sb.Len() == 0 {
		return entities.ChatReply{}, &entities.BackendError{Op: "stream", Err: errors.New("empty answer")}
	}

	return entities.ChatReply{
		Answer:         sb.String(),
		ConversationID: stream.ConversationID(),
		MessageID:      stream.MessageID(),
	}, nil
}
