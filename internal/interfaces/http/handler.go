package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"feishu_dify_bridge/internal/entities"

	"github.com/gin-gonic/gin"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/rs/zerolog"
)

// MessageProcessor runs the reply pipeline for one message.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, msg entities.Message) error
}

// EventFilter reports events that were already handled.
type EventFilter interface {
	Seen(eventID string) bool
}

type HandlerConfig struct {
	// VerificationToken, when set, must match the token in every payload.
	VerificationToken string
	// ProcessTimeout bounds the background work for one message.
	ProcessTimeout time.Duration
	// Dedup drops redelivered events; nil disables it.
	Dedup EventFilter
}

type Handler struct {
	processor MessageProcessor
	cfg       HandlerConfig
	log       zerolog.Logger
	inflight  sync.WaitGroup
}

func NewHandler(processor MessageProcessor, cfg HandlerConfig, log zerolog.Logger) *Handler {
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 2 * time.Minute
	}
	return &Handler{
		processor: processor,
		cfg:       cfg,
		log:       log.With().Str("component", "webhook").Logger(),
	}
}

// RouteOptions configures the middleware in front of the routes.
type RouteOptions struct {
	MaxBodyBytes int64
	RateLimit    float64
	RateBurst    int
}

func SetupRoutes(r *gin.Engine, h *Handler, middleware *Middleware, opts RouteOptions) {
	r.Use(SecurityHeaders())
	if opts.MaxBodyBytes > 0 {
		r.Use(RequestSizeLimiter(opts.MaxBodyBytes))
	}

	r.GET("/", h.Health)

	feishu := r.Group("/feishu")
	if opts.RateLimit > 0 && opts.RateBurst > 0 {
		feishu.Use(middleware.RateLimitPerClient(opts.RateLimit, opts.RateBurst))
	}
	{
		feishu.POST("/webhook", h.HandleWebhook)
	}
}

// Health answers uptime checks.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleWebhook receives Feishu event callbacks. Message events are
// acknowledged right away and answered in the background.
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": http.StatusRequestEntityTooLarge, "msg": "request body too large"})
			return
		}
		h.reject(c, http.StatusBadRequest, err)
		return
	}

	var envelope entities.FeishuEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.reject(c, http.StatusBadRequest, &entities.MalformedRequestError{Err: err})
		return
	}

	if envelope.Encrypt != "" {
		h.reject(c, http.StatusBadRequest, &entities.MalformedRequestError{Field: "encrypt", Err: errors.New("encrypted events are not supported, disable the encrypt key")})
		return
	}

	if h.cfg.VerificationToken != "" && envelope.VerificationToken() != h.cfg.VerificationToken {
		h.log.Warn().Str("client_ip", c.ClientIP()).Msg("verification token mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "invalid verification token"})
		return
	}

	if envelope.IsChallenge() {
		h.log.Info().Msg("url verification challenge")
		c.JSON(http.StatusOK, gin.H{"challenge": envelope.Challenge})
		return
	}

	if eventType := envelope.EventType(); eventType != entities.EventTypeMessageReceive {
		h.log.Debug().Str("event_type", eventType).Msg("ignoring event")
		h.ack(c)
		return
	}

	msg, ok, err := ParseMessageEvent(&envelope)
	if err != nil {
		h.reject(c, http.StatusBadRequest, err)
		return
	}
	if !ok {
		h.log.Debug().Str("event_id", envelope.EventID()).Msg("ignoring non-text or empty message")
		h.ack(c)
		return
	}

	if h.cfg.Dedup != nil && h.cfg.Dedup.Seen(msg.EventID) {
		h.log.Info().Str("event_id", msg.EventID).Msg("duplicate event dropped")
		h.ack(c)
		return
	}

	h.log.Info().
		Str("event_id", msg.EventID).
		Str("receive_id", msg.ReceiveID).
		Str("sender_id", msg.SenderID).
		Str("chat_type", msg.ChatType).
		Str("preview", TruncateString(msg.Text, 80)).
		Msg("message received")

	h.dispatch(msg)
	h.ack(c)
}

// Wait blocks until every dispatched message has been processed.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

// dispatch processes msg detached from the request, so a dropped
// connection does not cancel the reply.
func (h *Handler) dispatch(msg entities.Message) {
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				h.log.Error().Interface("panic", r).Str("event_id", msg.EventID).Msg("message processing panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ProcessTimeout)
		defer cancel()

		// failures are logged by the processor
		_ = h.processor.ProcessMessage(ctx, msg)
	}()
}

func (h *Handler) ack(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "success"})
}

func (h *Handler) reject(c *gin.Context, status int, err error) {
	h.log.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("rejected webhook request")
	c.JSON(status, gin.H{"code": status, "msg": err.Error()})
}

// ParseMessageEvent extracts a text message from an im.message.receive_v1
// event. ok is false for non-text messages and for text that is empty once
// mentions are removed.
func ParseMessageEvent(envelope *entities.FeishuEnvelope) (msg entities.Message, ok bool, err error) {
	if envelope.Event == nil || envelope.Event.Message == nil {
		return entities.Message{}, false, &entities.MalformedRequestError{Field: "event.message", Err: errors.New("missing")}
	}
	message := envelope.Event.Message

	if message.MessageType != larkim.MsgTypeText {
		return entities.Message{}, false, nil
	}

	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(message.Content), &content); err != nil {
		return entities.Message{}, false, &entities.MalformedRequestError{Field: "message.content", Err: err}
	}

	text := StripMentions(content.Text, message.Mentions)
	text = strings.TrimSpace(SanitizeString(text))
	if text == "" {
		// e.g. a group message that only @mentions the bot
		return entities.Message{}, false, nil
	}

	senderID := extractSenderID(envelope.Event.Sender)
	receiveID := message.ChatID
	if receiveID == "" && envelope.Event.Sender != nil {
		receiveID = envelope.Event.Sender.SenderID.OpenID
	}
	if receiveID == "" {
		return entities.Message{}, false, &entities.MalformedRequestError{Field: "message.chat_id", Err: errors.New("no chat_id or sender open_id")}
	}

	return entities.Message{
		EventID:   envelope.EventID(),
		ReceiveID: receiveID,
		ChatID:    message.ChatID,
		SenderID:  senderID,
		ChatType:  message.ChatType,
		Text:      text,
	}, true, nil
}

func extractSenderID(sender *entities.FeishuSender) string {
	if sender == nil {
		return ""
	}
	switch {
	case sender.SenderID.OpenID != "":
		return sender.SenderID.OpenID
	case sender.SenderID.UserID != "":
		return sender.SenderID.UserID
	default:
		return sender.SenderID.UnionID
	}
}
