package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"feishu_dify_bridge/internal/entities"
	"feishu_dify_bridge/internal/interfaces"

	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/rs/zerolog"
)

// Feishu codes meaning the tenant token we sent is no longer usable.
var tokenInvalidCodes = map[int]bool{
	99991661: true,
	99991663: true,
	99991668: true,
}

// FeishuClient sends text messages through the Feishu IM API.
type FeishuClient struct {
	client *lark.Client
	tokens *TenantTokenCache
	log    zerolog.Logger
}

var _ interfaces.Messenger = (*FeishuClient)(nil)

// NewFeishuClient builds the sender and its token cache. The SDK's own
// token cache is disabled; every request carries the token from ours.
func NewFeishuClient(baseURL, appID, appSecret string, timeout time.Duration, log zerolog.Logger) *FeishuClient {
	return newFeishuClient(baseURL, appID, appSecret, &http.Client{Timeout: timeout}, time.Now, log)
}

func newFeishuClient(baseURL, appID, appSecret string, httpClient *http.Client, now func() time.Time, log zerolog.Logger) *FeishuClient {
	client := newLarkClient(baseURL, appID, appSecret, httpClient)
	tokens := NewTenantTokenCache(NewFeishuTokenFetcher(client, appID, appSecret, now))
	tokens.now = now

	return &FeishuClient{
		client: client,
		tokens: tokens,
		log:    log.With().Str("component", "feishu").Logger(),
	}
}

func newLarkClient(baseURL, appID, appSecret string, httpClient *http.Client) *lark.Client {
	return lark.NewClient(appID, appSecret,
		lark.WithOpenBaseUrl(baseURL),
		lark.WithEnableTokenCache(false),
		lark.WithHttpClient(httpClient),
		lark.WithLogLevel(larkcore.LogLevelError),
	)
}

// SendMessage sends content as a text message to a chat, or to a user
// when to is an open_id / union_id.
func (c *FeishuClient) SendMessage(ctx context.Context, to, content string) error {
	if to == "" {
		return &entities.SendError{Err: errors.New("receive id is empty")}
	}

	tok, err := c.tokens.TokenContext(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return &entities.SendError{ReceiveID: to, Err: err}
	}

	idType := c.receiveIDType(to)
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(idType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(to).
			MsgType(larkim.MsgTypeText).
			Content(string(payload)).
			Uuid(uuid.NewString()).
			Build()).
		Build()

	resp, err := c.client.Im.V1.Message.Create(ctx, req, larkcore.WithTenantAccessToken(tok.AccessToken))
	if err != nil {
		return &entities.SendError{ReceiveID: to, Err: err}
	}
	if !resp.Success() {
		if tokenInvalidCodes[resp.Code] {
			c.tokens.Invalidate()
		}
		return &entities.SendError{ReceiveID: to, Code: resp.Code, Err: errors.New(resp.Msg)}
	}

	c.log.Debug().
		Str("receive_id", to).
		Str("receive_id_type", idType).
		Msg("feishu message sent")
	return nil
}

// receiveIDType picks the id type from the id prefix.
func (c *FeishuClient) receiveIDType(id string) string {
	switch {
	case strings.HasPrefix(id, "oc_"):
		return larkim.ReceiveIdTypeChatId
	case strings.HasPrefix(id, "ou_"):
		return larkim.ReceiveIdTypeOpenId
	case strings.HasPrefix(id, "on_"):
		return larkim.ReceiveIdTypeUnionId
	default:
		c.log.Warn().Str("receive_id", id).Msg("unknown receive id prefix, sending as chat_id")
		return larkim.ReceiveIdTypeChatId
	}
}
