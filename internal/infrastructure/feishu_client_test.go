package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feishu_dify_bridge/internal/entities"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	ReceiveIDType string
	ReceiveID     string
	MsgType       string
	Text          string
	Auth          string
}

// fakeFeishu serves the tenant token and message-create endpoints.
type fakeFeishu struct {
	*httptest.Server
	tokenCalls atomic.Int32
	sendCode   atomic.Int32

	mu   sync.Mutex
	sent []sentMessage
}

func newFakeFeishu(t *testing.T) *fakeFeishu {
	t.Helper()
	f := &fakeFeishu{}
	mux := http.NewServeMux()
	mux.HandleFunc(larkcore.TenantAccessTokenInternalUrlPath, func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"code":0,"msg":"ok","tenant_access_token":"t-%d","expire":7200}`, n)
	})
	mux.HandleFunc("/open-apis/im/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ReceiveID string `json:"receive_id"`
			MsgType   string `json:"msg_type"`
			Content   string `json:"content"`
		}
		assert.NoError(t, json.Unmarshal(body, &req))
		var content struct {
			Text string `json:"text"`
		}
		assert.NoError(t, json.Unmarshal([]byte(req.Content), &content))

		f.mu.Lock()
		f.sent = append(f.sent, sentMessage{
			ReceiveIDType: r.URL.Query().Get("receive_id_type"),
			ReceiveID:     req.ReceiveID,
			MsgType:       req.MsgType,
			Text:          content.Text,
			Auth:          r.Header.Get("Authorization"),
		})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if code := f.sendCode.Load(); code != 0 {
			fmt.Fprintf(w, `{"code":%d,"msg":"rejected"}`, code)
			return
		}
		fmt.Fprint(w, `{"code":0,"msg":"success","data":{"message_id":"om_1"}}`)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *fakeFeishu) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func newTestFeishuClient(f *fakeFeishu, clock *fakeClock) *FeishuClient {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	return newFeishuClient(f.URL, "cli_1", "secret", httpClient, clock.Now, zerolog.Nop())
}

func TestFeishuClient_SendMessage(t *testing.T) {
	f := newFakeFeishu(t)
	client := newTestFeishuClient(f, newFakeClock())

	require.NoError(t, client.SendMessage(context.Background(), "oc_chat", "hello!"))

	sent := f.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "chat_id", sent[0].ReceiveIDType)
	assert.Equal(t, "oc_chat", sent[0].ReceiveID)
	assert.Equal(t, "text", sent[0].MsgType)
	assert.Equal(t, "hello!", sent[0].Text)
	assert.Equal(t, "Bearer t-1", sent[0].Auth)
}

func TestFeishuClient_TokenFetchedOncePerValidity(t *testing.T) {
	f := newFakeFeishu(t)
	clock := newFakeClock()
	client := newTestFeishuClient(f, clock)
	ctx := context.Background()

	require.NoError(t, client.SendMessage(ctx, "oc_a", "one"))
	require.NoError(t, client.SendMessage(ctx, "oc_a", "two"))
	assert.Equal(t, int32(1), f.tokenCalls.Load())

	clock.Advance(2*time.Hour + time.Second)
	require.NoError(t, client.SendMessage(ctx, "oc_a", "three"))
	assert.Equal(t, int32(2), f.tokenCalls.Load())

	sent := f.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "Bearer t-1", sent[1].Auth)
	assert.Equal(t, "Bearer t-2", sent[2].Auth)
}

func TestFeishuClient_ReceiveIDType(t *testing.T) {
	f := newFakeFeishu(t)
	client := newTestFeishuClient(f, newFakeClock())
	ctx := context.Background()

	require.NoError(t, client.SendMessage(ctx, "ou_user", "x"))
	require.NoError(t, client.SendMessage(ctx, "on_union", "x"))
	require.NoError(t, client.SendMessage(ctx, "something", "x"))

	sent := f.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "open_id", sent[0].ReceiveIDType)
	assert.Equal(t, "union_id", sent[1].ReceiveIDType)
	assert.Equal(t, "chat_id", sent[2].ReceiveIDType)
}

func TestFeishuClient_SendFailure(t *testing.T) {
	f := newFakeFeishu(t)
	f.sendCode.Store(230002)
	client := newTestFeishuClient(f, newFakeClock())

	err := client.SendMessage(context.Background(), "oc_chat", "hi")
	var sendErr *entities.SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, 230002, sendErr.Code)
	assert.Equal(t, "oc_chat", sendErr.ReceiveID)
}

func TestFeishuClient_InvalidTokenDropsCache(t *testing.T) {
	f := newFakeFeishu(t)
	f.sendCode.Store(99991663)
	client := newTestFeishuClient(f, newFakeClock())
	ctx := context.Background()

	require.Error(t, client.SendMessage(ctx, "oc_chat", "hi"))

	f.sendCode.Store(0)
	require.NoError(t, client.SendMessage(ctx, "oc_chat", "hi"))
	assert.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestFeishuClient_TokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == larkcore.TenantAccessTokenInternalUrlPath {
			fmt.Fprint(w, `{"code":10003,"msg":"invalid app_id"}`)
			return
		}
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer srv.Close()

	client := NewFeishuClient(srv.URL, "bad", "secret", 5*time.Second, zerolog.Nop())
	err := client.SendMessage(context.Background(), "oc_chat", "hi")

	var tokenErr *entities.TokenError
	require.True(t, errors.As(err, &tokenErr))
	assert.Equal(t, 10003, tokenErr.Code)
}

func TestFeishuClient_EmptyReceiveID(t *testing.T) {
	f := newFakeFeishu(t)
	client := newTestFeishuClient(f, newFakeClock())

	err := client.SendMessage(context.Background(), "", "hi")
	var sendErr *entities.SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, int32(0), f.tokenCalls.Load())
}
