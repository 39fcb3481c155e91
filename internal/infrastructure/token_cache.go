package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"feishu_dify_bridge/internal/entities"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"golang.org/x/oauth2"
)

// tokens this close to expiry are refreshed before use
const tokenRefreshMargin = time.Minute

// TokenFetcher obtains a fresh tenant access token.
type TokenFetcher func(ctx context.Context) (*oauth2.Token, error)

// TenantTokenCache holds the Feishu tenant access token and refreshes it
// when it is about to expire. Concurrent callers share a single refresh.
type TenantTokenCache struct {
	fetch TokenFetcher
	now   func() time.Time

	mu     sync.Mutex
	token  *oauth2.Token
	margin time.Duration
}

func NewTenantTokenCache(fetch TokenFetcher) *TenantTokenCache {
	return &TenantTokenCache{
		fetch: fetch,
		now:   time.Now,
	}
}

// TokenContext returns the cached token, fetching a new one if needed.
func (c *TenantTokenCache) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.validLocked() {
		return c.token, nil
	}

	tok, err := c.fetch(ctx)
	if err != nil {
		var tokenErr *entities.TokenError
		if errors.As(err, &tokenErr) {
			return nil, err
		}
		return nil, &entities.TokenError{Err: err}
	}
	c.token = tok
	c.margin = refreshMargin(c.now(), tok)
	return tok, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *TenantTokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

func (c *TenantTokenCache) validLocked() bool {
	if c.token == nil || c.token.AccessToken == "" {
		return false
	}
	if c.token.Expiry.IsZero() {
		return true
	}
	return c.now().Add(c.margin).Before(c.token.Expiry)
}

// refreshMargin shrinks the margin for short-lived tokens so a fresh token
// is not already due for refresh.
func refreshMargin(now time.Time, tok *oauth2.Token) time.Duration {
	if tok.Expiry.IsZero() {
		return 0
	}
	if half := tok.Expiry.Sub(now) / 2; half < tokenRefreshMargin {
		return half
	}
	return tokenRefreshMargin
}

// NewFeishuTokenFetcher returns a fetcher that asks the Feishu auth API for
// an internal-app tenant token through client. now stamps the expiry; nil
// means time.Now.
func NewFeishuTokenFetcher(client *lark.Client, appID, appSecret string, now func() time.Time) TokenFetcher {
	if now == nil {
		now = time.Now
	}

	return func(ctx context.Context) (*oauth2.Token, error) {
		resp, err := client.GetTenantAccessTokenBySelfBuiltApp(ctx, &larkcore.SelfBuiltTenantAccessTokenReq{
			AppID:     appID,
			AppSecret: appSecret,
		})
		if err != nil {
			return nil, &entities.TokenError{Err: err}
		}
		if resp.ApiResp != nil && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
			return nil, &entities.TokenError{Code: resp.Code, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}
		if !resp.Success() {
			return nil, &entities.TokenError{Code: resp.Code, Err: errors.New(resp.Msg)}
		}
		if resp.TenantAccessToken == "" {
			return nil, &entities.TokenError{Err: errors.New("empty tenant_access_token")}
		}

		tok := &oauth2.Token{
			AccessToken: resp.TenantAccessToken,
			TokenType:   "Bearer",
		}
		if resp.Expire > 0 {
			tok.Expiry = now().Add(time.Duration(resp.Expire) * time.Second)
		}
		return tok, nil
	}
}
