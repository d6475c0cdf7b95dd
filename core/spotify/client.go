package spotify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotAuthenticated 凭据缺失或刷新失败
// 这是可恢复的瞬态：外部重新授权后，下一次调用即可成功
var ErrNotAuthenticated = errors.New("spotify: not authenticated")

// Client Spotify Web API 客户端
// 持有一个账号的 refresh token，按需换取并缓存 access token
type Client struct {
	apiBase      string
	accountsBase string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu           sync.Mutex
	refreshToken string
	accessToken  string
	expiresAt    time.Time
}

// Config 客户端配置
type Config struct {
	APIBase      string
	AccountsBase string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// NewClient 创建 API 客户端
func NewClient(cfg Config) *Client {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://api.spotify.com/v1"
	}
	accountsBase := cfg.AccountsBase
	if accountsBase == "" {
		accountsBase = "https://accounts.spotify.com"
	}
	return &Client{
		apiBase:      apiBase,
		accountsBase: accountsBase,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// SetRefreshToken 更新 refresh token（重新授权后调用）
func (c *Client) SetRefreshToken(token string) {
	c.mu.Lock()
	c.refreshToken = token
	c.accessToken = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// ensureAccessToken 保证有未过期的 access token
func (c *Client) ensureAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	refresh := c.refreshToken
	c.mu.Unlock()

	if refresh == "" || c.clientID == "" {
		return "", ErrNotAuthenticated
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.accountsBase+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		// 刷新令牌失效，只有外部重新授权能恢复
		return "", ErrNotAuthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh failed: status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.mu.Lock()
	c.accessToken = tr.AccessToken
	// 提前一分钟过期，避开边界
	c.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn-60) * time.Second)
	if tr.RefreshToken != "" {
		c.refreshToken = tr.RefreshToken
	}
	token := c.accessToken
	c.mu.Unlock()

	return token, nil
}

// do 发送带鉴权的 API 请求
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := c.ensureAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		// access token 被提前吊销：清掉缓存重试一次
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		token, err = c.ensureAccessToken(ctx)
		if err != nil {
			return nil, err
		}
		req2, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req2.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req2.Header.Set("Content-Type", "application/json")
		}
		return c.httpClient.Do(req2)
	}

	return resp, nil
}

// CurrentPlayback 查询账号当前播放状态
// 返回 nil 表示没有任何内容在播（上游 204 或 item 缺失）
func (c *Client) CurrentPlayback(ctx context.Context) (*CurrentlyPlaying, error) {
	resp, err := c.do(ctx, http.MethodGet, "/me/player/currently-playing", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var cp CurrentlyPlaying
	if err := json.NewDecoder(resp.Body).Decode(&cp); err != nil {
		return nil, fmt.Errorf("decode playback: %w", err)
	}
	return &cp, nil
}

// Play 继续播放
func (c *Client) Play(ctx context.Context) error {
	return c.command(ctx, http.MethodPut, "/me/player/play", nil)
}

// Pause 暂停播放
func (c *Client) Pause(ctx context.Context) error {
	return c.command(ctx, http.MethodPut, "/me/player/pause", nil)
}

// Seek 跳转到指定位置
func (c *Client) Seek(ctx context.Context, positionMs int64) error {
	return c.command(ctx, http.MethodPut,
		"/me/player/seek?position_ms="+strconv.FormatInt(positionMs, 10), nil)
}

// LoadTrack 从指定位置开始播放某首曲目
func (c *Client) LoadTrack(ctx context.Context, trackID string, positionMs int64) error {
	payload, err := json.Marshal(map[string]interface{}{
		"uris":        []string{"spotify:track:" + trackID},
		"position_ms": positionMs,
	})
	if err != nil {
		return err
	}
	return c.command(ctx, http.MethodPut, "/me/player/play", payload)
}

// command 发送一条设备控制指令
func (c *Client) command(ctx context.Context, method, path string, body []byte) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return decodeAPIError(resp)
}

// decodeAPIError 把 API 错误包转成 error
func decodeAPIError(resp *http.Response) error {
	var ae apiError
	if err := json.NewDecoder(resp.Body).Decode(&ae); err == nil && ae.Error.Message != "" {
		return fmt.Errorf("spotify: %s (status %d)", ae.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("spotify: unexpected status %d", resp.StatusCode)
}
