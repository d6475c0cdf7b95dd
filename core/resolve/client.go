package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"MirrorFM/cache"
	"MirrorFM/logger"
)

// Client 视频内容解析客户端
// 通过搜索接口把曲目的标题+艺术家映射到一个视频 ID，
// 命中结果走两级缓存：进程内有界缓存 -> Redis
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client

	mu      sync.Mutex
	entries map[string]string
	order   []string // 插入顺序，满了淘汰最老的
	cap     int

	redisTier *cache.ResolveCache
}

// Config 解析客户端配置
type Config struct {
	Endpoint  string
	APIKey    string
	CacheSize int
	RedisTier *cache.ResolveCache
}

// NewClient 创建解析客户端
func NewClient(cfg Config) *Client {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
		entries:   make(map[string]string, cfg.CacheSize),
		cap:       cfg.CacheSize,
		redisTier: cfg.RedisTier,
	}
}

// Resolve 把标题+艺术家解析为视频 ID
// 失败不缓存，下一次还会重新搜索
func (c *Client) Resolve(title, artist string) (string, error) {
	key := cacheKey(title, artist)

	if id, ok := c.lookup(key); ok {
		return id, nil
	}

	if c.redisTier != nil {
		id, err := c.redisTier.Get(context.Background(), title, artist)
		if err != nil {
			logger.Warn("解析缓存读取失败", logger.ErrorField(err))
		} else if id != "" {
			c.store(key, id)
			return id, nil
		}
	}

	id, err := c.search(title, artist)
	if err != nil {
		return "", err
	}

	c.store(key, id)
	if c.redisTier != nil {
		if err := c.redisTier.Set(context.Background(), title, artist, id); err != nil {
			logger.Warn("解析缓存写入失败", logger.ErrorField(err))
		}
	}
	return id, nil
}

func (c *Client) lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.entries[key]
	return id, ok
}

func (c *Client) store(key, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = id
		return
	}

	if len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = id
	c.order = append(c.order, key)
}

// search 调用搜索接口，取第一条结果的视频 ID
func (c *Client) search(title, artist string) (string, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("maxResults", "1")
	params.Set("q", fmt.Sprintf("%s %s", title, artist))
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}

	reqURL := fmt.Sprintf("%s?%s", c.endpoint, params.Encode())
	resp, err := c.httpClient.Get(reqURL)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search failed: status %d", resp.StatusCode)
	}

	var result struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	if len(result.Items) == 0 || result.Items[0].ID.VideoID == "" {
		return "", fmt.Errorf("no video found for %q by %q", title, artist)
	}
	return result.Items[0].ID.VideoID, nil
}

func cacheKey(title, artist string) string {
	return title + "|" + artist
}
