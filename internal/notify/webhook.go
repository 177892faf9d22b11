package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrDeliveryFailure 消息未能送达
var ErrDeliveryFailure = errors.New("delivery failure")

// DeliveryError 单次发送失败的详情
type DeliveryError struct {
	StatusCode int           // 0 表示请求未得到响应
	Body       string        // 响应正文（截断）
	RetryAfter time.Duration // 服务端要求的等待时间
	Err        error         // 传输层错误
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("delivery failure: %v", e.Err)
	}
	return fmt.Sprintf("delivery failure: status %d: %s", e.StatusCode, e.Body)
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailure
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Retryable 速率限制、服务端错误和传输错误可以重试，其余 4xx 不可重试
func (e *DeliveryError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Sender 消息投递端
type Sender interface {
	Send(ctx context.Context, content string) error
}

type webhookPayload struct {
	Content         string          `json:"content"`
	Username        string          `json:"username,omitempty"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

// WebhookClient 通过 Discord Webhook 发送消息
type WebhookClient struct {
	url        string
	username   string
	httpClient *http.Client
}

// NewWebhookClient 创建 Webhook 客户端，transport 为 nil 时使用默认传输
func NewWebhookClient(url, username string, transport *http.Transport) *WebhookClient {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if transport != nil {
		httpClient.Transport = transport
	}
	return &WebhookClient{url: url, username: username, httpClient: httpClient}
}

// Send 发送一条消息
func (c *WebhookClient) Send(ctx context.Context, content string) error {
	body, err := json.Marshal(webhookPayload{
		Content:         content,
		Username:        c.username,
		AllowedMentions: allowedMentions{Parse: []string{}},
	})
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &DeliveryError{
		StatusCode: resp.StatusCode,
		Body:       string(raw),
		RetryAfter: retryAfter(resp.Header, raw),
	}
}

// retryAfter 解析 429 响应中的等待时间，优先使用正文中的 retry_after（秒，可为小数）
func retryAfter(header http.Header, body []byte) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}
