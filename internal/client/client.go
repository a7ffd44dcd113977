// Package client 实现编排器 REST/流客户端与发送编排。
//
// 一个 Client 绑定一个 Session: Send 打开 chat-stream 并驱动
// 读取→解析→路由循环; Interrupt/Inject/Approve/Reject 在流打开
// 期间从其他 goroutine 切入。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/multi-agent/go-console-v2/internal/config"
	"github.com/multi-agent/go-console-v2/internal/protocol"
	"github.com/multi-agent/go-console-v2/internal/session"
	"github.com/multi-agent/go-console-v2/internal/stream"
	apperrors "github.com/multi-agent/go-console-v2/pkg/errors"
	"github.com/multi-agent/go-console-v2/pkg/logger"
)

// SendState 发送状态机状态。
type SendState string

const (
	StateIdle             SendState = "idle"
	StateSending          SendState = "sending"
	StateStreaming        SendState = "streaming"
	StateAwaitingApproval SendState = "awaiting-approval"
)

// Sink 终稿消息的可选持久化落点 (nil 表示不持久化)。
type Sink interface {
	SaveMessage(ctx context.Context, convID string, msg session.Message) error
}

// Client 编排器客户端。
type Client struct {
	baseURL  string
	priority string

	// restCli 带超时, 用于控制面请求; streamCli 无超时,
	// chat-stream 连接保持到终结事件。
	restCli   *http.Client
	streamCli *http.Client

	session *session.Session
	sink    Sink

	mu     sync.Mutex
	state  SendState
	reader *stream.Reader
}

// New 创建客户端。
func New(cfg *config.Config, sess *session.Session) *Client {
	return &Client{
		baseURL:   cfg.OrchestratorBaseURL,
		priority:  cfg.InjectPriority,
		restCli:   &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSec) * time.Second},
		streamCli: &http.Client{},
		session:   sess,
		state:     StateIdle,
	}
}

// SetSink 注册持久化落点 (线程安全, 通常在启动时调用一次)。
func (c *Client) SetSink(sink Sink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Session 返回绑定的会话。
func (c *Client) Session() *session.Session { return c.session }

// State 返回当前发送状态。
func (c *Client) State() SendState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ========================================
// 通用 HTTP helpers
// ========================================

// postJSON POST JSON 请求。out 为 nil 时不解析响应体。
func (c *Client) postJSON(ctx context.Context, path string, reqBody any, out any, okStatus ...int) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrapf(err, "Client.postJSON", "POST %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.restCli.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, "Client.postJSON", "POST %s", path)
	}
	defer resp.Body.Close()
	if !statusOK(resp.StatusCode, okStatus) {
		body, _ := io.ReadAll(resp.Body)
		return apperrors.Newf("Client.postJSON", "POST %s status %d: %s", path, resp.StatusCode, body)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// openStream POST chat-stream 并返回响应体 (chunked 帧流)。
func (c *Client) openStream(ctx context.Context, reqBody protocol.ChatStreamRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat-stream", bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(err, "Client.openStream", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.streamCli.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, "Client.openStream", "POST /chat-stream")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apperrors.Newf("Client.openStream", "POST /chat-stream status %d: %s", resp.StatusCode, body)
	}
	return resp.Body, nil
}

// statusOK 检查状态码是否在允许列表中。
func statusOK(code int, allowed []int) bool {
	for _, ok := range allowed {
		if code == ok {
			return true
		}
	}
	return false
}

// persistTurn 尽力持久化终稿消息, 失败仅记日志不影响会话。
func (c *Client) persistTurn(msgs ...*session.Message) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		return
	}
	convID := c.session.ConversationID()
	if convID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if err := sink.SaveMessage(ctx, convID, *msg); err != nil {
			logger.Warn("client: persist message failed",
				logger.FieldConvID, convID,
				logger.FieldError, err.Error(),
			)
		}
	}
}
