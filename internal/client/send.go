// send.go — 发送编排: idle → sending → (streaming ⇄ awaiting-approval) → 终态。
package client

import (
	"context"
	"errors"
	"io"

	"github.com/multi-agent/go-console-v2/internal/protocol"
	"github.com/multi-agent/go-console-v2/internal/session"
	"github.com/multi-agent/go-console-v2/internal/stream"
	apperrors "github.com/multi-agent/go-console-v2/pkg/errors"
	"github.com/multi-agent/go-console-v2/pkg/logger"
)

// SendResult 一轮发送的最终结果。
type SendResult string

const (
	SendComplete    SendResult = "complete"
	SendFailed      SendResult = "failed"
	SendInterrupted SendResult = "interrupted"
)

// Send 发送一条用户消息并驱动流循环到终结。
//
// 入口守卫: 已有发送进行中时返回 ErrSendInProgress (注入走 Inject)。
// 失败路径同样收敛到终态: 合成错误块追加进流式消息后 finalize,
// transcript 不留悬挂消息。
func (c *Client) Send(ctx context.Context, text string, att session.Attachment) (SendResult, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return SendFailed, apperrors.Wrap(apperrors.ErrSendInProgress, "Client.Send", "entry guard")
	}
	c.state = StateSending
	c.mu.Unlock()

	user, _ := c.session.StartSend(text, att)

	body, err := c.openStream(ctx, protocol.ChatStreamRequest{
		ConvID:  c.session.ConversationID(),
		Message: text,
		Image:   att.Image,
		File:    att.File,
	})
	if err != nil {
		c.session.MarkSendFailed(err.Error())
		user.Status = session.StatusFailed
		c.finishTurn(&user)
		return SendFailed, err
	}
	c.session.MarkUserSent()
	user.Status = session.StatusNone

	reader := stream.NewReader(body)
	c.mu.Lock()
	c.reader = reader
	c.state = StateStreaming
	c.mu.Unlock()

	result := c.driveStream(reader)
	c.finishTurn(&user)

	logger.Info("client: send finished",
		logger.FieldConvID, c.session.ConversationID(),
		logger.FieldStatus, string(result),
	)
	return result, nil
}

// driveStream 读取→解析→路由循环, 严格按到达顺序处理。
func (c *Client) driveStream(reader *stream.Reader) SendResult {
	for {
		raw, err := reader.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// 流自然结束 (终结事件通常已先行处理)。
				return SendComplete
			case errors.Is(err, apperrors.ErrStreamClosed):
				// 本地取消, 不是错误。
				return SendInterrupted
			default:
				c.session.MarkSendFailed(err.Error())
				return SendFailed
			}
		}

		frame, perr := stream.ParseFrame(raw)
		if perr != nil {
			// 协议级单帧错误: 丢帧继续。
			logger.Warn("client: frame dropped",
				logger.FieldError, perr.Error(),
				logger.FieldFrameLen, len(raw),
			)
			continue
		}

		out := c.session.ApplyEvent(frame.Event, frame.Data)
		c.syncApprovalState()

		if out.CancelReader {
			reader.Cancel()
		}
		if out.Terminal {
			return SendComplete
		}
	}
}

// syncApprovalState 审批门状态同步到状态机标签 (仅观测用途,
// 流循环继续读取以接收 approval_status 回执)。
func (c *Client) syncApprovalState() {
	gated := c.session.PendingApproval() != nil
	c.mu.Lock()
	switch {
	case gated && c.state == StateStreaming:
		c.state = StateAwaitingApproval
	case !gated && c.state == StateAwaitingApproval:
		c.state = StateStreaming
	}
	c.mu.Unlock()
}

// finishTurn 终稿落盘 (用户侧 + 助手侧) 并回到 idle。
func (c *Client) finishTurn(user *session.Message) {
	msg := c.session.FinalizeStream()
	c.persistTurn(user, msg)

	c.mu.Lock()
	if c.reader != nil {
		c.reader.Cancel()
		c.reader = nil
	}
	c.state = StateIdle
	c.mu.Unlock()
}
