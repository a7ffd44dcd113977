// control.go — 流打开期间的切入操作: interrupt / inject / approve / reject。
package client

import (
	"context"
	"net/http"

	"github.com/multi-agent/go-console-v2/internal/protocol"
	"github.com/multi-agent/go-console-v2/internal/stream"
	apperrors "github.com/multi-agent/go-console-v2/pkg/errors"
	"github.com/multi-agent/go-console-v2/pkg/logger"
	"github.com/multi-agent/go-console-v2/pkg/util"
)

// Interrupt 用户中断: 同步取消读取器并乐观清理本地状态,
// 后端通知异步尽力送达, 不等待回执。
//
// 返回取消结果供调用方区分 "无流可取消" 与 "取消失败"。
func (c *Client) Interrupt() stream.CancelResult {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()

	var res stream.CancelResult
	if reader == nil {
		res = stream.CancelResult{Outcome: stream.AlreadyClosed}
	} else {
		res = reader.Cancel()
	}

	c.session.ClearForInterrupt()

	convID := c.session.ConversationID()
	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.restCli.Timeout)
		defer cancel()
		err := c.postJSON(ctx, "/agent/interrupt",
			protocol.InterruptRequest{ConvID: convID}, nil, http.StatusOK, http.StatusAccepted)
		if err != nil {
			logger.Warn("client: interrupt notify failed",
				logger.FieldConvID, convID,
				logger.FieldError, err.Error(),
			)
		}
	})

	logger.Info("client: interrupted",
		logger.FieldConvID, convID,
		"cancel_outcome", res.Outcome.String(),
	)
	return res
}

// Inject 流进行中注入用户消息 (不开新轮)。
//
// 前置条件: 流式消息处于进行态; 否则返回 ErrNoActiveStream,
// 调用方应改走 Send。
func (c *Client) Inject(ctx context.Context, text string) (*protocol.InjectResponse, error) {
	if !c.session.StreamActive() {
		return nil, apperrors.Wrap(apperrors.ErrNoActiveStream, "Client.Inject", "no streaming message")
	}

	var resp protocol.InjectResponse
	err := c.postJSON(ctx, "/agent/inject-message", protocol.InjectRequest{
		ConversationID: c.session.ConversationID(),
		Message:        text,
		Priority:       c.priority,
	}, &resp, http.StatusOK)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, apperrors.New("Client.Inject", "backend rejected injection")
	}

	c.persistTurn(c.session.AppendInjected(text))
	logger.Info("client: message injected",
		logger.FieldConvID, c.session.ConversationID(),
		"queue_length", resp.QueueLength,
	)
	return &resp, nil
}

// Approve 批准当前审批门。pendingApproval 仅在 approval_status
// 事件到达后清除, 此处绝不乐观清除。
func (c *Client) Approve(ctx context.Context) error {
	return c.resolveApproval(ctx, "/agent/approve")
}

// Reject 拒绝当前审批门。
func (c *Client) Reject(ctx context.Context) error {
	return c.resolveApproval(ctx, "/agent/reject")
}

func (c *Client) resolveApproval(ctx context.Context, path string) error {
	approval := c.session.PendingApproval()
	if approval == nil {
		return apperrors.Wrap(apperrors.ErrNoPendingApproval, "Client.resolveApproval", path)
	}
	return c.postJSON(ctx, path, protocol.ApprovalActionRequest{
		ConvID:     c.session.ConversationID(),
		ApprovalID: approval.ID,
	}, nil, http.StatusOK, http.StatusAccepted)
}
