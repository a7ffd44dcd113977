// sink.go — 会话终稿落库与历史回灌的桥接。
package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/go-console-v2/internal/session"
	"github.com/multi-agent/go-console-v2/pkg/logger"
)

// HistorySink 实现 client.Sink: 终稿消息写入 PostgreSQL。
type HistorySink struct {
	convs *ConversationStore
	msgs  *MessageStore
	mode  string
}

// NewHistorySink 创建落库 sink。
func NewHistorySink(pool *pgxpool.Pool, mode string) *HistorySink {
	return &HistorySink{
		convs: NewConversationStore(pool),
		msgs:  NewMessageStore(pool),
		mode:  mode,
	}
}

// SaveMessage 持久化一条终稿消息 (会话记录幂等补建)。
func (h *HistorySink) SaveMessage(ctx context.Context, convID string, msg session.Message) error {
	if err := h.convs.Ensure(ctx, convID, h.mode); err != nil {
		return err
	}

	var plan json.RawMessage
	if msg.TaskPlan != nil {
		data, err := json.Marshal(msg.TaskPlan)
		if err != nil {
			logger.Warn("sink: task plan marshal failed",
				logger.FieldConvID, convID,
				logger.FieldError, err.Error(),
			)
		} else {
			plan = data
		}
	}

	return h.msgs.Insert(ctx, &ConvMessage{
		ConvID:   convID,
		Role:     string(msg.Role),
		Content:  msg.Content,
		Status:   string(msg.Status),
		TaskPlan: plan,
	})
}

// LoadHistory 读取会话历史并转为回灌记录 (时间正序)。
func (h *HistorySink) LoadHistory(ctx context.Context, convID string, limit int) ([]session.HistoryRecord, error) {
	msgs, err := h.msgs.ListByConv(ctx, convID, limit, 0)
	if err != nil {
		return nil, err
	}

	// ListByConv 最新在前, 回灌需要正序。
	records := make([]session.HistoryRecord, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		records = append(records, session.HistoryRecord{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Status:    m.Status,
			CreatedAt: m.CreatedAt,
		})
	}
	return records, nil
}
