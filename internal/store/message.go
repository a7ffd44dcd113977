// message.go — conversation_messages 表 CRUD (终稿消息持久化)。
//
// 只落终稿: 流式消息 finalize 后写入, 中途增量不落库。
// 任务计划产物序列化进 task_plan 列。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConvMessage 会话消息记录。
type ConvMessage struct {
	ID        int64           `db:"id" json:"id"`
	ConvID    string          `db:"conv_id" json:"convId"`
	Role      string          `db:"role" json:"role"` // user | assistant | system
	Content   string          `db:"content" json:"content"`
	Status    string          `db:"status" json:"status"`
	TaskPlan  json.RawMessage `db:"task_plan" json:"taskPlan,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// MessageStore conversation_messages 存储。
type MessageStore struct{ BaseStore }

// NewMessageStore 创建。
func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{NewBaseStore(pool)}
}

const msgCols = "id, conv_id, role, content, status, task_plan, created_at"

// Insert 写入单条消息。
func (s *MessageStore) Insert(ctx context.Context, msg *ConvMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_messages (conv_id, role, content, status, task_plan, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ConvID, msg.Role, msg.Content, msg.Status, msg.TaskPlan, msg.CreatedAt)
	return err
}

// ListByConv 按会话查询历史消息 (最新在前, 支持游标分页)。
//
//	before=0 → 从最新开始; before>0 → id < before
func (s *MessageStore) ListByConv(ctx context.Context, convID string, limit int, before int64) ([]ConvMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var sql string
	var args []any
	if before > 0 {
		sql = "SELECT " + msgCols + " FROM conversation_messages WHERE conv_id=$1 AND id < $2 ORDER BY id DESC LIMIT $3"
		args = []any{convID, before, limit}
	} else {
		sql = "SELECT " + msgCols + " FROM conversation_messages WHERE conv_id=$1 ORDER BY id DESC LIMIT $2"
		args = []any{convID, limit}
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows[ConvMessage](rows)
}

// CountByConv 统计某会话的消息总数。
func (s *MessageStore) CountByConv(ctx context.Context, convID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM conversation_messages WHERE conv_id=$1", convID).Scan(&count)
	return count, err
}

// DeleteByConv 删除某会话的所有消息。
func (s *MessageStore) DeleteByConv(ctx context.Context, convID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM conversation_messages WHERE conv_id=$1", convID)
	return err
}
