// conversation.go — conversations 表 CRUD (会话元数据)。
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Conversation 会话元数据记录。
type Conversation struct {
	ConvID    string    `db:"conv_id" json:"convId"`
	Title     string    `db:"title" json:"title"`
	Mode      string    `db:"mode" json:"mode"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ConversationStore conversations 存储。
type ConversationStore struct{ BaseStore }

// NewConversationStore 创建。
func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{NewBaseStore(pool)}
}

const convCols = "conv_id, title, mode, created_at, updated_at"

// Ensure 幂等写入会话记录; 已存在时仅刷新 updated_at。
func (s *ConversationStore) Ensure(ctx context.Context, convID, mode string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (conv_id, title, mode, created_at, updated_at)
		 VALUES ($1, '', $2, NOW(), NOW())
		 ON CONFLICT (conv_id) DO UPDATE SET updated_at = NOW()`,
		convID, mode)
	return err
}

// Get 按 conv_id 查询, 无记录返回 nil。
func (s *ConversationStore) Get(ctx context.Context, convID string) (*Conversation, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+convCols+" FROM conversations WHERE conv_id = $1", convID)
	if err != nil {
		return nil, err
	}
	return collectOne[Conversation](rows)
}

// List 按更新时间倒序列出会话, 支持标题关键词搜索。
func (s *ConversationStore) List(ctx context.Context, keyword string, limit int) ([]Conversation, error) {
	qb := NewQueryBuilder().KeywordLike(keyword, "title")
	sql, params := qb.Build("SELECT "+convCols+" FROM conversations", "updated_at DESC", limit)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	return collectRows[Conversation](rows)
}

// Rename 更新会话标题。
func (s *ConversationStore) Rename(ctx context.Context, convID, title string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE conversations SET title = $1, updated_at = NOW() WHERE conv_id = $2",
		title, convID)
	return err
}

// Delete 删除会话及其消息 (messages 表外键级联)。
func (s *ConversationStore) Delete(ctx context.Context, convID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM conversations WHERE conv_id = $1", convID)
	return err
}
