// Package session 维护流式会话的全部可变状态。
//
// Session 是唯一的状态容器: transcript、流式消息、任务列表、计划、
// 审批门、阶段指示。状态仅由事件路由 (ApplyEvent) 与发送/中断编排器
// 写入; UI 投影通过 Snapshot 只读访问, 允许读到更新中途的部分状态。
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/multi-agent/go-console-v2/internal/protocol"
	"github.com/multi-agent/go-console-v2/pkg/logger"
)

// Session 一个活跃会话。
type Session struct {
	mu sync.RWMutex

	mode           protocol.Mode
	conversationID string

	transcript []Message
	streaming  *Message

	// tasks 保持插入顺序展示, taskIndex 按 id 定位做合并。
	tasks     []Task
	taskIndex map[string]int

	plan            []PlanStep
	pendingApproval *Approval
	phase           PhaseStatus

	// awaitingApproval 置位期间增量事件被忽略, 直至 approval_status。
	awaitingApproval bool

	// artifactConvID 任务计划产物归属的 conv id (来自 task_summary)。
	artifactConvID string

	statusLine  string // 瞬态状态提示 (thinking/status/bulk_retry)
	toolStatus  string // 瞬态工具调用状态
	suggestions []string

	// maxTranscript transcript 上限 (0 表示不限), 超出时丢弃最旧消息。
	maxTranscript int
}

// New 创建指定协议模式的空会话。
func New(mode protocol.Mode) *Session {
	return &Session{
		mode:      mode,
		taskIndex: map[string]int{},
	}
}

// Mode 返回会话协议模式 (生命周期内固定)。
func (s *Session) Mode() protocol.Mode { return s.mode }

// LimitTranscript 设置 transcript 消息数上限 (<=0 不限)。
func (s *Session) LimitTranscript(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxTranscript = n
	s.trimTranscriptLocked()
}

// ConversationID 返回当前会话 ID (服务端分配前为空)。
func (s *Session) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// Reset 显式开启新会话: 清空全部状态, conv id 允许重新分配。
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = ""
	s.transcript = nil
	s.streaming = nil
	s.clearTransientLocked()
}

// ========================================
// 发送生命周期
// ========================================

// StartSend 开始一轮发送: 追加用户消息, 创建新的流式助手消息,
// 清空上一轮的审批/计划/阶段等瞬态状态。
//
// 返回用户消息副本 (持久化用) 与流式助手消息。
func (s *Session) StartSend(text string, att Attachment) (Message, *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearTransientLocked()

	user := Message{
		ID:         uuid.NewString(),
		Role:       RoleUser,
		Content:    text,
		Timestamp:  time.Now(),
		Status:     StatusSending,
		Attachment: att,
		IsComplete: true,
	}
	s.transcript = append(s.transcript, user)
	s.trimTranscriptLocked()

	s.streaming = &Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
	return user, s.streaming
}

// MarkUserSent 将最近一条 sending 用户消息标记为已送达。
func (s *Session) MarkUserSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Role == RoleUser && s.transcript[i].Status == StatusSending {
			s.transcript[i].Status = StatusNone
			return
		}
	}
}

// MarkSendFailed 发送失败: 向流式消息追加合成错误块并完成,
// 保证 transcript 处于一致的终结状态而非悬挂。
func (s *Session) MarkSendFailed(errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Role == RoleUser && s.transcript[i].Status == StatusSending {
			s.transcript[i].Status = StatusFailed
			break
		}
	}
	if s.streaming == nil {
		return
	}
	s.streaming.Content += formatErrorBlock(errText)
	s.streaming.IsStreaming = false
	s.streaming.IsComplete = true
}

// FinalizeStream 将已完成的流式消息移入 transcript (恰好一次)。
//
// 任务计划产物仅在其 conv id 与会话当前 conv id 匹配时随消息归档;
// 来自其他会话的陈旧产物被丢弃。
func (s *Session) FinalizeStream() *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming == nil {
		return nil
	}
	msg := *s.streaming
	msg.IsStreaming = false
	msg.IsComplete = true

	if len(s.tasks) > 0 || len(s.plan) > 0 {
		if s.artifactConvID == "" || s.artifactConvID == s.conversationID {
			msg.TaskPlan = &TaskPlanArtifact{
				ConversationID: s.conversationID,
				Tasks:          cloneTasks(s.tasks),
				Plan:           clonePlan(s.plan),
			}
		} else {
			logger.Warn("session: stale task-plan artifact dropped",
				logger.FieldConvID, s.conversationID,
				"artifact_conv_id", s.artifactConvID,
			)
		}
	}

	s.transcript = append(s.transcript, msg)
	s.trimTranscriptLocked()
	s.streaming = nil
	return &msg
}

// ClearForInterrupt 中断的乐观清理: 清空流式消息与任务状态。
// 客户端视角会话已停止, 不等待后端回执。
func (s *Session) ClearForInterrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = nil
	s.tasks = nil
	s.taskIndex = map[string]int{}
	s.pendingApproval = nil
	s.awaitingApproval = false
	s.statusLine = ""
	s.toolStatus = ""
}

// AppendInjected 将注入消息追加进 transcript (status=injected)。
func (s *Session) AppendInjected(text string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := Message{
		ID:         uuid.NewString(),
		Role:       RoleUser,
		Content:    text,
		Timestamp:  time.Now(),
		Status:     StatusInjected,
		IsComplete: true,
	}
	s.transcript = append(s.transcript, msg)
	s.trimTranscriptLocked()
	return &msg
}

// StreamActive 返回是否存在进行中的流式消息 (inject 前置条件)。
func (s *Session) StreamActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming != nil && s.streaming.IsStreaming && !s.streaming.IsComplete
}

// PendingApproval 返回当前审批门 (无则 nil)。
func (s *Session) PendingApproval() *Approval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pendingApproval == nil {
		return nil
	}
	cp := *s.pendingApproval
	return &cp
}

// ========================================
// 历史回灌
// ========================================

// HistoryRecord 持久化层的紧凑消息记录。
type HistoryRecord struct {
	ID        int64
	Role      string
	Content   string
	Status    string
	CreatedAt time.Time
}

// HydrateTranscript 从持久化记录重建 transcript。
//
// 流进行中跳过回灌, 避免清掉已累积的增量; 返回是否执行。
func (s *Session) HydrateTranscript(convID string, records []HistoryRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming != nil && s.streaming.Content != "" {
		return false
	}

	s.conversationID = convID
	s.transcript = make([]Message, 0, len(records))
	for _, rec := range records {
		role := Role(rec.Role)
		switch role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			role = RoleSystem
		}
		ts := rec.CreatedAt
		if ts.IsZero() {
			ts = time.Now()
		}
		s.transcript = append(s.transcript, Message{
			ID:         uuid.NewString(),
			Role:       role,
			Content:    rec.Content,
			Timestamp:  ts,
			Status:     MessageStatus(rec.Status),
			IsComplete: true,
		})
	}
	s.trimTranscriptLocked()
	return true
}

// ========================================
// 快照
// ========================================

// Snapshot 返回深拷贝的状态快照。
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ConversationID: s.conversationID,
		Mode:           s.mode,
		Transcript:     make([]Message, len(s.transcript)),
		Tasks:          cloneTasks(s.tasks),
		Plan:           clonePlan(s.plan),
		Phase:          s.phase,
		StatusLine:     s.statusLine,
		ToolStatus:     s.toolStatus,
		Suggestions:    append([]string(nil), s.suggestions...),
	}
	copy(snap.Transcript, s.transcript)
	if s.streaming != nil {
		cp := *s.streaming
		snap.StreamingMessage = &cp
	}
	if s.pendingApproval != nil {
		cp := *s.pendingApproval
		snap.PendingApproval = &cp
	}
	return snap
}

// ========================================
// 内部辅助
// ========================================

// clearTransientLocked 清空一轮发送前的瞬态状态。调用方持锁。
func (s *Session) clearTransientLocked() {
	s.tasks = nil
	s.taskIndex = map[string]int{}
	s.plan = nil
	s.pendingApproval = nil
	s.awaitingApproval = false
	s.phase = PhaseStatus{}
	s.artifactConvID = ""
	s.statusLine = ""
	s.toolStatus = ""
	s.suggestions = nil
}

// trimTranscriptLocked 超出上限时丢弃最旧消息。调用方持锁。
func (s *Session) trimTranscriptLocked() {
	if s.maxTranscript <= 0 || len(s.transcript) <= s.maxTranscript {
		return
	}
	excess := len(s.transcript) - s.maxTranscript
	s.transcript = append(s.transcript[:0], s.transcript[excess:]...)
}

func cloneTasks(in []Task) []Task {
	if len(in) == 0 {
		return []Task{}
	}
	out := make([]Task, len(in))
	copy(out, in)
	return out
}

func clonePlan(in []PlanStep) []PlanStep {
	if len(in) == 0 {
		return nil
	}
	out := make([]PlanStep, len(in))
	copy(out, in)
	return out
}

func formatErrorBlock(text string) string {
	if text == "" {
		text = "未知错误"
	}
	return "\n\n⚠️ 出错了: " + text
}
