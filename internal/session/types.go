package session

import (
	"time"

	"github.com/multi-agent/go-console-v2/internal/protocol"
)

// Role 消息角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus 消息投递状态。
type MessageStatus string

const (
	StatusNone     MessageStatus = ""
	StatusSending  MessageStatus = "sending"
	StatusInjected MessageStatus = "injected"
	StatusFailed   MessageStatus = "failed"
)

// Attachment 图片/文件附件引用 (编码细节由上层负责)。
type Attachment struct {
	Image string `json:"image,omitempty"`
	File  string `json:"file,omitempty"`
}

// Empty 返回附件是否为空。
func (a Attachment) Empty() bool { return a.Image == "" && a.File == "" }

// Message 会话消息。
//
// IsStreaming 与 IsComplete 互斥终态: IsComplete 置位后消息冻结并移入 transcript。
type Message struct {
	ID         string        `json:"id"`
	Role       Role          `json:"role"`
	Content    string        `json:"content"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     MessageStatus `json:"status,omitempty"`
	Attachment Attachment    `json:"attachment,omitempty"`

	IsStreaming bool `json:"isStreaming,omitempty"`
	IsComplete  bool `json:"isComplete,omitempty"`

	// TaskPlan 随终稿消息归档的任务计划产物 (conv id 匹配时才携带)。
	TaskPlan *TaskPlanArtifact `json:"taskPlan,omitempty"`
}

// Task 编排器上报的进行中工作单元。
type Task struct {
	ID       string `json:"id"`
	Content  string `json:"content,omitempty"`
	Status   string `json:"status,omitempty"`
	ToolName string `json:"toolName,omitempty"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Terminal 返回任务是否处于终态。
func (t Task) Terminal() bool {
	switch t.Status {
	case protocol.TaskCompleted, protocol.TaskError, protocol.TaskCompletedImplicit:
		return true
	}
	return false
}

// PlanStep planner 公告的计划步骤。
type PlanStep struct {
	ID     string `json:"id,omitempty"`
	Step   string `json:"step"`
	Status string `json:"status,omitempty"`
	Tool   string `json:"tool,omitempty"`
}

// Approval 待处理审批门。
//
// 由 approval_required 事件创建, 仅在后端回执 approval_status 后清除,
// 绝不乐观清除。
type Approval struct {
	ID            string `json:"id"`
	OperationType string `json:"operationType,omitempty"`
	Description   string `json:"description,omitempty"`
	Impact        string `json:"impact,omitempty"`
	Details       string `json:"details,omitempty"`
	RiskLevel     string `json:"riskLevel,omitempty"`
}

// PhaseStatus 三路独立阶段指示 (自由文本)。
type PhaseStatus struct {
	Planner     string `json:"planner,omitempty"`
	Dispatcher  string `json:"dispatcher,omitempty"`
	Synthesizer string `json:"synthesizer,omitempty"`
}

// TaskPlanArtifact 任务计划产物, 以 conv id 标记归属会话。
//
// finalize 时 conv id 不匹配的陈旧产物必须丢弃。
type TaskPlanArtifact struct {
	ConversationID string     `json:"conversationId,omitempty"`
	Tasks          []Task     `json:"tasks,omitempty"`
	Plan           []PlanStep `json:"plan,omitempty"`
}

// Snapshot 供 UI 投影的只读状态快照 (深拷贝)。
type Snapshot struct {
	ConversationID   string        `json:"conversationId,omitempty"`
	Mode             protocol.Mode `json:"mode"`
	Transcript       []Message     `json:"transcript"`
	StreamingMessage *Message      `json:"streamingMessage,omitempty"`
	Tasks            []Task        `json:"tasks"`
	Plan             []PlanStep    `json:"plan,omitempty"`
	PendingApproval  *Approval     `json:"pendingApproval,omitempty"`
	Phase            PhaseStatus   `json:"phase"`
	StatusLine       string        `json:"statusLine,omitempty"`
	ToolStatus       string        `json:"toolStatus,omitempty"`
	Suggestions      []string      `json:"suggestions,omitempty"`
}

// Outcome ApplyEvent 的路由结果。
type Outcome struct {
	// Terminal 本轮流结束, 读取循环应停止。
	Terminal bool
	// CancelReader 需要尽力取消传输读取器 (done 事件语义)。
	CancelReader bool
	// Handled 事件被识别并处理 (false = 未知事件, 已记日志忽略)。
	Handled bool
}
