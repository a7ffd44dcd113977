// Package protocol 定义编排器事件词汇表与请求/响应契约。
//
// 覆盖两代编排器协议: basic-agent (事件类型内嵌 body) 与
// multi-agent (事件类型走 event 头), 外加最早期的 legacy 扁平包。
package protocol

import "encoding/json"

// Mode 会话协议模式, 会话生命周期内固定。
type Mode string

const (
	// ModeLegacy 最早期单流协议: 无 event 头, payload 为扁平字段包。
	ModeLegacy Mode = "legacy-single-stream"
	// ModeBasicAgent 上一代协议: 事件类型内嵌在 body 的 type 字段。
	ModeBasicAgent Mode = "basic-agent"
	// ModeMultiAgent 当前协议: planner/dispatcher/synthesizer 编排。
	ModeMultiAgent Mode = "multi-agent"
)

// ParseMode 解析模式字符串, 无法识别时回退 multi-agent。
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeLegacy, ModeBasicAgent, ModeMultiAgent:
		return Mode(s)
	}
	return ModeMultiAgent
}

// ========================================
// 事件类型常量
// ========================================

const (
	// 模式无关 (两代协议共用)
	EventDone            = "done"
	EventConvID          = "conv_id"
	EventConversationID  = "conversation_id"
	EventStart           = "start"
	EventAgentProcessing = "agent_processing"
	EventAgentMessage    = "agent_message"

	// multi-agent 协议
	EventAssistantDelta    = "assistant_delta"
	EventHandoff           = "handoff"
	EventToolCall          = "tool_call"
	EventTaskSummary       = "task_summary"
	EventTaskUpdate        = "task_update"
	EventPlannerStatus     = "planner_status"
	EventDispatcherStatus  = "dispatcher_status"
	EventSynthesizerStatus = "synthesizer_status"
	EventApprovalRequired  = "approval_required"
	EventApprovalStatus    = "approval_status"
	EventInterrupted       = "interrupted"
	EventBulkRetry         = "bulk_retry"
	EventSuggestions       = "suggestions"
	EventError             = "error"

	// basic-agent 协议 (老编码, 事件名来自 body 的 type 字段)
	EventDelta      = "delta"
	EventMessage    = "message"
	EventThinking   = "thinking"
	EventStatus     = "status"
	EventToolStart  = "tool_start"
	EventToolResult = "tool_result"
	EventTasks      = "tasks"
)

// ========================================
// 任务/审批状态常量
// ========================================

const (
	TaskPending    = "pending"
	TaskStarted    = "started"
	TaskInProgress = "in_progress"
	TaskRunning    = "running"
	TaskCompleted  = "completed"
	TaskError      = "error"
	// TaskCompletedImplicit 流式增量到达时任务仍为 running, 视为隐式完成。
	// 与 completed 含义有别, 作为独立终态保留。
	TaskCompletedImplicit = "completed_implicit"
)

const (
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// ========================================
// 事件数据类型
// ========================================

// ConvIDData 服务端分配的会话 ID (两代协议字段名不同)。
type ConvIDData struct {
	ConversationID string `json:"conversationId,omitempty"`
	ConvID         string `json:"conv_id,omitempty"`
}

// ID 返回有效的会话 ID (两个字段任一非空)。
func (d ConvIDData) ID() string {
	if d.ConversationID != "" {
		return d.ConversationID
	}
	return d.ConvID
}

// ProcessingData agent 处理中阶段提示。
type ProcessingData struct {
	Agent   string `json:"agent,omitempty"`
	Message string `json:"message,omitempty"`
}

// MessageData 整段消息内容 (一次性, 非增量)。
type MessageData struct {
	Content string `json:"content"`
}

// DeltaData 流式内容增量。
type DeltaData struct {
	Delta   string `json:"delta,omitempty"`
	Content string `json:"content,omitempty"`
}

// Text 返回增量文本 (delta 优先)。
func (d DeltaData) Text() string {
	if d.Delta != "" {
		return d.Delta
	}
	return d.Content
}

// HandoffData agent 间交接公告。
type HandoffData struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// ToolCallData 工具调用状态。
type ToolCallData struct {
	Agent  string `json:"agent,omitempty"`
	Tool   string `json:"tool,omitempty"`
	Status string `json:"status,omitempty"`
}

// TaskData 单个任务条目。
type TaskData struct {
	ID       string `json:"id"`
	Content  string `json:"content,omitempty"`
	Status   string `json:"status,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TaskSummaryData 任务列表快照 (整体替换或按 id 合并)。
type TaskSummaryData struct {
	Tasks          []TaskData `json:"tasks"`
	ConversationID string     `json:"conversation_id,omitempty"`
}

// PlanStepData 计划步骤。
type PlanStepData struct {
	ID      string `json:"id,omitempty"`
	Step    string `json:"step"`
	Status  string `json:"status,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Content string `json:"content,omitempty"`
}

// PhaseStatusData planner/dispatcher/synthesizer 阶段状态。
type PhaseStatusData struct {
	State   string         `json:"state,omitempty"`
	Message string         `json:"message,omitempty"`
	Plan    []PlanStepData `json:"plan,omitempty"`
}

// ApprovalRequiredData 审批门事件。
type ApprovalRequiredData struct {
	ID            string `json:"id,omitempty"`
	OperationType string `json:"operation_type,omitempty"`
	Description   string `json:"description,omitempty"`
	Impact        string `json:"impact,omitempty"`
	Details       string `json:"details,omitempty"`
	RiskLevel     string `json:"risk_level,omitempty"`
}

// ApprovalStatusData 审批结果回执。
type ApprovalStatusData struct {
	Status string `json:"status"`
}

// BulkRetryData 批量重试公告。
type BulkRetryData struct {
	Count   int    `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuggestionsData 后续建议列表。
type SuggestionsData struct {
	Suggestions []string `json:"suggestions"`
}

// ErrorData 后端上报的应用错误 (两代协议字段名不同)。
type ErrorData struct {
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
}

// Text 返回有效错误文本。
func (d ErrorData) Text() string {
	if d.Message != "" {
		return d.Message
	}
	return d.Description
}

// LegacyBag legacy 扁平事件包: 各字段独立生效, done:true 等价 done 事件。
type LegacyBag struct {
	Delta       string          `json:"delta,omitempty"`
	Content     string          `json:"content,omitempty"`
	ToolCall    *ToolCallData   `json:"tool_call,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty"`
	Tasks       []TaskData      `json:"tasks,omitempty"`
	Done        bool            `json:"done,omitempty"`
	ConvID      string          `json:"conv_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// ========================================
// 旧编码信封 (basic-agent: type 内嵌 body)
// ========================================

// Envelope basic-agent 模式下 body 自带的事件信封。
type Envelope struct {
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}
