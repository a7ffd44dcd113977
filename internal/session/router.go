// router.go — 事件路由: 公共表 + 按协议模式的处理器表 + legacy 回退。
package session

import (
	"encoding/json"

	"github.com/multi-agent/go-console-v2/internal/protocol"
	"github.com/multi-agent/go-console-v2/pkg/logger"
)

// eventHandler 处理一个已解码事件。调用方 (ApplyEvent) 持写锁。
type eventHandler func(s *Session, data json.RawMessage) Outcome

// commonHandlers 模式无关事件, 任何模式下先查本表。
var commonHandlers = map[string]eventHandler{
	protocol.EventDone:            handleDone,
	protocol.EventConvID:          handleConvID,
	protocol.EventConversationID:  handleConvID,
	protocol.EventStart:           handleStart,
	protocol.EventAgentProcessing: handleAgentProcessing,
	protocol.EventAgentMessage:    handleAgentMessage,
}

// multiAgentHandlers 当前协议 (planner/dispatcher/synthesizer)。
var multiAgentHandlers = map[string]eventHandler{
	protocol.EventAssistantDelta:    handleDelta,
	protocol.EventHandoff:           handleHandoff,
	protocol.EventToolCall:          handleToolCall,
	protocol.EventTaskSummary:       handleTaskSummary,
	protocol.EventTaskUpdate:        handleTaskUpdate,
	protocol.EventPlannerStatus:     handlePlannerStatus,
	protocol.EventDispatcherStatus:  handleDispatcherStatus,
	protocol.EventSynthesizerStatus: handleSynthesizerStatus,
	protocol.EventApprovalRequired:  handleApprovalRequired,
	protocol.EventApprovalStatus:    handleApprovalStatus,
	protocol.EventInterrupted:       handleInterrupted,
	protocol.EventBulkRetry:         handleBulkRetry,
	protocol.EventSuggestions:       handleSuggestions,
	protocol.EventError:             handleError,
}

// basicAgentHandlers 上一代协议 (事件类型内嵌 body)。
var basicAgentHandlers = map[string]eventHandler{
	protocol.EventDelta:      handleDelta,
	protocol.EventMessage:    handleAgentMessage,
	protocol.EventThinking:   handleStatusLine,
	protocol.EventStatus:     handleStatusLine,
	protocol.EventToolStart:  handleToolCall,
	protocol.EventToolResult: handleToolCall,
	protocol.EventTasks:      handleTaskSummary,
	protocol.EventError:      handleError,
}

// ApplyEvent 应用一个已解析帧到会话状态。
//
// 分发顺序: basic-agent 的 body type 回退 → 公共表 → 模式表 →
// legacy 扁平包回退。未知事件记日志忽略 (Handled=false), 不报错。
func (s *Session) ApplyEvent(event string, data json.RawMessage) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 旧编码: 无 event 头时从 body 的 type 字段推断。
	// 仅 basic-agent 模式启用, multi-agent 路径无此回退。
	if event == "" && s.mode == protocol.ModeBasicAgent {
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err == nil && env.Type != "" {
			event = env.Type
			if len(env.Data) > 0 {
				data = env.Data
			} else {
				data = json.RawMessage("{}")
			}
		}
	}

	if h, ok := commonHandlers[event]; ok {
		return h(s, data)
	}

	switch s.mode {
	case protocol.ModeMultiAgent:
		if h, ok := multiAgentHandlers[event]; ok {
			return h(s, data)
		}
	case protocol.ModeBasicAgent:
		if h, ok := basicAgentHandlers[event]; ok {
			return h(s, data)
		}
	}

	// 无 event 名 (或 legacy 模式全部帧) 走扁平包回退。
	if event == "" || s.mode == protocol.ModeLegacy {
		return s.applyLegacyBagLocked(data)
	}

	logger.Debug("session: unknown event ignored",
		logger.FieldEvent, event,
		logger.FieldMode, string(s.mode),
	)
	return Outcome{}
}

// ========================================
// 公共事件
// ========================================

func handleDone(s *Session, _ json.RawMessage) Outcome {
	s.freezeStreamingLocked()
	return Outcome{Terminal: true, CancelReader: true, Handled: true}
}

func handleConvID(s *Session, data json.RawMessage) Outcome {
	var d protocol.ConvIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventConvID, err)
	}
	s.adoptConvIDLocked(d.ID())
	return Outcome{Handled: true}
}

func handleStart(s *Session, _ json.RawMessage) Outcome {
	// 瞬态提示无条件清空, 即使本轮尚无流式消息。
	s.statusLine = ""
	s.toolStatus = ""
	// 重入流式态但不丢弃已累积内容。
	if s.streaming == nil {
		return Outcome{Handled: true}
	}
	s.streaming.IsStreaming = true
	s.streaming.IsComplete = false
	return Outcome{Handled: true}
}

func handleAgentProcessing(s *Session, data json.RawMessage) Outcome {
	var d protocol.ProcessingData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventAgentProcessing, err)
	}
	label := d.Message
	if label == "" && d.Agent != "" {
		label = d.Agent + " 处理中"
	}
	s.statusLine = label
	// 错过 start 时在此补上流式标记。
	if s.streaming != nil && !s.streaming.IsComplete {
		s.streaming.IsStreaming = true
	}
	return Outcome{Handled: true}
}

func handleAgentMessage(s *Session, data json.RawMessage) Outcome {
	var d protocol.MessageData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventAgentMessage, err)
	}
	if s.streaming == nil {
		return Outcome{Handled: true}
	}
	// 一次性全量消息: 整体替换而非追加。
	s.streaming.Content = d.Content
	s.streaming.IsStreaming = false
	s.streaming.IsComplete = true
	return Outcome{Handled: true}
}

// ========================================
// 内容增量与标记
// ========================================

func handleDelta(s *Session, data json.RawMessage) Outcome {
	// 审批门挂起期间不消费增量。
	if s.awaitingApproval {
		return Outcome{Handled: true}
	}
	var d protocol.DeltaData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventAssistantDelta, err)
	}
	if s.streaming != nil && !s.streaming.IsComplete {
		s.streaming.Content += d.Text()
		s.streaming.IsStreaming = true
	}
	s.implicitCompleteRunningLocked()
	return Outcome{Handled: true}
}

func handleHandoff(s *Session, data json.RawMessage) Outcome {
	var d protocol.HandoffData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventHandoff, err)
	}
	if s.streaming != nil && !s.streaming.IsComplete {
		s.streaming.Content += "\n\n[交接: " + d.From + " -> " + d.To + "]\n\n"
	}
	return Outcome{Handled: true}
}

func handleToolCall(s *Session, data json.RawMessage) Outcome {
	var d protocol.ToolCallData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventToolCall, err)
	}
	label := d.Tool
	if d.Status != "" {
		label = d.Tool + " (" + d.Status + ")"
	}
	s.toolStatus = label
	return Outcome{Handled: true}
}

func handleStatusLine(s *Session, data json.RawMessage) Outcome {
	var d struct {
		Message string `json:"message,omitempty"`
		Content string `json:"content,omitempty"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventStatus, err)
	}
	if d.Message != "" {
		s.statusLine = d.Message
	} else {
		s.statusLine = d.Content
	}
	return Outcome{Handled: true}
}

// ========================================
// 任务与计划
// ========================================

func handleTaskSummary(s *Session, data json.RawMessage) Outcome {
	var d protocol.TaskSummaryData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventTaskSummary, err)
	}
	if d.ConversationID != "" {
		s.artifactConvID = d.ConversationID
	}
	s.mergeTasksLocked(d.Tasks)
	return Outcome{Handled: true}
}

func handleTaskUpdate(s *Session, data json.RawMessage) Outcome {
	var d protocol.TaskData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventTaskUpdate, err)
	}
	s.mergeTasksLocked([]protocol.TaskData{d})
	return Outcome{Handled: true}
}

func handlePlannerStatus(s *Session, data json.RawMessage) Outcome {
	var d protocol.PhaseStatusData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventPlannerStatus, err)
	}
	s.phase.Planner = phaseLabel(d)
	if len(d.Plan) > 0 {
		s.plan = s.plan[:0]
		for _, step := range d.Plan {
			s.plan = append(s.plan, PlanStep{
				ID:     step.ID,
				Step:   stepLabel(step),
				Status: step.Status,
				Tool:   step.Tool,
			})
		}
	}
	// 计划定稿后以计划步骤播种任务列表。
	if d.State == protocol.TaskCompleted && len(s.plan) > 0 {
		s.seedTasksFromPlanLocked()
	}
	return Outcome{Handled: true}
}

func handleDispatcherStatus(s *Session, data json.RawMessage) Outcome {
	var d protocol.PhaseStatusData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventDispatcherStatus, err)
	}
	s.phase.Dispatcher = phaseLabel(d)
	return Outcome{Handled: true}
}

func handleSynthesizerStatus(s *Session, data json.RawMessage) Outcome {
	var d protocol.PhaseStatusData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventSynthesizerStatus, err)
	}
	s.phase.Synthesizer = phaseLabel(d)
	return Outcome{Handled: true}
}

// ========================================
// 审批门与中止
// ========================================

func handleApprovalRequired(s *Session, data json.RawMessage) Outcome {
	var d protocol.ApprovalRequiredData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventApprovalRequired, err)
	}
	s.pendingApproval = &Approval{
		ID:            d.ID,
		OperationType: d.OperationType,
		Description:   d.Description,
		Impact:        d.Impact,
		Details:       d.Details,
		RiskLevel:     d.RiskLevel,
	}
	s.awaitingApproval = true
	// 挂起而非终结: 流保持打开, 仅停止消费增量。
	if s.streaming != nil {
		s.streaming.IsStreaming = false
	}
	logger.Info("session: approval gate raised",
		logger.FieldApprovalID, d.ID,
		logger.FieldConvID, s.conversationID,
	)
	return Outcome{Handled: true}
}

func handleApprovalStatus(s *Session, data json.RawMessage) Outcome {
	var d protocol.ApprovalStatusData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventApprovalStatus, err)
	}
	s.pendingApproval = nil
	s.awaitingApproval = false
	if d.Status == protocol.ApprovalApproved {
		if s.streaming != nil && !s.streaming.IsComplete {
			s.streaming.IsStreaming = true
		}
		return Outcome{Handled: true}
	}
	// 拒绝即本轮结束。
	s.freezeStreamingLocked()
	return Outcome{Terminal: true, Handled: true}
}

func handleInterrupted(s *Session, _ json.RawMessage) Outcome {
	s.freezeStreamingLocked()
	return Outcome{Terminal: true, CancelReader: true, Handled: true}
}

func handleBulkRetry(s *Session, data json.RawMessage) Outcome {
	var d protocol.BulkRetryData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventBulkRetry, err)
	}
	if d.Message != "" {
		s.statusLine = d.Message
	} else {
		s.statusLine = "批量重试中"
	}
	return Outcome{Handled: true}
}

func handleSuggestions(s *Session, data json.RawMessage) Outcome {
	var d protocol.SuggestionsData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventSuggestions, err)
	}
	s.suggestions = d.Suggestions
	return Outcome{Handled: true}
}

func handleError(s *Session, data json.RawMessage) Outcome {
	var d protocol.ErrorData
	if err := json.Unmarshal(data, &d); err != nil {
		return logDecodeError(s, protocol.EventError, err)
	}
	if s.streaming != nil {
		s.streaming.Content += formatErrorBlock(d.Text())
		s.streaming.IsStreaming = false
		s.streaming.IsComplete = true
	}
	logger.Warn("session: backend error event",
		logger.FieldConvID, s.conversationID,
		logger.FieldError, d.Text(),
	)
	return Outcome{Terminal: true, Handled: true}
}

// ========================================
// legacy 扁平包
// ========================================

// applyLegacyBagLocked 逐字段独立生效; done:true 等价 done 事件。
func (s *Session) applyLegacyBagLocked(data json.RawMessage) Outcome {
	var bag protocol.LegacyBag
	if err := json.Unmarshal(data, &bag); err != nil {
		return logDecodeError(s, "legacy_bag", err)
	}

	out := Outcome{Handled: true}

	if bag.ConvID != "" {
		s.adoptConvIDLocked(bag.ConvID)
	}
	if text := bag.Delta + bag.Content; text != "" && !s.awaitingApproval {
		if s.streaming != nil && !s.streaming.IsComplete {
			s.streaming.Content += text
			s.streaming.IsStreaming = true
		}
		s.implicitCompleteRunningLocked()
	}
	if bag.ToolCall != nil {
		label := bag.ToolCall.Tool
		if bag.ToolCall.Status != "" {
			label = bag.ToolCall.Tool + " (" + bag.ToolCall.Status + ")"
		}
		s.toolStatus = label
	}
	if len(bag.Suggestions) > 0 {
		s.suggestions = bag.Suggestions
	}
	if len(bag.Tasks) > 0 {
		s.mergeTasksLocked(bag.Tasks)
	}
	if bag.Error != "" {
		if s.streaming != nil {
			s.streaming.Content += formatErrorBlock(bag.Error)
			s.streaming.IsStreaming = false
			s.streaming.IsComplete = true
		}
		out.Terminal = true
	}
	if bag.Done {
		s.freezeStreamingLocked()
		out.Terminal = true
		out.CancelReader = true
	}
	return out
}

// ========================================
// 路由辅助
// ========================================

// adoptConvIDLocked first-writer-wins: 已有不同 id 时忽略。
func (s *Session) adoptConvIDLocked(id string) {
	if id == "" {
		return
	}
	if s.conversationID != "" && s.conversationID != id {
		logger.Warn("session: conflicting conv id ignored",
			logger.FieldConvID, s.conversationID,
			"incoming_conv_id", id,
		)
		return
	}
	s.conversationID = id
}

// freezeStreamingLocked 冻结流式消息 (终结事件语义)。
func (s *Session) freezeStreamingLocked() {
	if s.streaming == nil {
		return
	}
	s.streaming.IsStreaming = false
	s.streaming.IsComplete = true
}

func phaseLabel(d protocol.PhaseStatusData) string {
	if d.Message != "" {
		return d.Message
	}
	return d.State
}

func stepLabel(d protocol.PlanStepData) string {
	if d.Step != "" {
		return d.Step
	}
	return d.Content
}

func logDecodeError(s *Session, event string, err error) Outcome {
	logger.Warn("session: event payload decode failed",
		logger.FieldEvent, event,
		logger.FieldMode, string(s.mode),
		logger.FieldError, err.Error(),
	)
	// 协议级单帧错误: 丢帧继续, 不终结。
	return Outcome{Handled: true}
}
