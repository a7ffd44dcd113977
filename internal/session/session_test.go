package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/multi-agent/go-console-v2/internal/protocol"
)

func apply(t *testing.T, s *Session, event, data string) Outcome {
	t.Helper()
	if data == "" {
		data = "{}"
	}
	return s.ApplyEvent(event, json.RawMessage(data))
}

func TestDeltaAccumulation(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("你好", Attachment{})

	apply(t, s, protocol.EventStart, "")
	apply(t, s, protocol.EventAssistantDelta, `{"delta":"Hi"}`)
	apply(t, s, protocol.EventAssistantDelta, `{"delta":" there"}`)
	out := apply(t, s, protocol.EventDone, "")

	if !out.Terminal || !out.CancelReader {
		t.Fatalf("done outcome = %+v, want Terminal+CancelReader", out)
	}
	msg := s.FinalizeStream()
	if msg == nil {
		t.Fatal("FinalizeStream returned nil")
	}
	if msg.Content != "Hi there" {
		t.Fatalf("content = %q, want %q", msg.Content, "Hi there")
	}
	if !msg.IsComplete || msg.IsStreaming {
		t.Fatalf("flags = streaming:%v complete:%v, want complete", msg.IsStreaming, msg.IsComplete)
	}
}

func TestTaskMergeIdempotent(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})

	summary := `{"tasks":[{"id":"t1","status":"pending","content":"查询库存"}]}`
	apply(t, s, protocol.EventTaskSummary, summary)
	apply(t, s, protocol.EventTaskSummary, summary)

	snap := s.Snapshot()
	if len(snap.Tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(snap.Tasks))
	}

	update := `{"tasks":[{"id":"t1","status":"completed"}]}`
	apply(t, s, protocol.EventTaskSummary, update)
	apply(t, s, protocol.EventTaskSummary, update)

	snap = s.Snapshot()
	if len(snap.Tasks) != 1 || snap.Tasks[0].Status != protocol.TaskCompleted {
		t.Fatalf("tasks = %+v, want one completed t1", snap.Tasks)
	}
	if snap.Tasks[0].Content != "查询库存" {
		t.Fatalf("content = %q, want preserved", snap.Tasks[0].Content)
	}
}

func TestUnknownTaskIDCreatesOnlyWhenFresh(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})

	// completed 状态的未知 id 不得复活。
	apply(t, s, protocol.EventTaskSummary, `{"tasks":[{"id":"ghost","status":"completed"}]}`)
	if n := len(s.Snapshot().Tasks); n != 0 {
		t.Fatalf("tasks = %d, want 0 (no resurrection)", n)
	}

	apply(t, s, protocol.EventTaskSummary, `{"tasks":[{"id":"t1","status":"started"}]}`)
	if n := len(s.Snapshot().Tasks); n != 1 {
		t.Fatalf("tasks = %d, want 1", n)
	}
}

func TestAtMostOneStreamingMessage(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	_, first := s.StartSend("one", Attachment{})
	_, second := s.StartSend("two", Attachment{})

	if first.ID == second.ID {
		t.Fatal("expected a fresh streaming message per send")
	}
	snap := s.Snapshot()
	if snap.StreamingMessage == nil {
		t.Fatal("streaming message missing")
	}
	if snap.StreamingMessage.ID != second.ID {
		t.Fatalf("streaming id = %q, want latest %q", snap.StreamingMessage.ID, second.ID)
	}
	count := 0
	for _, m := range snap.Transcript {
		if m.IsStreaming {
			count++
		}
	}
	if count != 0 {
		t.Fatalf("transcript streaming messages = %d, want 0", count)
	}
}

func TestFinalizeExactlyOnce(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventAssistantDelta, `{"delta":"ok"}`)
	apply(t, s, protocol.EventDone, "")

	if msg := s.FinalizeStream(); msg == nil {
		t.Fatal("first finalize returned nil")
	}
	if msg := s.FinalizeStream(); msg != nil {
		t.Fatalf("second finalize = %+v, want nil", msg)
	}

	snap := s.Snapshot()
	if snap.StreamingMessage != nil {
		t.Fatal("streaming message not cleared")
	}
	seen := 0
	for _, m := range snap.Transcript {
		if m.Role == RoleAssistant && m.Content == "ok" {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("assistant message appears %d times, want 1", seen)
	}
}

func TestStaleArtifactRejected(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventConvID, `{"conversationId":"conv-B"}`)
	apply(t, s, protocol.EventTaskSummary,
		`{"conversation_id":"conv-A","tasks":[{"id":"t1","status":"pending"}]}`)
	apply(t, s, protocol.EventDone, "")

	msg := s.FinalizeStream()
	if msg == nil {
		t.Fatal("FinalizeStream returned nil")
	}
	if msg.TaskPlan != nil {
		t.Fatalf("TaskPlan = %+v, want nil (stale conv id)", msg.TaskPlan)
	}
}

func TestMatchingArtifactAttached(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventConvID, `{"conversationId":"conv-A"}`)
	apply(t, s, protocol.EventTaskSummary,
		`{"conversation_id":"conv-A","tasks":[{"id":"t1","status":"pending"}]}`)
	apply(t, s, protocol.EventDone, "")

	msg := s.FinalizeStream()
	if msg == nil || msg.TaskPlan == nil {
		t.Fatal("expected task-plan artifact on finalized message")
	}
	if msg.TaskPlan.ConversationID != "conv-A" || len(msg.TaskPlan.Tasks) != 1 {
		t.Fatalf("artifact = %+v", msg.TaskPlan)
	}
}

func TestConvIDFirstWriterWins(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})

	apply(t, s, protocol.EventConvID, `{"conversationId":"conv-1"}`)
	apply(t, s, protocol.EventConversationID, `{"conv_id":"conv-2"}`)

	if got := s.ConversationID(); got != "conv-1" {
		t.Fatalf("conv id = %q, want conv-1", got)
	}

	s.Reset()
	apply(t, s, protocol.EventConversationID, `{"conv_id":"conv-3"}`)
	if got := s.ConversationID(); got != "conv-3" {
		t.Fatalf("conv id after reset = %q, want conv-3", got)
	}
}

func TestApprovalGatePausesAndResumes(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventAssistantDelta, `{"delta":"before"}`)

	out := apply(t, s, protocol.EventApprovalRequired,
		`{"id":"ap-1","operation_type":"refund","risk_level":"high"}`)
	if out.Terminal {
		t.Fatal("approval gate must not terminate the stream")
	}

	snap := s.Snapshot()
	if snap.PendingApproval == nil || snap.PendingApproval.ID != "ap-1" {
		t.Fatalf("pendingApproval = %+v, want ap-1", snap.PendingApproval)
	}
	if snap.StreamingMessage.IsStreaming {
		t.Fatal("streaming flag should pause while awaiting approval")
	}

	// 挂起期间的增量被忽略。
	apply(t, s, protocol.EventAssistantDelta, `{"delta":"IGNORED"}`)
	if got := s.Snapshot().StreamingMessage.Content; got != "before" {
		t.Fatalf("content while gated = %q, want %q", got, "before")
	}

	out = apply(t, s, protocol.EventApprovalStatus, `{"status":"approved"}`)
	if out.Terminal {
		t.Fatal("approved must resume, not terminate")
	}
	apply(t, s, protocol.EventAssistantDelta, `{"delta":" after"}`)

	snap = s.Snapshot()
	if snap.PendingApproval != nil {
		t.Fatal("approval not cleared after acknowledgement")
	}
	if got := snap.StreamingMessage.Content; got != "before after" {
		t.Fatalf("content = %q, want %q", got, "before after")
	}
}

func TestApprovalRejectedTerminates(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventApprovalRequired, `{"id":"ap-1"}`)

	out := apply(t, s, protocol.EventApprovalStatus, `{"status":"rejected"}`)
	if !out.Terminal {
		t.Fatal("rejected approval should end the turn")
	}
	if s.Snapshot().PendingApproval != nil {
		t.Fatal("approval not cleared")
	}
}

func TestDeltaFlipsRunningToImplicitComplete(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventTaskSummary, `{"tasks":[{"id":"t1","status":"pending"}]}`)
	apply(t, s, protocol.EventTaskSummary, `{"tasks":[{"id":"t1","status":"running"}]}`)

	apply(t, s, protocol.EventAssistantDelta, `{"delta":"text"}`)

	snap := s.Snapshot()
	if snap.Tasks[0].Status != protocol.TaskCompletedImplicit {
		t.Fatalf("status = %q, want completed_implicit", snap.Tasks[0].Status)
	}
	if !snap.Tasks[0].Terminal() {
		t.Fatal("completed_implicit must be terminal")
	}
}

func TestPlannerCompletedSeedsTasks(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})

	apply(t, s, protocol.EventPlannerStatus,
		`{"state":"completed","plan":[{"step":"查订单"},{"id":"p2","step":"退款","tool":"refund"}]}`)

	snap := s.Snapshot()
	if len(snap.Plan) != 2 {
		t.Fatalf("plan = %d steps, want 2", len(snap.Plan))
	}
	if len(snap.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2 seeded from plan", len(snap.Tasks))
	}
	if snap.Tasks[1].ID != "p2" || snap.Tasks[1].ToolName != "refund" {
		t.Fatalf("seeded task = %+v", snap.Tasks[1])
	}
	if snap.Tasks[0].Status != protocol.TaskPending {
		t.Fatalf("seeded status = %q, want pending", snap.Tasks[0].Status)
	}
}

func TestAgentMessageReplacesWholesale(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventAssistantDelta, `{"delta":"partial"}`)

	apply(t, s, protocol.EventAgentMessage, `{"content":"整段回复"}`)

	snap := s.Snapshot()
	if snap.StreamingMessage.Content != "整段回复" {
		t.Fatalf("content = %q, want wholesale replacement", snap.StreamingMessage.Content)
	}
	if !snap.StreamingMessage.IsComplete {
		t.Fatal("agent_message should mark complete")
	}
}

func TestStartPreservesAccumulatedContent(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventAssistantDelta, `{"delta":"keep"}`)
	apply(t, s, protocol.EventApprovalRequired, `{"id":"ap"}`)
	apply(t, s, protocol.EventApprovalStatus, `{"status":"approved"}`)
	apply(t, s, protocol.EventStart, "")

	snap := s.Snapshot()
	if snap.StreamingMessage.Content != "keep" {
		t.Fatalf("content = %q, want preserved", snap.StreamingMessage.Content)
	}
	if !snap.StreamingMessage.IsStreaming {
		t.Fatal("start should re-enter streaming state")
	}
}

func TestErrorEventAppendsBlockAndTerminates(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventAssistantDelta, `{"delta":"partial"}`)

	out := apply(t, s, protocol.EventError, `{"message":"后端超时"}`)
	if !out.Terminal {
		t.Fatal("error event should terminate the turn")
	}
	snap := s.Snapshot()
	if snap.StreamingMessage == nil || !snap.StreamingMessage.IsComplete {
		t.Fatal("streaming message should be completed")
	}
	content := snap.StreamingMessage.Content
	if content == "partial" {
		t.Fatal("error block not appended")
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	before := s.Snapshot()

	out := apply(t, s, "telemetry_ping", `{"x":1}`)
	if out.Handled || out.Terminal {
		t.Fatalf("outcome = %+v, want unhandled non-terminal", out)
	}
	after := s.Snapshot()
	if after.StreamingMessage.Content != before.StreamingMessage.Content {
		t.Fatal("unknown event must not mutate state")
	}
}

func TestBasicAgentTypeFallback(t *testing.T) {
	s := New(protocol.ModeBasicAgent)
	s.StartSend("msg", Attachment{})

	// 无 event 头, 事件名内嵌 body 的 type 字段。
	out := apply(t, s, "", `{"type":"delta","data":{"delta":"嵌入"}}`)
	if !out.Handled {
		t.Fatal("type fallback should dispatch in basic-agent mode")
	}
	if got := s.Snapshot().StreamingMessage.Content; got != "嵌入" {
		t.Fatalf("content = %q, want 嵌入", got)
	}

	out = apply(t, s, "", `{"type":"done"}`)
	if !out.Terminal {
		t.Fatal("embedded done should terminate")
	}
}

func TestMultiAgentNoTypeFallback(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})

	// multi-agent 模式下同样的帧走 legacy 包回退, 不看 type 字段。
	apply(t, s, "", `{"type":"delta","data":{"delta":"X"}}`)
	if got := s.Snapshot().StreamingMessage.Content; got != "" {
		t.Fatalf("content = %q, want empty (no fallback)", got)
	}
}

func TestLegacyFlatBag(t *testing.T) {
	s := New(protocol.ModeLegacy)
	s.StartSend("msg", Attachment{})

	apply(t, s, "", `{"conv_id":"legacy-1","delta":"旧协议","tasks":[{"id":"t1","status":"pending"}]}`)
	out := apply(t, s, "", `{"delta":"内容","done":true}`)

	if !out.Terminal || !out.CancelReader {
		t.Fatalf("done:true outcome = %+v, want terminal", out)
	}
	if got := s.ConversationID(); got != "legacy-1" {
		t.Fatalf("conv id = %q", got)
	}
	msg := s.FinalizeStream()
	if msg.Content != "旧协议内容" {
		t.Fatalf("content = %q, want 旧协议内容", msg.Content)
	}
}

func TestInterruptClearsState(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventTaskSummary, `{"tasks":[{"id":"t1","status":"pending"}]}`)
	apply(t, s, protocol.EventAssistantDelta, `{"delta":"half"}`)

	s.ClearForInterrupt()

	snap := s.Snapshot()
	if snap.StreamingMessage != nil {
		t.Fatal("streaming message not cleared")
	}
	if len(snap.Tasks) != 0 {
		t.Fatalf("tasks = %d, want 0", len(snap.Tasks))
	}
}

// 审批门挂起时中断: 门随之撤销, 后续 Approve 必须失败而非发给后端。
func TestInterruptClearsApprovalGate(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventApprovalRequired, `{"id":"ap-1","description":"批量改价"}`)
	if s.PendingApproval() == nil {
		t.Fatal("approval gate not raised")
	}

	s.ClearForInterrupt()

	if s.PendingApproval() != nil {
		t.Fatal("pending approval survived interrupt")
	}
	if s.Snapshot().PendingApproval != nil {
		t.Fatal("snapshot still carries approval after interrupt")
	}
}

// start 在尚无流式消息时到达 (如中断后的残留帧): 瞬态提示仍须清空。
func TestStartClearsStatusWithoutStreaming(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	apply(t, s, protocol.EventAgentProcessing, `{"message":"planner 处理中"}`)
	apply(t, s, protocol.EventToolCall, `{"tool":"order_lookup","status":"running"}`)

	apply(t, s, protocol.EventStart, "")

	snap := s.Snapshot()
	if snap.StatusLine != "" {
		t.Fatalf("status line = %q, want empty", snap.StatusLine)
	}
	if snap.ToolStatus != "" {
		t.Fatalf("tool status = %q, want empty", snap.ToolStatus)
	}
}

func TestTranscriptCapDropsOldest(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.LimitTranscript(3)

	for _, text := range []string{"一", "二", "三"} {
		s.StartSend(text, Attachment{})
		apply(t, s, protocol.EventAssistantDelta, `{"delta":"回复`+text+`"}`)
		apply(t, s, protocol.EventDone, "")
		s.FinalizeStream()
	}

	snap := s.Snapshot()
	if len(snap.Transcript) != 3 {
		t.Fatalf("transcript = %d, want 3", len(snap.Transcript))
	}
	// 最旧的消息被挤出, 最新一轮完整保留。
	if snap.Transcript[0].Content != "回复二" {
		t.Fatalf("oldest kept = %q, want 回复二", snap.Transcript[0].Content)
	}
	if snap.Transcript[1].Content != "三" || snap.Transcript[2].Content != "回复三" {
		t.Fatalf("latest turn = %q / %q, want 三 / 回复三",
			snap.Transcript[1].Content, snap.Transcript[2].Content)
	}

	// 上限为 0 时不裁剪。
	s2 := New(protocol.ModeMultiAgent)
	for i := 0; i < 5; i++ {
		s2.AppendInjected("x")
	}
	if n := len(s2.Snapshot().Transcript); n != 5 {
		t.Fatalf("uncapped transcript = %d, want 5", n)
	}
}

func TestMarkSendFailedLeavesConsistentState(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventAssistantDelta, `{"delta":"half"}`)

	s.MarkSendFailed("connection refused")
	msg := s.FinalizeStream()
	if msg == nil || !msg.IsComplete {
		t.Fatal("failed send must still finalize to a complete message")
	}
	if msg.Content == "half" {
		t.Fatal("error block not appended")
	}

	snap := s.Snapshot()
	var user *Message
	for i := range snap.Transcript {
		if snap.Transcript[i].Role == RoleUser {
			user = &snap.Transcript[i]
		}
	}
	if user == nil || user.Status != StatusFailed {
		t.Fatalf("user message status = %+v, want failed", user)
	}
}

func TestInjectAppendsWithStatus(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})

	if !s.StreamActive() {
		t.Fatal("stream should be active after StartSend")
	}
	s.AppendInjected("补充一下")

	snap := s.Snapshot()
	last := snap.Transcript[len(snap.Transcript)-1]
	if last.Status != StatusInjected || last.Content != "补充一下" {
		t.Fatalf("injected message = %+v", last)
	}
}

func TestHydrateTranscript(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	now := time.Now()
	ok := s.HydrateTranscript("conv-9", []HistoryRecord{
		{Role: "user", Content: "查一下订单", CreatedAt: now},
		{Role: "assistant", Content: "好的", CreatedAt: now},
		{Role: "weird", Content: "x", CreatedAt: now},
	})
	if !ok {
		t.Fatal("hydrate should run on idle session")
	}
	snap := s.Snapshot()
	if len(snap.Transcript) != 3 {
		t.Fatalf("transcript = %d, want 3", len(snap.Transcript))
	}
	if snap.Transcript[2].Role != RoleSystem {
		t.Fatalf("unknown role mapped to %q, want system", snap.Transcript[2].Role)
	}
	if s.ConversationID() != "conv-9" {
		t.Fatalf("conv id = %q", s.ConversationID())
	}

	// 流进行中拒绝回灌。
	s.StartSend("new", Attachment{})
	apply(t, s, protocol.EventAssistantDelta, `{"delta":"x"}`)
	if s.HydrateTranscript("conv-10", nil) {
		t.Fatal("hydrate must be skipped while a stream accumulates content")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New(protocol.ModeMultiAgent)
	s.StartSend("msg", Attachment{})
	apply(t, s, protocol.EventTaskSummary, `{"tasks":[{"id":"t1","status":"pending"}]}`)

	snap := s.Snapshot()
	snap.Tasks[0].Status = "mutated"
	snap.StreamingMessage.Content = "mutated"

	fresh := s.Snapshot()
	if fresh.Tasks[0].Status == "mutated" || fresh.StreamingMessage.Content == "mutated" {
		t.Fatal("snapshot mutation leaked into session state")
	}
}
