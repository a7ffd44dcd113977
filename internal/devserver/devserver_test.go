package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/go-console-v2/internal/client"
	"github.com/multi-agent/go-console-v2/internal/config"
	"github.com/multi-agent/go-console-v2/internal/protocol"
	"github.com/multi-agent/go-console-v2/internal/session"
)

func init() { gin.SetMode(gin.TestMode) }

func newDevServer(t *testing.T, scenario string) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		MockScenario:     scenario,
		MockChunkDelayMS: 0,
		MockInjectQueue:  2,
		MockWSTapEnabled: true,
	}
	s := NewServer(cfg)
	srv := httptest.NewServer(s.Engine())
	t.Cleanup(srv.Close)
	return s, srv
}

func newClientFor(srvURL string, mode protocol.Mode) *client.Client {
	cfg := &config.Config{
		OrchestratorBaseURL: srvURL,
		HTTPTimeoutSec:      5,
		InjectPriority:      "normal",
	}
	return client.New(cfg, session.New(mode))
}

func TestMultiAgentTasksScenario(t *testing.T) {
	_, srv := newDevServer(t, ScenarioMultiAgentTasks)
	c := newClientFor(srv.URL, protocol.ModeMultiAgent)

	result, err := c.Send(context.Background(), "查订单", session.Attachment{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result != client.SendComplete {
		t.Fatalf("result = %q", result)
	}

	snap := c.Session().Snapshot()
	if snap.ConversationID == "" {
		t.Fatal("conv id never assigned")
	}
	last := snap.Transcript[len(snap.Transcript)-1]
	// 交接标记内联在增量之前。
	want := "\n\n[交接: dispatcher -> synthesizer]\n\n您的订单 #1024 已发货, 预计明天送达。"
	if last.Content != want {
		t.Fatalf("content = %q, want %q", last.Content, want)
	}
	if !strings.Contains(last.Content, "#1024") {
		t.Fatalf("content = %q", last.Content)
	}
	// 任务计划产物随终稿归档 (conv id 匹配)。
	if last.TaskPlan == nil {
		t.Fatal("task plan artifact missing")
	}
	if len(last.TaskPlan.Plan) != 2 {
		t.Fatalf("plan steps = %d, want 2", len(last.TaskPlan.Plan))
	}
	foundCompleted := false
	for _, task := range last.TaskPlan.Tasks {
		if task.ID == "p1" && task.Status == protocol.TaskCompleted {
			foundCompleted = true
		}
	}
	if !foundCompleted {
		t.Fatalf("tasks = %+v, want p1 completed", last.TaskPlan.Tasks)
	}
}

func TestBasicAgentScenario(t *testing.T) {
	_, srv := newDevServer(t, ScenarioBasicAgent)
	c := newClientFor(srv.URL, protocol.ModeBasicAgent)

	if _, err := c.Send(context.Background(), "有货吗", session.Attachment{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	snap := c.Session().Snapshot()
	last := snap.Transcript[len(snap.Transcript)-1]
	if last.Content != "好的, 库存充足。" {
		t.Fatalf("content = %q", last.Content)
	}
	if snap.ConversationID == "" {
		t.Fatal("embedded conv_id not adopted")
	}
}

func TestLegacyScenario(t *testing.T) {
	_, srv := newDevServer(t, ScenarioLegacy)
	c := newClientFor(srv.URL, protocol.ModeLegacy)

	if _, err := c.Send(context.Background(), "hi", session.Attachment{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	snap := c.Session().Snapshot()
	last := snap.Transcript[len(snap.Transcript)-1]
	if last.Content != "旧协议回复内容" {
		t.Fatalf("content = %q", last.Content)
	}
	if len(snap.Suggestions) != 1 {
		t.Fatalf("suggestions = %v", snap.Suggestions)
	}
}

func TestBackendErrorScenario(t *testing.T) {
	_, srv := newDevServer(t, ScenarioBackendError)
	c := newClientFor(srv.URL, protocol.ModeMultiAgent)

	result, err := c.Send(context.Background(), "msg", session.Attachment{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result != client.SendComplete {
		t.Fatalf("result = %q (error turn still converges)", result)
	}
	last := c.Session().Snapshot().Transcript
	msg := last[len(last)-1]
	if !strings.Contains(msg.Content, "下游服务不可用") {
		t.Fatalf("content = %q, want inline error", msg.Content)
	}
	if !msg.IsComplete {
		t.Fatal("error turn not terminated")
	}
}

func TestApprovalFlowScenario(t *testing.T) {
	_, srv := newDevServer(t, ScenarioApprovalFlow)
	c := newClientFor(srv.URL, protocol.ModeMultiAgent)

	done := make(chan client.SendResult, 1)
	go func() {
		result, _ := c.Send(context.Background(), "退款", session.Attachment{})
		done <- result
	}()

	deadline := time.After(5 * time.Second)
	for c.State() != client.StateAwaitingApproval {
		select {
		case <-deadline:
			t.Fatal("approval gate never raised")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := c.Approve(context.Background()); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if result := <-done; result != client.SendComplete {
		t.Fatalf("result = %q", result)
	}

	snap := c.Session().Snapshot()
	last := snap.Transcript[len(snap.Transcript)-1]
	if !strings.Contains(last.Content, "退款已提交") {
		t.Fatalf("content = %q, want post-approval delta", last.Content)
	}
	if snap.PendingApproval != nil {
		t.Fatal("approval not cleared")
	}
}

func TestInjectQueueLimit(t *testing.T) {
	_, srv := newDevServer(t, ScenarioMultiAgentBasic)

	// 直接打后端接口验证队列上限 (不经过客户端前置条件)。
	post := func(msg string) protocol.InjectResponse {
		t.Helper()
		body, _ := json.Marshal(protocol.InjectRequest{ConversationID: "conv-q", Message: msg})
		resp, err := http.Post(srv.URL+"/agent/inject-message", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("inject: %v", err)
		}
		defer resp.Body.Close()
		var out protocol.InjectResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode inject response: %v", err)
		}
		return out
	}

	if resp := post("m1"); !resp.Success || resp.QueueLength != 1 {
		t.Fatalf("first inject = %+v", resp)
	}
	if resp := post("m2"); !resp.Success || resp.QueueLength != 2 {
		t.Fatalf("second inject = %+v", resp)
	}
	if resp := post("m3"); resp.Success {
		t.Fatalf("third inject should exceed queue limit: %+v", resp)
	}
}

func TestWSTapMirrorsFrames(t *testing.T) {
	_, srv := newDevServer(t, ScenarioMultiAgentBasic)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws tap: %v", err)
	}
	defer ws.Close()

	c := newClientFor(srv.URL, protocol.ModeMultiAgent)
	if _, err := c.Send(context.Background(), "hello", session.Attachment{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	sawDone := false
	for !sawDone {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("tap read: %v (done frame never mirrored)", err)
		}
		if f.Event == protocol.EventDone {
			sawDone = true
		}
	}
}
