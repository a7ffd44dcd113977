// scenario.go — 帧剧本: 各协议模式的预置事件序列。
package devserver

import (
	"encoding/json"

	"github.com/multi-agent/go-console-v2/internal/protocol"
)

// frame 一帧待发送事件。
type frame struct {
	Event string `json:"event,omitempty"`
	Data  string `json:"data,omitempty"`
}

// 剧本名。
const (
	ScenarioMultiAgentBasic = "multi_agent_basic"
	ScenarioMultiAgentTasks = "multi_agent_tasks"
	ScenarioApprovalFlow    = "approval_flow"
	ScenarioBasicAgent      = "basic_agent"
	ScenarioLegacy          = "legacy"
	ScenarioBackendError    = "backend_error"
)

// scenarioFrames 按剧本生成帧序列。未知剧本回退 multi_agent_basic。
func scenarioFrames(scenario, convID, userMsg string) []frame {
	switch scenario {
	case ScenarioMultiAgentTasks:
		return multiAgentTasksFrames(convID)
	case ScenarioApprovalFlow:
		return approvalFlowFrames(convID)
	case ScenarioBasicAgent:
		return basicAgentFrames(convID)
	case ScenarioLegacy:
		return legacyFrames(convID)
	case ScenarioBackendError:
		return backendErrorFrames(convID)
	}
	return multiAgentBasicFrames(convID, userMsg)
}

func convIDFrame(convID string) frame {
	data, _ := json.Marshal(map[string]string{"conversationId": convID})
	return frame{Event: protocol.EventConvID, Data: string(data)}
}

func multiAgentBasicFrames(convID, userMsg string) []frame {
	return []frame{
		convIDFrame(convID),
		{Event: protocol.EventStart},
		{Event: protocol.EventAgentProcessing, Data: `{"agent":"planner","message":"正在分析请求"}`},
		{Event: protocol.EventAssistantDelta, Data: `{"delta":"收到, 正在处理: "}`},
		{Event: protocol.EventAssistantDelta, Data: `{"delta":"` + jsonEscape(userMsg) + `"}`},
		{Event: protocol.EventSuggestions, Data: `{"suggestions":["查看物流","申请售后"]}`},
		{Event: protocol.EventDone},
	}
}

func multiAgentTasksFrames(convID string) []frame {
	return []frame{
		convIDFrame(convID),
		{Event: protocol.EventStart},
		{Event: protocol.EventPlannerStatus, Data: `{"state":"completed","message":"计划已生成","plan":[{"id":"p1","step":"查询订单","tool":"order_lookup"},{"id":"p2","step":"汇总结果"}]}`},
		{Event: protocol.EventDispatcherStatus, Data: `{"state":"running","message":"分发任务"}`},
		{Event: protocol.EventTaskSummary, Data: `{"conversation_id":"` + convID + `","tasks":[{"id":"p1","status":"running","tool_name":"order_lookup"}]}`},
		{Event: protocol.EventToolCall, Data: `{"agent":"dispatcher","tool":"order_lookup","status":"running"}`},
		{Event: protocol.EventTaskSummary, Data: `{"conversation_id":"` + convID + `","tasks":[{"id":"p1","status":"completed","result":"订单 #1024 已发货"}]}`},
		{Event: protocol.EventHandoff, Data: `{"from":"dispatcher","to":"synthesizer"}`},
		{Event: protocol.EventSynthesizerStatus, Data: `{"state":"running","message":"汇总回复"}`},
		{Event: protocol.EventAssistantDelta, Data: `{"delta":"您的订单 #1024 已发货, "}`},
		{Event: protocol.EventAssistantDelta, Data: `{"delta":"预计明天送达。"}`},
		{Event: protocol.EventDone},
	}
}

func approvalFlowFrames(convID string) []frame {
	return []frame{
		convIDFrame(convID),
		{Event: protocol.EventStart},
		{Event: protocol.EventAssistantDelta, Data: `{"delta":"需要您确认退款操作。"}`},
		{Event: protocol.EventApprovalRequired, Data: `{"id":"ap-1","operation_type":"refund","description":"退款 ¥128.00 到原支付渠道","risk_level":"high"}`},
		// approval_status 由 server 在收到决定后插入。
		{Event: protocol.EventAssistantDelta, Data: `{"delta":"退款已提交。"}`},
		{Event: protocol.EventDone},
	}
}

func basicAgentFrames(convID string) []frame {
	return []frame{
		{Data: `{"type":"conv_id","data":{"conv_id":"` + convID + `"}}`},
		{Data: `{"type":"thinking","data":{"message":"思考中"}}`},
		{Data: `{"type":"delta","data":{"delta":"好的, "}}`},
		{Data: `{"type":"tool_start","data":{"tool":"inventory_check","status":"running"}}`},
		{Data: `{"type":"tool_result","data":{"tool":"inventory_check","status":"completed"}}`},
		{Data: `{"type":"delta","data":{"delta":"库存充足。"}}`},
		{Data: `{"type":"done"}`},
	}
}

func legacyFrames(convID string) []frame {
	return []frame{
		{Data: `{"conv_id":"` + convID + `","delta":"旧协议"}`},
		{Data: `{"delta":"回复内容"}`},
		{Data: `{"suggestions":["继续咨询"],"done":true}`},
	}
}

func backendErrorFrames(convID string) []frame {
	return []frame{
		convIDFrame(convID),
		{Event: protocol.EventStart},
		{Event: protocol.EventAssistantDelta, Data: `{"delta":"正在处理"}`},
		{Event: protocol.EventError, Data: `{"message":"下游服务不可用"}`},
	}
}

// jsonEscape 转义用户文本进 JSON 字符串字面量。
func jsonEscape(s string) string {
	data, _ := json.Marshal(s)
	return string(data[1 : len(data)-1])
}
