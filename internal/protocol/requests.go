// requests.go — 客户端 → 编排器的 HTTP 请求/响应契约。
package protocol

// ChatStreamRequest POST /chat-stream 请求。响应为 chunked 帧流。
type ChatStreamRequest struct {
	ConvID  string `json:"conv_id,omitempty"`
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`
	File    string `json:"file,omitempty"`
}

// InterruptRequest POST /agent/interrupt 请求 (fire-and-forget)。
type InterruptRequest struct {
	ConvID string `json:"conv_id"`
}

// InjectRequest POST /agent/inject-message 请求 (流进行中侧信道注入)。
type InjectRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Priority       string `json:"priority,omitempty"`
}

// InjectResponse POST /agent/inject-message 响应。
type InjectResponse struct {
	Success     bool `json:"success"`
	QueueLength int  `json:"queueLength"`
}

// ApprovalActionRequest POST /agent/approve | /agent/reject 请求。
type ApprovalActionRequest struct {
	ConvID     string `json:"conv_id"`
	ApprovalID string `json:"approval_id"`
}
