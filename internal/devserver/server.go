// Package devserver 提供本地开发用的 mock 编排器。
//
// 实现客户端的全部出站契约: chat-stream 帧流、interrupt、
// inject-message、approve/reject。帧序列由剧本 (scenario) 驱动,
// 另带一个 WebSocket tap 把发出的帧镜像给观察端。
package devserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/multi-agent/go-console-v2/internal/config"
	"github.com/multi-agent/go-console-v2/internal/protocol"
	"github.com/multi-agent/go-console-v2/pkg/logger"
)

// Server mock 编排器 HTTP 服务。
type Server struct {
	router *gin.Engine
	cfg    *config.Config
	tap    *EventTap

	mu        sync.Mutex
	gates     map[string]chan string // convID → 审批决定 (approved/rejected)
	injected  map[string][]string    // convID → 注入消息
	interrupt map[string]bool        // convID → 已中断
}

// NewServer 创建 mock 编排器。
func NewServer(cfg *config.Config) *Server {
	r := gin.Default()
	s := &Server{
		router:    r,
		cfg:       cfg,
		tap:       NewEventTap(),
		gates:     map[string]chan string{},
		injected:  map[string][]string{},
		interrupt: map[string]bool{},
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎 (测试挂 httptest 用)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Run 启动监听。
func (s *Server) Run() error {
	logger.Info("devserver: listening",
		logger.FieldAddr, s.cfg.MockListenAddr,
		logger.FieldScenario, s.cfg.MockScenario,
	)
	return s.router.Run(s.cfg.MockListenAddr)
}

func (s *Server) registerRoutes() {
	s.router.POST("/chat-stream", s.chatStreamHandler)
	s.router.POST("/agent/interrupt", s.interruptHandler)
	s.router.POST("/agent/inject-message", s.injectHandler)
	s.router.POST("/agent/approve", s.approveHandler)
	s.router.POST("/agent/reject", s.rejectHandler)
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "scenario": s.cfg.MockScenario})
	})
	if s.cfg.MockWSTapEnabled {
		s.router.GET("/ws", s.tap.Handler)
	}
}

// ========================================
// chat-stream
// ========================================

func (s *Server) chatStreamHandler(c *gin.Context) {
	var req protocol.ChatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	convID := req.ConvID
	if convID == "" {
		convID = "conv-" + uuid.NewString()[:8]
	}
	s.mu.Lock()
	delete(s.interrupt, convID)
	s.mu.Unlock()

	frames := scenarioFrames(s.cfg.MockScenario, convID, req.Message)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	delay := time.Duration(s.cfg.MockChunkDelayMS) * time.Millisecond
	for _, f := range frames {
		if s.interrupted(convID) {
			s.writeFrame(c, frame{Event: protocol.EventInterrupted})
			return
		}
		if f.Event == protocol.EventApprovalRequired {
			s.writeFrame(c, f)
			decision := s.awaitDecision(convID)
			s.writeFrame(c, frame{
				Event: protocol.EventApprovalStatus,
				Data:  `{"status":"` + decision + `"}`,
			})
			if decision != protocol.ApprovalApproved {
				s.writeFrame(c, frame{Event: protocol.EventDone})
				return
			}
			continue
		}
		s.writeFrame(c, f)
		if delay > 0 {
			time.Sleep(delay)
		}
	}
}

// writeFrame 写一帧并镜像到 ws tap。
func (s *Server) writeFrame(c *gin.Context, f frame) {
	var b strings.Builder
	if f.Event != "" {
		b.WriteString("event: ")
		b.WriteString(f.Event)
		b.WriteString("\n")
	}
	if f.Data != "" {
		b.WriteString("data: ")
		b.WriteString(f.Data)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	c.Writer.WriteString(b.String())
	c.Writer.Flush()
	s.tap.Broadcast(f)
}

func (s *Server) interrupted(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupt[convID]
}

// awaitDecision 阻塞等待审批决定, 超时按拒绝处理。
func (s *Server) awaitDecision(convID string) string {
	s.mu.Lock()
	gate, ok := s.gates[convID]
	if !ok {
		gate = make(chan string, 1)
		s.gates[convID] = gate
	}
	s.mu.Unlock()

	select {
	case decision := <-gate:
		return decision
	case <-time.After(30 * time.Second):
		logger.Warn("devserver: approval gate timed out",
			logger.FieldConvID, convID,
		)
		return protocol.ApprovalRejected
	}
}

// ========================================
// 控制面
// ========================================

func (s *Server) interruptHandler(c *gin.Context) {
	var req protocol.InterruptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.interrupt[req.ConvID] = true
	s.mu.Unlock()
	logger.Info("devserver: interrupt acknowledged", logger.FieldConvID, req.ConvID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) injectHandler(c *gin.Context) {
	var req protocol.InjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	queue := append(s.injected[req.ConversationID], req.Message)
	if len(queue) > s.cfg.MockInjectQueue {
		s.mu.Unlock()
		c.JSON(http.StatusOK, protocol.InjectResponse{Success: false, QueueLength: len(queue) - 1})
		return
	}
	s.injected[req.ConversationID] = queue
	s.mu.Unlock()

	logger.Info("devserver: message injected",
		logger.FieldConvID, req.ConversationID,
		logger.FieldCount, len(queue),
	)
	c.JSON(http.StatusOK, protocol.InjectResponse{Success: true, QueueLength: len(queue)})
}

func (s *Server) approveHandler(c *gin.Context) { s.resolveGate(c, protocol.ApprovalApproved) }
func (s *Server) rejectHandler(c *gin.Context)  { s.resolveGate(c, protocol.ApprovalRejected) }

func (s *Server) resolveGate(c *gin.Context, decision string) {
	var req protocol.ApprovalActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	gate, ok := s.gates[req.ConvID]
	if !ok {
		gate = make(chan string, 1)
		s.gates[req.ConvID] = gate
	}
	s.mu.Unlock()

	select {
	case gate <- decision:
	default:
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": decision})
}
