// tap.go — WebSocket 事件镜像: 发出的帧同步广播给观察端。
package devserver

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/go-console-v2/pkg/logger"
)

// EventTap 把 mock 编排器发出的每一帧镜像到 WebSocket 订阅端,
// 便于在另一个终端观察协议流量。
type EventTap struct {
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]chan frame
}

// NewEventTap 创建事件镜像。
func NewEventTap() *EventTap {
	return &EventTap{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: map[string]chan frame{},
	}
}

// Broadcast 广播一帧。订阅端写满时丢帧, 不阻塞流。
func (t *EventTap) Broadcast(f frame) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

// Handler Gin WebSocket handler。
func (t *EventTap) Handler(c *gin.Context) {
	ws, err := t.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("devserver: ws upgrade failed", logger.FieldError, err.Error())
		return
	}
	defer ws.Close()

	id := fmt.Sprintf("tap-%d", time.Now().UnixNano())
	ch := t.subscribe(id)
	defer t.unsubscribe(id)

	logger.Info("devserver: tap subscriber connected", logger.FieldSubscriber, id)

	// 读 goroutine 仅用于感知断连。
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case f := <-ch:
			if err := ws.WriteJSON(f); err != nil {
				logger.Warn("devserver: tap write failed",
					logger.FieldSubscriber, id,
					logger.FieldError, err.Error(),
				)
				return
			}
		case <-closed:
			return
		}
	}
}

func (t *EventTap) subscribe(id string) chan frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan frame, 64)
	t.subs[id] = ch
	return ch
}

func (t *EventTap) unsubscribe(id string) {
	t.mu.Lock()
	delete(t.subs, id)
	t.mu.Unlock()
}
