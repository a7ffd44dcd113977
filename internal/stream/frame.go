// frame.go — 单帧解析: event 头 + 多行 data 拼接 + JSON 校验。
package stream

import (
	"encoding/json"
	"strings"

	apperrors "github.com/multi-agent/go-console-v2/pkg/errors"
)

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
)

// Frame 解析后的事件帧。
//
// Event 为空表示帧内无显式 event 头, 是否从 payload 的 type 字段
// 推断事件名由 router 按协议模式决定。
type Frame struct {
	Event string
	Data  json.RawMessage
}

// ParseFrame 解析一个原始帧。
//
// 规则:
//   - `event:` 行设置事件名 (trim 后取值)
//   - 每个 `data:` 行拼接 (非覆盖) 进原始数据串
//   - 空数据解析为 {}
//   - JSON 非法返回错误, 由调用方记日志后丢弃该帧
func ParseFrame(raw string) (Frame, error) {
	var (
		event   string
		dataBuf strings.Builder
	)

	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, eventPrefix):
			event = strings.TrimSpace(line[len(eventPrefix):])
		case strings.HasPrefix(line, dataPrefix):
			dataBuf.WriteString(strings.TrimSpace(line[len(dataPrefix):]))
		}
	}

	data := dataBuf.String()
	if data == "" {
		data = "{}"
	}
	if !json.Valid([]byte(data)) {
		return Frame{}, apperrors.Newf("stream.ParseFrame", "malformed frame json (%d bytes)", len(data))
	}
	return Frame{Event: event, Data: json.RawMessage(data)}, nil
}
