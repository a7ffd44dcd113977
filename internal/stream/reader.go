// Package stream 实现编排器 chunked 响应流的帧读取与解析。
//
// 线格式 (类 SSE, 以空行分帧):
//
//	event: <name>\n
//	data: <json-fragment-1>\n
//	data: <json-fragment-2>\n
//	\n
//
// Reader 绑定单个 HTTP 响应生命周期, 不可重用。
package stream

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	apperrors "github.com/multi-agent/go-console-v2/pkg/errors"
)

// frameDelim 帧边界: 连续两个换行。
var frameDelim = []byte("\n\n")

// readChunkSize 单次底层读取的块大小。
const readChunkSize = 4096

// CancelOutcome 取消操作的结果分类。
//
// 显式建模取代 try/catch 吞异常: 调用方可区分 "无可取消" 与 "取消失败"。
type CancelOutcome int

const (
	// Cancelled 成功取消, 底层流已关闭。
	Cancelled CancelOutcome = iota
	// AlreadyClosed 流早已关闭 (重复取消或已自然结束)。
	AlreadyClosed
	// CancelError 关闭底层流时出错。
	CancelError
)

// String 返回结果名 (日志用)。
func (o CancelOutcome) String() string {
	switch o {
	case Cancelled:
		return "cancelled"
	case AlreadyClosed:
		return "already-closed"
	case CancelError:
		return "error"
	}
	return "unknown"
}

// CancelResult 取消操作结果。
type CancelResult struct {
	Outcome CancelOutcome
	Err     error
}

// Reader 从 chunked 响应体中切分原始文本帧。
//
// 单 goroutine 调用 Next; Cancel 可从其他 goroutine 并发调用。
type Reader struct {
	body io.ReadCloser

	buf    bytes.Buffer // 跨读取边界的帧缓冲
	chunk  []byte
	ended  bool // 底层流已到达 EOF 或出错
	closed atomic.Bool

	closeMu sync.Mutex // 保护 body.Close 与读取端竞争
}

// NewReader 包装一个响应体。Reader 接管 body 的关闭。
func NewReader(body io.ReadCloser) *Reader {
	return &Reader{
		body:  body,
		chunk: make([]byte, readChunkSize),
	}
}

// Next 返回下一帧原始文本 (不含分隔空行)。
//
// 流正常结束返回 io.EOF; 结束时缓冲区内无终结符的残留数据被丢弃, 不作为帧发出。
// Cancel 之后返回 ErrStreamClosed。
func (r *Reader) Next() (string, error) {
	for {
		if frame, ok := r.popFrame(); ok {
			return frame, nil
		}
		if r.ended {
			// 残留数据无终结符: 丢弃
			r.buf.Reset()
			return "", io.EOF
		}

		n, err := r.body.Read(r.chunk)
		if n > 0 {
			r.buf.Write(r.chunk[:n])
		}
		if err != nil {
			r.ended = true
			if errors.Is(err, io.EOF) {
				continue // 让缓冲中已完整的帧先行发出
			}
			if r.closed.Load() {
				return "", apperrors.ErrStreamClosed
			}
			return "", apperrors.Wrap(err, "stream.Reader.Next", "read response body")
		}
	}
}

// popFrame 从缓冲中切出首个完整帧。
func (r *Reader) popFrame() (string, bool) {
	data := r.buf.Bytes()
	idx := bytes.Index(data, frameDelim)
	if idx < 0 {
		return "", false
	}
	frame := string(data[:idx])
	r.buf.Next(idx + len(frameDelim))
	return frame, true
}

// Cancel 立即关闭底层流。可从任意 goroutine 调用, 幂等。
func (r *Reader) Cancel() CancelResult {
	if r.closed.Swap(true) {
		return CancelResult{Outcome: AlreadyClosed}
	}
	r.closeMu.Lock()
	err := r.body.Close()
	r.closeMu.Unlock()
	if err != nil {
		return CancelResult{Outcome: CancelError, Err: err}
	}
	return CancelResult{Outcome: Cancelled}
}

// Closed 返回 Reader 是否已被取消。
func (r *Reader) Closed() bool { return r.closed.Load() }
