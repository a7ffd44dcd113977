// merge.go — 任务列表的按 id 合并与计划播种。
package session

import (
	"strconv"

	"github.com/multi-agent/go-console-v2/internal/protocol"
	"github.com/multi-agent/go-console-v2/pkg/logger"
)

// mergeTasksLocked 按 id 合并任务快照。调用方持锁。
//
// 合并规则:
//   - 已知 id: 仅覆盖有变化的字段, 状态迁移记日志。
//   - 未知 id: 状态为 pending/started 时新建, 否则忽略
//     (防止复活已删除任务)。
//
// 同一快照重复应用两次结果不变。
func (s *Session) mergeTasksLocked(incoming []protocol.TaskData) {
	for _, in := range incoming {
		if in.ID == "" {
			continue
		}
		idx, ok := s.taskIndex[in.ID]
		if !ok {
			if in.Status != protocol.TaskPending && in.Status != protocol.TaskStarted {
				logger.Debug("session: task update for unknown id ignored",
					logger.FieldTaskID, in.ID,
					logger.FieldStatus, in.Status,
				)
				continue
			}
			s.taskIndex[in.ID] = len(s.tasks)
			s.tasks = append(s.tasks, Task{
				ID:       in.ID,
				Content:  in.Content,
				Status:   in.Status,
				ToolName: in.ToolName,
				Result:   in.Result,
				Error:    in.Error,
			})
			continue
		}

		t := &s.tasks[idx]
		if in.Status != "" && in.Status != t.Status {
			logger.Info("session: task status transition",
				logger.FieldTaskID, in.ID,
				"from", t.Status,
				"to", in.Status,
			)
			t.Status = in.Status
		}
		if in.Content != "" {
			t.Content = in.Content
		}
		if in.ToolName != "" {
			t.ToolName = in.ToolName
		}
		if in.Result != "" {
			t.Result = in.Result
		}
		if in.Error != "" {
			t.Error = in.Error
		}
	}
}

// seedTasksFromPlanLocked 计划定稿后以计划步骤播种任务列表。
// 已存在的任务 id 不重复创建。调用方持锁。
func (s *Session) seedTasksFromPlanLocked() {
	for i, step := range s.plan {
		id := step.ID
		if id == "" {
			id = "plan-" + strconv.Itoa(i+1)
		}
		if _, ok := s.taskIndex[id]; ok {
			continue
		}
		s.taskIndex[id] = len(s.tasks)
		s.tasks = append(s.tasks, Task{
			ID:       id,
			Content:  step.Step,
			Status:   protocol.TaskPending,
			ToolName: step.Tool,
		})
	}
}

// implicitCompleteRunningLocked 流式增量到达时将仍在 running 的任务
// 置为 completed_implicit。调用方持锁。
func (s *Session) implicitCompleteRunningLocked() {
	for i := range s.tasks {
		if s.tasks[i].Status == protocol.TaskRunning {
			s.tasks[i].Status = protocol.TaskCompletedImplicit
		}
	}
}
