package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskhub/internal/apperr"
	"taskhub/internal/model"
	"taskhub/internal/store"
	"taskhub/pkg/metrics"
)

var errNoSession = errors.New("no active session")

// 变更操作只做最小的本地前置校验，然后委托给存储适配器。
// 权威更新经由订阅推送异步到达，本地不做乐观变更。

// AddTask 创建新任务，文本去除空白后不能为空
func (e *Engine) AddTask(ctx context.Context, text string, priority model.Priority, description string, dueDate *time.Time, tags []string) error {
	identity := e.currentIdentity()
	if identity == nil {
		return apperr.Auth("engine.AddTask", errNoSession)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return apperr.Validation("engine.AddTask", "task text must not be empty")
	}

	_, err := e.store.Create(ctx, store.TaskFields{
		OwnerID:     identity.ID,
		Text:        text,
		Description: description,
		Priority:    priority,
		DueDate:     dueDate,
		Tags:        tags,
	})
	if err != nil {
		e.logger.Error("Failed to add task", zap.Error(err))
		metrics.IncrementMutationFailure("add")
		return err
	}
	return nil
}

// ToggleComplete 翻转任务完成状态，任务不在集合中时静默跳过
func (e *Engine) ToggleComplete(ctx context.Context, id int64) error {
	if e.currentIdentity() == nil {
		return apperr.Auth("engine.ToggleComplete", errNoSession)
	}

	e.mu.RLock()
	task := e.findLocked(id)
	var completed bool
	if task != nil {
		completed = !task.Completed
	}
	e.mu.RUnlock()

	if task == nil {
		e.logger.Debug("ToggleComplete: task not in collection", zap.Int64("task_id", id))
		return nil
	}

	if err := e.store.Update(ctx, id, store.TaskPatch{Completed: &completed}); err != nil {
		e.logger.Error("Failed to toggle task", zap.Error(err), zap.Int64("task_id", id))
		metrics.IncrementMutationFailure("toggle")
		return err
	}
	return nil
}

// DeleteTask 删除任务；选中的任务被删除时清除选中
func (e *Engine) DeleteTask(ctx context.Context, id int64) error {
	if e.currentIdentity() == nil {
		return apperr.Auth("engine.DeleteTask", errNoSession)
	}

	e.mu.Lock()
	if e.selectedID == id {
		e.selectedID = 0
	}
	e.mu.Unlock()

	if err := e.store.Delete(ctx, id); err != nil {
		e.logger.Error("Failed to delete task", zap.Error(err), zap.Int64("task_id", id))
		metrics.IncrementMutationFailure("delete")
		return err
	}
	return nil
}

// UpdateTask 字段级部分更新；更新后的文本不能为空
func (e *Engine) UpdateTask(ctx context.Context, id int64, patch store.TaskPatch) error {
	if e.currentIdentity() == nil {
		return apperr.Auth("engine.UpdateTask", errNoSession)
	}

	if patch.Text != nil {
		text := strings.TrimSpace(*patch.Text)
		if text == "" {
			return apperr.Validation("engine.UpdateTask", "task text must not be empty")
		}
		patch.Text = &text
	}

	if patch.IsZero() {
		return nil
	}

	if err := e.store.Update(ctx, id, patch); err != nil {
		e.logger.Error("Failed to update task", zap.Error(err), zap.Int64("task_id", id))
		metrics.IncrementMutationFailure("update")
		return err
	}
	return nil
}

// UpdateText 只更新任务文本
func (e *Engine) UpdateText(ctx context.Context, id int64, text string) error {
	return e.UpdateTask(ctx, id, store.TaskPatch{Text: &text})
}

// AddTag 给任务加标签。标签已存在时不发起远端调用，
// 新标签集合在本地计算后整体提交。
func (e *Engine) AddTag(ctx context.Context, id int64, tag string) error {
	if e.currentIdentity() == nil {
		return apperr.Auth("engine.AddTag", errNoSession)
	}

	tag = strings.TrimSpace(tag)
	if tag == "" {
		return apperr.Validation("engine.AddTag", "tag must not be empty")
	}

	e.mu.RLock()
	task := e.findLocked(id)
	var tags []string
	exists := false
	if task != nil {
		exists = task.HasTag(tag)
		if !exists {
			tags = make([]string, 0, len(task.Tags)+1)
			tags = append(tags, task.Tags...)
			tags = append(tags, tag)
		}
	}
	e.mu.RUnlock()

	if task == nil {
		e.logger.Debug("AddTag: task not in collection", zap.Int64("task_id", id))
		return nil
	}
	if exists {
		return nil
	}

	if err := e.store.Update(ctx, id, store.TaskPatch{Tags: &tags}); err != nil {
		e.logger.Error("Failed to add tag", zap.Error(err), zap.Int64("task_id", id))
		metrics.IncrementMutationFailure("add_tag")
		return err
	}
	return nil
}

// RemoveTag 移除标签，精确匹配；标签不存在时为 no-op
func (e *Engine) RemoveTag(ctx context.Context, id int64, tag string) error {
	if e.currentIdentity() == nil {
		return apperr.Auth("engine.RemoveTag", errNoSession)
	}

	e.mu.RLock()
	task := e.findLocked(id)
	var tags []string
	exists := false
	if task != nil && task.HasTag(tag) {
		exists = true
		tags = make([]string, 0, len(task.Tags)-1)
		for _, existing := range task.Tags {
			if existing != tag {
				tags = append(tags, existing)
			}
		}
	}
	e.mu.RUnlock()

	if task == nil || !exists {
		return nil
	}

	if err := e.store.Update(ctx, id, store.TaskPatch{Tags: &tags}); err != nil {
		e.logger.Error("Failed to remove tag", zap.Error(err), zap.Int64("task_id", id))
		metrics.IncrementMutationFailure("remove_tag")
		return err
	}
	return nil
}

// ClearCompleted 并发地为每个已完成任务发一次删除。
// 部分失败不回滚也不汇总上报，失败的任务留在集合里等用户重试。
func (e *Engine) ClearCompleted(ctx context.Context) error {
	identity := e.currentIdentity()
	if identity == nil {
		return apperr.Auth("engine.ClearCompleted", errNoSession)
	}

	e.mu.Lock()
	var ids []int64
	for i := range e.tasks {
		t := &e.tasks[i]
		if t.OwnerID == identity.ID && t.Completed {
			ids = append(ids, t.ID)
			if e.selectedID == t.ID {
				e.selectedID = 0
			}
		}
	}
	e.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(taskID int64) {
			defer wg.Done()
			if err := e.store.Delete(ctx, taskID); err != nil {
				e.logger.Error("Failed to clear completed task",
					zap.Error(err),
					zap.Int64("task_id", taskID),
				)
				metrics.IncrementMutationFailure("clear_completed")
			}
		}(id)
	}
	wg.Wait()

	e.logger.Info("Cleared completed tasks", zap.Int("count", len(ids)))
	return nil
}

func (e *Engine) currentIdentity() *model.Identity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.identity
}
