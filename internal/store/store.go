package store

import (
	"context"
	"time"

	"taskhub/internal/model"
)

// Snapshot 订阅回调，每次收到的都是该用户任务的完整集合，不是增量
type Snapshot func(tasks []model.Task)

// Unsubscribe 释放订阅，必须显式调用
type Unsubscribe func()

// TaskFields 创建任务时由调用方提供的字段，id 和 created_at 由存储分配
type TaskFields struct {
	OwnerID     int
	Text        string
	Description string
	Priority    model.Priority
	DueDate     *time.Time
	Tags        []string
}

// TaskPatch 部分更新记录：指针字段为 nil 表示不更新，
// ClearDueDate 显式清空截止时间（区别于"不更新"）
type TaskPatch struct {
	Text         *string
	Description  *string
	Completed    *bool
	Priority     *model.Priority
	DueDate      *time.Time
	ClearDueDate bool
	Tags         *[]string
}

// IsZero reports whether the patch updates nothing.
func (p TaskPatch) IsZero() bool {
	return p.Text == nil &&
		p.Description == nil &&
		p.Completed == nil &&
		p.Priority == nil &&
		p.DueDate == nil &&
		!p.ClearDueDate &&
		p.Tags == nil
}

// TaskStore 远端任务存储的抽象契约。
// Create 不同步返回权威数据，调用方依赖后续的订阅推送观察到新任务。
// Delete 对调用方幂等：删除一个已删除的 id 与成功无法区分。
type TaskStore interface {
	Create(ctx context.Context, fields TaskFields) (int64, error)
	Update(ctx context.Context, id int64, patch TaskPatch) error
	Delete(ctx context.Context, id int64) error
	Subscribe(ctx context.Context, ownerID int, onChange Snapshot) (Unsubscribe, error)
}

// NormalizeTags 去重并丢弃空白标签，保留首次出现顺序
func NormalizeTags(tags []string) []string {
	result := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	return result
}
