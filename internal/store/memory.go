package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskhub/internal/apperr"
	"taskhub/internal/model"
	"taskhub/pkg/metrics"
)

// MemoryStore 内存版任务存储，推送语义与 PostgresStore 一致，
// 供本地运行（store.driver: memory）和测试使用。
// 快照在持锁状态下计算并投递，订阅方按提交顺序观察到每次变更；
// 回调不得再调用本存储的方法。
type MemoryStore struct {
	mu     sync.Mutex
	logger *zap.Logger

	nextID    int64
	tasks     map[int64]model.Task
	nextSubID int
	subs      map[int]*memorySub
}

type memorySub struct {
	ownerID  int
	onChange Snapshot
}

func NewMemoryStore(log *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger: log,
		nextID: 1,
		tasks:  make(map[int64]model.Task),
		subs:   make(map[int]*memorySub),
	}
}

func (s *MemoryStore) Create(ctx context.Context, fields TaskFields) (int64, error) {
	if fields.Priority == "" {
		fields.Priority = model.PriorityMedium
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.tasks[id] = model.Task{
		ID:          id,
		OwnerID:     fields.OwnerID,
		Text:        fields.Text,
		Description: fields.Description,
		Completed:   false,
		Priority:    fields.Priority,
		DueDate:     fields.DueDate,
		Tags:        NormalizeTags(fields.Tags),
		CreatedAt:   time.Now(),
	}
	s.deliverLocked(fields.OwnerID)
	return id, nil
}

func (s *MemoryStore) Update(ctx context.Context, id int64, patch TaskPatch) error {
	if patch.IsZero() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return apperr.Store("store.Update", fmt.Errorf("task %d not found", id))
	}

	if patch.Text != nil {
		task.Text = *patch.Text
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Completed != nil {
		task.Completed = *patch.Completed
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.ClearDueDate {
		task.DueDate = nil
	} else if patch.DueDate != nil {
		due := *patch.DueDate
		task.DueDate = &due
	}
	if patch.Tags != nil {
		task.Tags = NormalizeTags(*patch.Tags)
	}
	s.tasks[id] = task

	s.deliverLocked(task.OwnerID)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		// 幂等：已删除的 id 视为成功
		return nil
	}
	delete(s.tasks, id)

	s.deliverLocked(task.OwnerID)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, ownerID int, onChange Snapshot) (Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subID := s.nextSubID
	s.nextSubID++
	s.subs[subID] = &memorySub{ownerID: ownerID, onChange: onChange}

	onChange(s.tasksOfLocked(ownerID))
	metrics.IncrementSnapshotDelivery("memory")

	return func() {
		s.mu.Lock()
		delete(s.subs, subID)
		s.mu.Unlock()
	}, nil
}

// deliverLocked 在持锁状态下计算快照并投递给该 owner 的所有订阅者。
// 投递与变更在同一临界区内，并发变更的快照不会乱序到达。
func (s *MemoryStore) deliverLocked(ownerID int) {
	var targets []Snapshot
	for _, sub := range s.subs {
		if sub.ownerID == ownerID {
			targets = append(targets, sub.onChange)
		}
	}
	if len(targets) == 0 {
		return
	}

	snapshot := s.tasksOfLocked(ownerID)
	for _, onChange := range targets {
		onChange(snapshot)
		metrics.IncrementSnapshotDelivery("memory")
	}
}

func (s *MemoryStore) tasksOfLocked(ownerID int) []model.Task {
	tasks := []model.Task{}
	for _, task := range s.tasks {
		if task.OwnerID == ownerID {
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}
