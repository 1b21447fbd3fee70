package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"taskhub/internal/apperr"
	"taskhub/internal/model"
	"taskhub/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	creates []store.TaskFields
	updates []recordedUpdate
	deletes []int64

	createErr error
	updateErr error
	deleteErr error
}

type recordedUpdate struct {
	id    int64
	patch store.TaskPatch
}

func (f *fakeStore) Create(ctx context.Context, fields store.TaskFields) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.creates = append(f.creates, fields)
	return int64(len(f.creates)), nil
}

func (f *fakeStore) Update(ctx context.Context, id int64, patch store.TaskPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, recordedUpdate{id: id, patch: patch})
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func mutationEngine(tasks []model.Task) (*Engine, *fakeStore) {
	fs := &fakeStore{}
	e := NewEngine(fs, zap.NewNop())
	e.now = func() time.Time { return fixedNow }
	e.SetIdentity(&model.Identity{ID: 1})
	e.Replace(tasks)
	return e, fs
}

func TestAddTaskValidation(t *testing.T) {
	e, fs := mutationEngine(nil)

	err := e.AddTask(context.Background(), "   ", model.PriorityMedium, "", nil, nil)
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error for blank text, got %v", err)
	}
	if len(fs.creates) != 0 {
		t.Fatalf("blank text must not reach the store, got %d creates", len(fs.creates))
	}

	if err := e.AddTask(context.Background(), "  write report ", model.PriorityHigh, "quarterly", nil, []string{"work"}); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if len(fs.creates) != 1 {
		t.Fatalf("expected one create, got %d", len(fs.creates))
	}
	created := fs.creates[0]
	if created.Text != "write report" {
		t.Errorf("expected trimmed text, got %q", created.Text)
	}
	if created.OwnerID != 1 {
		t.Errorf("expected owner 1, got %d", created.OwnerID)
	}
}

func TestAddTaskRequiresSession(t *testing.T) {
	e, fs := mutationEngine(nil)
	e.SetIdentity(nil)

	err := e.AddTask(context.Background(), "orphan", model.PriorityLow, "", nil, nil)
	if !apperr.IsAuth(err) {
		t.Fatalf("expected auth error without session, got %v", err)
	}
	if len(fs.creates) != 0 {
		t.Fatalf("expected no creates, got %d", len(fs.creates))
	}
}

func TestToggleComplete(t *testing.T) {
	e, fs := mutationEngine([]model.Task{
		{ID: 1, OwnerID: 1, Text: "a", Completed: false},
		{ID: 2, OwnerID: 1, Text: "b", Completed: true},
	})

	if err := e.ToggleComplete(context.Background(), 1); err != nil {
		t.Fatalf("ToggleComplete failed: %v", err)
	}
	if err := e.ToggleComplete(context.Background(), 2); err != nil {
		t.Fatalf("ToggleComplete failed: %v", err)
	}
	if len(fs.updates) != 2 {
		t.Fatalf("expected two updates, got %d", len(fs.updates))
	}
	if got := fs.updates[0].patch.Completed; got == nil || *got != true {
		t.Errorf("expected task 1 toggled to completed, got %v", got)
	}
	if got := fs.updates[1].patch.Completed; got == nil || *got != false {
		t.Errorf("expected task 2 toggled to active, got %v", got)
	}

	// unknown id is a silent no-op
	if err := e.ToggleComplete(context.Background(), 99); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
	if len(fs.updates) != 2 {
		t.Fatalf("no-op toggle must not reach the store")
	}
}

func TestUpdateTaskRejectsBlankText(t *testing.T) {
	e, fs := mutationEngine([]model.Task{{ID: 1, OwnerID: 1, Text: "a"}})

	blank := "  "
	err := e.UpdateTask(context.Background(), 1, store.TaskPatch{Text: &blank})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(fs.updates) != 0 {
		t.Fatalf("blank text must not reach the store")
	}
}

func TestAddTagDeduplicates(t *testing.T) {
	e, fs := mutationEngine([]model.Task{
		{ID: 1, OwnerID: 1, Text: "a", Tags: []string{"home"}},
	})

	if err := e.AddTag(context.Background(), 1, "work"); err != nil {
		t.Fatalf("AddTag failed: %v", err)
	}
	if len(fs.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(fs.updates))
	}
	got := fs.updates[0].patch.Tags
	if got == nil || len(*got) != 2 || (*got)[0] != "home" || (*got)[1] != "work" {
		t.Fatalf("expected tags [home work], got %v", got)
	}

	// adding the same tag again must not issue a remote call;
	// simulate the confirmed push first
	e.Replace([]model.Task{
		{ID: 1, OwnerID: 1, Text: "a", Tags: []string{"home", "work"}},
	})
	if err := e.AddTag(context.Background(), 1, "work"); err != nil {
		t.Fatalf("duplicate AddTag should be a no-op, got %v", err)
	}
	if len(fs.updates) != 1 {
		t.Fatalf("duplicate tag must not reach the store, got %d updates", len(fs.updates))
	}
}

func TestAddTagValidation(t *testing.T) {
	e, fs := mutationEngine([]model.Task{{ID: 1, OwnerID: 1, Text: "a"}})

	err := e.AddTag(context.Background(), 1, "  ")
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error for blank tag, got %v", err)
	}
	if len(fs.updates) != 0 {
		t.Fatalf("blank tag must not reach the store")
	}
}

func TestRemoveTag(t *testing.T) {
	e, fs := mutationEngine([]model.Task{
		{ID: 1, OwnerID: 1, Text: "a", Tags: []string{"home", "work"}},
	})

	if err := e.RemoveTag(context.Background(), 1, "home"); err != nil {
		t.Fatalf("RemoveTag failed: %v", err)
	}
	if len(fs.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(fs.updates))
	}
	got := fs.updates[0].patch.Tags
	if got == nil || len(*got) != 1 || (*got)[0] != "work" {
		t.Fatalf("expected tags [work], got %v", got)
	}

	// removing a nonexistent tag is a no-op
	if err := e.RemoveTag(context.Background(), 1, "garden"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if len(fs.updates) != 1 {
		t.Fatalf("nonexistent tag removal must not reach the store")
	}
}

func TestClearCompleted(t *testing.T) {
	e, fs := mutationEngine([]model.Task{
		{ID: 1, OwnerID: 1, Text: "a", Completed: true},
		{ID: 2, OwnerID: 1, Text: "b", Completed: false},
		{ID: 3, OwnerID: 1, Text: "c", Completed: true},
		{ID: 4, OwnerID: 2, Text: "d", Completed: true},
	})
	e.Select(3)

	if err := e.ClearCompleted(context.Background()); err != nil {
		t.Fatalf("ClearCompleted failed: %v", err)
	}
	if len(fs.deletes) != 2 {
		t.Fatalf("expected exactly one delete per completed task, got %v", fs.deletes)
	}
	seen := map[int64]bool{}
	for _, id := range fs.deletes {
		seen[id] = true
	}
	if !seen[1] || !seen[3] {
		t.Fatalf("expected deletes for tasks 1 and 3, got %v", fs.deletes)
	}
	if sel := e.Selected(); sel != nil {
		t.Fatalf("expected selection of completed task cleared, got %v", sel)
	}
}

func TestClearCompletedWithNoneCompleted(t *testing.T) {
	e, fs := mutationEngine([]model.Task{
		{ID: 1, OwnerID: 1, Text: "a", Completed: false},
	})

	if err := e.ClearCompleted(context.Background()); err != nil {
		t.Fatalf("ClearCompleted failed: %v", err)
	}
	if len(fs.deletes) != 0 {
		t.Fatalf("expected zero deletes, got %v", fs.deletes)
	}
}

func TestClearCompletedToleratesPartialFailure(t *testing.T) {
	e, fs := mutationEngine([]model.Task{
		{ID: 1, OwnerID: 1, Text: "a", Completed: true},
		{ID: 2, OwnerID: 1, Text: "b", Completed: true},
	})
	fs.deleteErr = errors.New("transport down")

	// 部分失败不汇总上报
	if err := e.ClearCompleted(context.Background()); err != nil {
		t.Fatalf("expected no aggregate error, got %v", err)
	}
}

func TestDeleteTaskClearsSelection(t *testing.T) {
	e, fs := mutationEngine([]model.Task{{ID: 1, OwnerID: 1, Text: "a"}})
	e.Select(1)

	if err := e.DeleteTask(context.Background(), 1); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if len(fs.deletes) != 1 || fs.deletes[0] != 1 {
		t.Fatalf("expected delete of task 1, got %v", fs.deletes)
	}
	if sel := e.Selected(); sel != nil {
		t.Fatalf("expected selection cleared, got %v", sel)
	}
}
