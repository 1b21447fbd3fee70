package engine

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"taskhub/internal/model"
)

// 测试用固定时钟：2024-05-15 12:00 本地时间
var fixedNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.Local)

func timePtr(t time.Time) *time.Time {
	return &t
}

func testEngine(tasks []model.Task) *Engine {
	e := NewEngine(nil, zap.NewNop())
	e.now = func() time.Time { return fixedNow }
	e.SetIdentity(&model.Identity{ID: 1})
	e.Replace(tasks)
	return e
}

func fixtureTasks() []model.Task {
	yesterday := fixedNow.AddDate(0, 0, -1)
	todayAfternoon := time.Date(2024, 5, 15, 15, 0, 0, 0, time.Local)
	tomorrowMorning := time.Date(2024, 5, 16, 10, 0, 0, 0, time.Local)

	return []model.Task{
		{ID: 1, OwnerID: 1, Text: "Water plants", Priority: model.PriorityLow},
		{ID: 2, OwnerID: 1, Text: "Ship release", Priority: model.PriorityHigh, Completed: true},
		{ID: 3, OwnerID: 1, Text: "Pick up parcel", Priority: model.PriorityMedium, DueDate: timePtr(todayAfternoon), Tags: []string{"errand"}},
		{ID: 4, OwnerID: 1, Text: "Prepare slides", Priority: model.PriorityHigh, DueDate: timePtr(tomorrowMorning)},
		{ID: 5, OwnerID: 1, Text: "Renew passport", Priority: model.PriorityLow, DueDate: timePtr(yesterday)},
		{ID: 6, OwnerID: 1, Text: "Old chore", Priority: model.PriorityMedium, Completed: true, DueDate: timePtr(yesterday)},
		{ID: 7, OwnerID: 1, Text: "Tidy desk", Priority: model.PriorityMedium, Tags: []string{"work", "home"}},
		{ID: 8, OwnerID: 2, Text: "Someone else's task", Priority: model.PriorityHigh},
	}
}

func filteredIDs(e *Engine) []int64 {
	tasks := e.Filtered()
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func assertIDs(t *testing.T, got []int64, want ...int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected ids %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ids %v, got %v", want, got)
		}
	}
}

func TestCategoryFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"all", FilterAll, []int64{1, 2, 3, 4, 5, 6, 7}},
		{"active", FilterActive, []int64{1, 3, 4, 5, 7}},
		{"completed", FilterCompleted, []int64{2, 6}},
		{"priority high", FilterPriorityHigh, []int64{2, 4}},
		{"priority medium", FilterPriorityMedium, []int64{3, 6, 7}},
		{"priority low", FilterPriorityLow, []int64{1, 5}},
		{"due today", FilterDueToday, []int64{3}},
		{"due upcoming", FilterDueUpcoming, []int64{4}},
		{"overdue", FilterDueOverdue, []int64{5}},
		{"tag exact", TagFilter("work"), []int64{7}},
		{"tag case sensitive", TagFilter("Work"), nil},
		{"tag unknown", TagFilter("garden"), nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := testEngine(fixtureTasks())
			e.SetFilter(tc.filter)
			assertIDs(t, filteredIDs(e), tc.want...)
		})
	}
}

func TestOwnershipFilter(t *testing.T) {
	e := testEngine(fixtureTasks())
	for _, task := range e.Filtered() {
		if task.OwnerID != 1 {
			t.Errorf("task %d with owner %d leaked into projection", task.ID, task.OwnerID)
		}
	}

	// 无身份时投影为空
	e.SetIdentity(nil)
	if got := e.Filtered(); len(got) != 0 {
		t.Errorf("expected empty projection without identity, got %d tasks", len(got))
	}
}

func TestUpcomingAndTodayDoNotOverlap(t *testing.T) {
	e := testEngine(fixtureTasks())

	e.SetFilter(FilterDueToday)
	today := filteredIDs(e)
	e.SetFilter(FilterDueUpcoming)
	upcoming := filteredIDs(e)

	for _, id := range today {
		for _, other := range upcoming {
			if id == other {
				t.Fatalf("task %d appears in both today and upcoming", id)
			}
		}
	}
}

func TestSearch(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, OwnerID: 1, Text: "Buy milk", Priority: model.PriorityLow},
		{ID: 2, OwnerID: 1, Text: "File taxes", Priority: model.PriorityHigh, Description: "before the deadline"},
		{ID: 3, OwnerID: 1, Text: "Call bank", Priority: model.PriorityMedium, Tags: []string{"finance"}},
	}

	tests := []struct {
		name  string
		query string
		want  []int64
	}{
		{"matches text case-insensitive", "TAX", []int64{2}},
		{"matches description", "deadline", []int64{2}},
		{"matches tag substring", "fin", []int64{3}},
		{"empty returns all", "", []int64{1, 2, 3}},
		{"whitespace only returns all", "   ", []int64{1, 2, 3}},
		{"no match", "xyz", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := testEngine(tasks)
			e.SetSearch(tc.query)
			assertIDs(t, filteredIDs(e), tc.want...)
		})
	}
}

func TestSortPriority(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, OwnerID: 1, Text: "low one", Priority: model.PriorityLow},
		{ID: 2, OwnerID: 1, Text: "medium one", Priority: model.PriorityMedium},
		{ID: 3, OwnerID: 1, Text: "high one", Priority: model.PriorityHigh},
		{ID: 4, OwnerID: 1, Text: "high two", Priority: model.PriorityHigh},
	}
	e := testEngine(tasks)
	e.SetSort(SortPriority)

	// 稳定排序：同优先级保持输入顺序
	assertIDs(t, filteredIDs(e), 3, 4, 2, 1)
}

func TestSortAlphabeticalIdempotent(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, OwnerID: 1, Text: "banana", Priority: model.PriorityLow},
		{ID: 2, OwnerID: 1, Text: "Apple", Priority: model.PriorityLow},
		{ID: 3, OwnerID: 1, Text: "cherry", Priority: model.PriorityLow},
	}
	e := testEngine(tasks)
	e.SetSort(SortAlphabetical)

	first := filteredIDs(e)
	assertIDs(t, first, 2, 1, 3)

	// sorting an already-sorted list again yields the same order
	second := filteredIDs(e)
	assertIDs(t, second, first...)
}

func TestSortDueDatePlacesUndatedLast(t *testing.T) {
	early := time.Date(2024, 5, 10, 9, 0, 0, 0, time.Local)
	late := time.Date(2024, 5, 20, 9, 0, 0, 0, time.Local)

	tasks := []model.Task{
		{ID: 1, OwnerID: 1, Text: "no due a", Priority: model.PriorityLow},
		{ID: 2, OwnerID: 1, Text: "late", Priority: model.PriorityLow, DueDate: timePtr(late)},
		{ID: 3, OwnerID: 1, Text: "no due b", Priority: model.PriorityLow},
		{ID: 4, OwnerID: 1, Text: "early", Priority: model.PriorityLow, DueDate: timePtr(early)},
	}
	e := testEngine(tasks)
	e.SetSort(SortDueDate)

	got := filteredIDs(e)
	assertIDs(t, got, 4, 2, 1, 3)
}

func TestSortCreationDateDescending(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, OwnerID: 1, Text: "oldest", Priority: model.PriorityLow, CreatedAt: fixedNow.AddDate(0, 0, -3)},
		{ID: 2, OwnerID: 1, Text: "newest", Priority: model.PriorityLow, CreatedAt: fixedNow.AddDate(0, 0, -1)},
		{ID: 3, OwnerID: 1, Text: "middle", Priority: model.PriorityLow, CreatedAt: fixedNow.AddDate(0, 0, -2)},
	}
	e := testEngine(tasks)
	e.SetSort(SortCreationDate)
	assertIDs(t, filteredIDs(e), 2, 3, 1)
}

// Scenario: filter=active, sort=priority over a two-task list.
func TestActivePrioritySorting(t *testing.T) {
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	tasks := []model.Task{
		{ID: 1, OwnerID: 1, Text: "Buy milk", Priority: model.PriorityLow},
		{ID: 2, OwnerID: 1, Text: "File taxes", Priority: model.PriorityHigh, DueDate: timePtr(due)},
	}
	e := testEngine(tasks)
	e.SetFilter(FilterActive)
	e.SetSort(SortPriority)

	got := e.Filtered()
	if len(got) != 2 || got[0].Text != "File taxes" || got[1].Text != "Buy milk" {
		t.Fatalf("expected [File taxes, Buy milk], got %v", got)
	}

	// search "tax" narrows it to the single matching task
	e.SetSearch("tax")
	got = e.Filtered()
	if len(got) != 1 || got[0].Text != "File taxes" {
		t.Fatalf("expected only File taxes for query 'tax', got %v", got)
	}
}

func TestTagIndex(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, OwnerID: 1, Text: "a", Priority: model.PriorityLow, Tags: []string{"work", "home"}},
		{ID: 2, OwnerID: 1, Text: "b", Priority: model.PriorityLow, Tags: []string{"work", "errand"}},
		{ID: 3, OwnerID: 2, Text: "c", Priority: model.PriorityLow, Tags: []string{"other"}},
	}
	e := testEngine(tasks)

	got := e.Tags()
	want := []string{"errand", "home", "work"}
	if len(got) != len(want) {
		t.Fatalf("expected tags %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected tags %v, got %v", want, got)
		}
	}
}

func TestSelection(t *testing.T) {
	e := testEngine(fixtureTasks())

	e.Select(3)
	if sel := e.Selected(); sel == nil || sel.ID != 3 {
		t.Fatalf("expected task 3 selected, got %v", sel)
	}

	// 选中的任务从集合中消失后选中被清除
	e.Replace([]model.Task{{ID: 1, OwnerID: 1, Text: "only", Priority: model.PriorityLow}})
	if sel := e.Selected(); sel != nil {
		t.Fatalf("expected selection cleared, got task %d", sel.ID)
	}

	e.Select(99)
	if sel := e.Selected(); sel != nil {
		t.Fatalf("selecting unknown id should clear selection, got task %d", sel.ID)
	}
}
