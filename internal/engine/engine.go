package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskhub/internal/model"
	"taskhub/internal/store"
	"taskhub/pkg/metrics"
)

// Store 引擎需要的存储变更操作子集
type Store interface {
	Create(ctx context.Context, fields store.TaskFields) (int64, error)
	Update(ctx context.Context, id int64, patch store.TaskPatch) error
	Delete(ctx context.Context, id int64) error
}

// Engine 任务投影引擎。持有订阅推送来的权威内存集合，
// 按需派生过滤/搜索/排序视图、标签索引和到期提醒。
// 引擎从不落盘：存储是权威，每次推送整体替换集合。
type Engine struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu            sync.RWMutex
	identity      *model.Identity
	tasks         []model.Task
	notifications []model.Notification
	filter        Filter
	search        string
	sortMethod    SortMethod
	selectedID    int64
}

func NewEngine(s Store, log *zap.Logger) *Engine {
	return &Engine{
		store:      s,
		logger:     log,
		now:        time.Now,
		filter:     FilterAll,
		sortMethod: SortDefault,
	}
}

// SetIdentity 切换当前身份。集合与视图状态对应旧身份，立即清空；
// 新集合由新身份的订阅推送补齐。
func (e *Engine) SetIdentity(identity *model.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.identity = identity
	e.tasks = nil
	e.notifications = nil
	e.selectedID = 0
	e.updateNotificationGauge()
}

// Replace 用一次订阅推送整体替换内存集合，读者不会观察到部分更新
func (e *Engine) Replace(tasks []model.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tasks = tasks
	if e.identity != nil {
		e.notifications = deriveNotifications(tasks, e.identity.ID, e.now())
	} else {
		e.notifications = nil
	}
	e.updateNotificationGauge()

	if e.selectedID != 0 && e.findLocked(e.selectedID) == nil {
		e.selectedID = 0
	}

	e.logger.Debug("Collection replaced",
		zap.Int("count", len(tasks)),
		zap.Int("notifications", len(e.notifications)),
	)
}

func (e *Engine) SetFilter(f Filter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filter = f
}

func (e *Engine) SetSearch(query string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.search = query
}

func (e *Engine) SetSort(method SortMethod) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sortMethod = method
}

// Select 选中任务用于详情展示，id 不存在时清除选中
func (e *Engine) Select(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.findLocked(id) == nil {
		e.selectedID = 0
		return
	}
	e.selectedID = id
}

// Selected 返回当前选中任务的副本，无选中时为 nil
func (e *Engine) Selected() *model.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t := e.findLocked(e.selectedID)
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

// Filtered 运行派生管线：归属过滤 → 分类过滤 → 搜索 → 排序。
// 每次调用都基于最新集合和当前视图状态重新计算。
func (e *Engine) Filtered() []model.Task {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.identity == nil {
		return []model.Task{}
	}

	now := e.now()
	query := strings.ToLower(strings.TrimSpace(e.search))

	result := make([]model.Task, 0, len(e.tasks))
	for i := range e.tasks {
		t := &e.tasks[i]
		// 服务端按 owner 过滤之外的纵深防御
		if t.OwnerID != e.identity.ID {
			continue
		}
		if !e.filter.matches(t, now) {
			continue
		}
		if query != "" && !matchesSearch(t, query) {
			continue
		}
		result = append(result, *t)
	}

	sortTasks(result, e.sortMethod)
	metrics.RecordProjectionRebuild(time.Since(start))
	return result
}

// Tags 当前身份所有任务的去重标签索引，按字典序返回
func (e *Engine) Tags() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.identity == nil {
		return []string{}
	}

	seen := make(map[string]struct{})
	for i := range e.tasks {
		t := &e.tasks[i]
		if t.OwnerID != e.identity.ID {
			continue
		}
		for _, tag := range t.Tags {
			seen[tag] = struct{}{}
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Notifications 返回最近一次集合替换派生出的提醒集合
func (e *Engine) Notifications() []model.Notification {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result := make([]model.Notification, len(e.notifications))
	copy(result, e.notifications)
	return result
}

// Tasks 返回原始集合的副本
func (e *Engine) Tasks() []model.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result := make([]model.Task, len(e.tasks))
	copy(result, e.tasks)
	return result
}

func (e *Engine) findLocked(id int64) *model.Task {
	if id == 0 {
		return nil
	}
	for i := range e.tasks {
		if e.tasks[i].ID == id {
			return &e.tasks[i]
		}
	}
	return nil
}

func (e *Engine) updateNotificationGauge() {
	counts := map[model.Bucket]int{
		model.BucketOverdue:  0,
		model.BucketToday:    0,
		model.BucketTomorrow: 0,
	}
	for _, n := range e.notifications {
		counts[n.Bucket] = n.Count
	}
	for bucket, count := range counts {
		metrics.SetActiveNotifications(string(bucket), count)
	}
}
