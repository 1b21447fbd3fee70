package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"taskhub/internal/engine"
	"taskhub/internal/model"
	"taskhub/internal/notify"
	"taskhub/internal/session"
	"taskhub/internal/store"
)

// App 组合根拥有的运行时协调器：身份建立后打开按该身份过滤的
// 任务订阅，每次推送整体替换引擎集合并转发提醒汇总；
// 身份清除时释放订阅。订阅句柄的生命周期与当前身份一致。
type App struct {
	session  *session.Manager
	store    store.TaskStore
	engine   *engine.Engine
	notifier *notify.Publisher
	logger   *zap.Logger

	mu          sync.Mutex
	unsubscribe store.Unsubscribe
	unregister  func()
}

func New(sess *session.Manager, taskStore store.TaskStore, eng *engine.Engine, notifier *notify.Publisher, log *zap.Logger) *App {
	return &App{
		session:  sess,
		store:    taskStore,
		engine:   eng,
		notifier: notifier,
		logger:   log,
	}
}

// Start 接通 会话 → 订阅 → 引擎 的数据流
func (a *App) Start(ctx context.Context) {
	unregister := a.session.OnChange(func(identity *model.Identity) {
		a.handleIdentityChange(ctx, identity)
	})

	a.mu.Lock()
	a.unregister = unregister
	a.mu.Unlock()

	a.session.Start()
	a.logger.Info("Application coordinator started")
}

// Close 释放订阅和监听，幂等
func (a *App) Close() {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	unregister := a.unregister
	a.unsubscribe = nil
	a.unregister = nil
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if unregister != nil {
		unregister()
	}
	a.session.Close()
	a.logger.Info("Application coordinator stopped")
}

func (a *App) handleIdentityChange(ctx context.Context, identity *model.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 旧身份的订阅必须先释放
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}

	a.engine.SetIdentity(identity)
	if identity == nil {
		a.logger.Info("Identity absent, task feed closed")
		return
	}

	ownerID := identity.ID
	unsubscribe, err := a.store.Subscribe(ctx, ownerID, func(tasks []model.Task) {
		a.engine.Replace(tasks)
		a.notifier.PublishSummaries(ownerID, a.engine.Notifications())
	})
	if err != nil {
		// 不重试：投影保持为空，直到下一次身份变更
		a.logger.Error("Failed to open task feed",
			zap.Error(err),
			zap.Int("owner_id", ownerID),
		)
		return
	}
	a.unsubscribe = unsubscribe
	a.logger.Info("Task feed opened", zap.Int("owner_id", ownerID))
}
