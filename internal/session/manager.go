package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"taskhub/internal/apperr"
	"taskhub/internal/model"
)

// Manager 跟踪当前已认证身份，一个运行实例至多一个会话。
// 所有状态变更都经由 Provider.Watch 回调进入，Login/Logout 只负责
// 触发提供方流程和维护错误消息。
type Manager struct {
	provider Provider
	logger   *zap.Logger

	mu           sync.RWMutex
	current      *Session
	authErr      string
	listeners    map[int]func(*model.Identity)
	nextListener int
	unwatch      Unwatch
}

func NewManager(provider Provider, log *zap.Logger) *Manager {
	return &Manager{
		provider:  provider,
		logger:    log,
		listeners: make(map[int]func(*model.Identity)),
	}
}

// Start 打开对身份提供方状态变更的持续订阅
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unwatch != nil {
		return
	}
	m.unwatch = m.provider.Watch(m.handleProviderChange)
}

// Close releases the identity-change subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	unwatch := m.unwatch
	m.unwatch = nil
	m.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

// Login 发起登录流程。失败时记录一条持续展示的错误消息，
// 直到下一次登录尝试才清除；会话状态经由 Watch 回调更新。
func (m *Manager) Login(ctx context.Context, email, password string) error {
	m.mu.Lock()
	m.authErr = ""
	m.mu.Unlock()

	if _, err := m.provider.Login(ctx, email, password); err != nil {
		m.mu.Lock()
		m.authErr = err.Error()
		m.mu.Unlock()
		m.logger.Warn("Login failed", zap.Error(err))
		if apperr.IsAuth(err) {
			return err
		}
		return apperr.Auth("session.Login", err)
	}
	return nil
}

// Register 注册新用户并建立会话
func (m *Manager) Register(ctx context.Context, email, password string) error {
	m.mu.Lock()
	m.authErr = ""
	m.mu.Unlock()

	if _, err := m.provider.Register(ctx, email, password); err != nil {
		m.mu.Lock()
		m.authErr = err.Error()
		m.mu.Unlock()
		m.logger.Warn("Register failed", zap.Error(err))
		if apperr.IsAuth(err) {
			return err
		}
		return apperr.Auth("session.Register", err)
	}
	return nil
}

// Logout 清除会话。即使提供方侧失败，本地会话状态也总是被清除。
func (m *Manager) Logout(ctx context.Context) error {
	err := m.provider.SignOut(ctx)

	m.mu.Lock()
	m.current = nil
	if err != nil {
		m.authErr = err.Error()
	}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Provider sign-out failed, local session cleared anyway", zap.Error(err))
		for _, l := range listeners {
			l(nil)
		}
		if apperr.IsAuth(err) {
			return err
		}
		return apperr.Auth("session.Logout", err)
	}
	return nil
}

// Current 返回当前身份，未登录时为 nil
func (m *Manager) Current() *model.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	identity := m.current.Identity
	return &identity
}

// Session returns the full current session, nil when absent.
func (m *Manager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// AuthError 返回最近一次登录失败的内联错误消息
func (m *Manager) AuthError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authErr
}

// OnChange 注册身份变更监听，立即可用；返回注销函数。
// 每次投递都是完整的身份替换（登出为 nil），不是增量。
func (m *Manager) OnChange(fn func(*model.Identity)) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) handleProviderChange(sess *Session) {
	m.mu.Lock()
	m.current = sess
	listeners := m.listenersLocked()
	m.mu.Unlock()

	if sess == nil {
		m.logger.Info("Identity cleared")
		for _, l := range listeners {
			l(nil)
		}
		return
	}

	m.logger.Info("Identity updated",
		zap.Int("user_id", sess.Identity.ID),
		zap.String("email", sess.Identity.Email),
	)
	for _, l := range listeners {
		identity := sess.Identity
		l(&identity)
	}
}

func (m *Manager) listenersLocked() []func(*model.Identity) {
	listeners := make([]func(*model.Identity), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}
