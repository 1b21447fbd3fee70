package session

import (
	"context"
	"time"

	"taskhub/internal/model"
)

// Session 身份提供方签发的完整会话状态
type Session struct {
	Identity  model.Identity
	Token     string
	ExpiresAt time.Time
}

// Unwatch 取消身份变更订阅
type Unwatch func()

// Provider 外部身份提供方的抽象契约。
// Watch 回调在每次身份变更时投递完整的新会话状态（登出 / 过期时为 nil），
// 不是增量补丁；登录、登出、令牌过期都会触发。
type Provider interface {
	Login(ctx context.Context, email, password string) (*Session, error)
	Register(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	Watch(onChange func(*Session)) Unwatch
}
