package prefs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskhub/internal/model"
)

// Store 每用户主题偏好（light/dark），存放在 Redis。
// Redis 不可达时降级为进程内存：记一条非阻塞的提示日志，
// 功能继续可用，偏好只在本次运行内生效。
type Store struct {
	rdb      *redis.Client
	logger   *zap.Logger
	degraded bool

	mu       sync.RWMutex
	fallback map[int]model.Theme
}

func NewStore(rdb *redis.Client, log *zap.Logger) *Store {
	s := &Store{
		rdb:      rdb,
		logger:   log,
		fallback: make(map[int]model.Theme),
	}

	if rdb == nil {
		s.degraded = true
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			s.degraded = true
			log.Warn("Preference storage unavailable, theme falls back to in-memory default",
				zap.Error(err),
			)
		}
	}
	return s
}

// Degraded reports whether preferences are being kept in memory only.
func (s *Store) Degraded() bool {
	return s.degraded
}

// Get 读取用户主题，未设置或读取失败时返回默认 light
func (s *Store) Get(ctx context.Context, userID int) model.Theme {
	if s.degraded {
		return s.fromFallback(userID)
	}

	value, err := s.rdb.Get(ctx, themeKey(userID)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Failed to read theme preference",
				zap.Error(err),
				zap.Int("user_id", userID),
			)
			return s.fromFallback(userID)
		}
		return model.ThemeLight
	}

	theme := model.Theme(value)
	if theme != model.ThemeDark && theme != model.ThemeLight {
		return model.ThemeLight
	}
	return theme
}

// Set 写入用户主题，降级模式下只更新内存副本
func (s *Store) Set(ctx context.Context, userID int, theme model.Theme) error {
	s.mu.Lock()
	s.fallback[userID] = theme
	s.mu.Unlock()

	if s.degraded {
		return nil
	}

	if err := s.rdb.Set(ctx, themeKey(userID), string(theme), 0).Err(); err != nil {
		s.logger.Warn("Failed to persist theme preference",
			zap.Error(err),
			zap.Int("user_id", userID),
		)
		return err
	}
	return nil
}

// Toggle 在 light/dark 之间切换并写回
func (s *Store) Toggle(ctx context.Context, userID int) model.Theme {
	next := model.ThemeDark
	if s.Get(ctx, userID) == model.ThemeDark {
		next = model.ThemeLight
	}
	_ = s.Set(ctx, userID, next)
	return next
}

func (s *Store) fromFallback(userID int) model.Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if theme, ok := s.fallback[userID]; ok {
		return theme
	}
	return model.ThemeLight
}

func themeKey(userID int) string {
	return fmt.Sprintf("theme:%d", userID)
}
