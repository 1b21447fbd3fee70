package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"taskhub/internal/apperr"
	"taskhub/internal/model"
	"taskhub/internal/repository"
	"taskhub/internal/util"
)

// CredentialsProvider 基于用户表和 JWT 的身份提供方实现。
// 令牌到期视为提供方侧登出，通过 Watch 投递 nil 会话。
type CredentialsProvider struct {
	userRepo  *repository.UserRepository
	jwtSecret string
	tokenTTL  time.Duration
	logger    *zap.Logger

	mu          sync.Mutex
	current     *Session
	expiryTimer *time.Timer
	watchers    map[int]func(*Session)
	nextWatcher int
}

func NewCredentialsProvider(userRepo *repository.UserRepository, jwtSecret string, tokenTTL time.Duration, log *zap.Logger) *CredentialsProvider {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &CredentialsProvider{
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    log,
		watchers:  make(map[int]func(*Session)),
	}
}

// Login checks user credentials and establishes a session.
func (p *CredentialsProvider) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := p.userRepo.FindByEmail(ctx, email)
	if err != nil {
		p.logger.Warn("Login rejected", zap.String("email", email))
		return nil, apperr.Auth("session.Login", errors.New("invalid email or password"))
	}

	if !util.CheckPassword(password, u.PasswordHash) {
		p.logger.Warn("Login rejected", zap.String("email", email))
		return nil, apperr.Auth("session.Login", errors.New("invalid email or password"))
	}

	return p.establish(u)
}

// Register creates a new user and establishes a session.
func (p *CredentialsProvider) Register(ctx context.Context, email, password string) (*Session, error) {
	existing, err := p.userRepo.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Auth("session.Register", err)
	}
	if existing != nil {
		return nil, apperr.Auth("session.Register", errors.New("email already exists"))
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, apperr.Auth("session.Register", err)
	}

	u := &model.User{
		Email:        email,
		DisplayName:  displayNameFromEmail(email),
		PasswordHash: hash,
	}
	if err := p.userRepo.CreateUser(ctx, u); err != nil {
		return nil, apperr.Auth("session.Register", err)
	}

	p.logger.Info("User registered", zap.Int("user_id", u.ID), zap.String("email", email))
	return p.establish(u)
}

// SignOut clears the provider-side session.
func (p *CredentialsProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	if p.expiryTimer != nil {
		p.expiryTimer.Stop()
		p.expiryTimer = nil
	}
	p.current = nil
	watchers := p.watchersLocked()
	p.mu.Unlock()

	p.logger.Info("Signed out")
	for _, w := range watchers {
		w(nil)
	}
	return nil
}

// Watch 注册身份变更回调，返回的 Unwatch 用于注销
func (p *CredentialsProvider) Watch(onChange func(*Session)) Unwatch {
	p.mu.Lock()
	id := p.nextWatcher
	p.nextWatcher++
	p.watchers[id] = onChange
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}

func (p *CredentialsProvider) establish(u *model.User) (*Session, error) {
	token, err := util.GenerateJWT(u.ID, p.jwtSecret, p.tokenTTL)
	if err != nil {
		return nil, apperr.Auth("session.Login", err)
	}
	_, expiresAt, err := util.ParseJWT(token, p.jwtSecret)
	if err != nil {
		return nil, apperr.Auth("session.Login", err)
	}

	sess := &Session{
		Identity:  identityOf(u),
		Token:     token,
		ExpiresAt: expiresAt,
	}

	p.mu.Lock()
	if p.expiryTimer != nil {
		p.expiryTimer.Stop()
	}
	p.current = sess
	p.expiryTimer = time.AfterFunc(time.Until(expiresAt), p.expire)
	watchers := p.watchersLocked()
	p.mu.Unlock()

	p.logger.Info("Session established",
		zap.Int("user_id", u.ID),
		zap.Time("expires_at", expiresAt),
	)
	for _, w := range watchers {
		w(sess)
	}
	return sess, nil
}

// expire 令牌到期后由定时器触发，等价于提供方侧登出
func (p *CredentialsProvider) expire() {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return
	}
	userID := p.current.Identity.ID
	p.current = nil
	p.expiryTimer = nil
	watchers := p.watchersLocked()
	p.mu.Unlock()

	p.logger.Info("Session expired", zap.Int("user_id", userID))
	for _, w := range watchers {
		w(nil)
	}
}

func (p *CredentialsProvider) watchersLocked() []func(*Session) {
	watchers := make([]func(*Session), 0, len(p.watchers))
	for _, w := range p.watchers {
		watchers = append(watchers, w)
	}
	return watchers
}

func identityOf(u *model.User) model.Identity {
	name := u.DisplayName
	if name == "" {
		name = displayNameFromEmail(u.Email)
	}
	return model.Identity{
		ID:          u.ID,
		DisplayName: name,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		CreatedAt:   u.CreatedAt,
	}
}

func displayNameFromEmail(email string) string {
	return strings.SplitN(email, "@", 2)[0]
}
