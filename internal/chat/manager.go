package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionFactory 会话工厂函数
type SessionFactory func(userId int64) *Session

// SessionManager 会话编排器管理器
// 按用户管理 Session 实例的生命周期，空闲超时自动回收
// 以释放其持有的通道订阅
type SessionManager struct {
	mu       sync.Mutex
	sessions map[int64]*Session

	factory     SessionFactory
	idleTimeout time.Duration
	evictTicker *time.Ticker

	logger *slog.Logger
}

// NewSessionManager 创建会话管理器
func NewSessionManager(factory SessionFactory, idleTimeout, checkInterval time.Duration) *SessionManager {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	if checkInterval <= 0 {
		checkInterval = 5 * time.Minute
	}

	m := &SessionManager{
		sessions:    make(map[int64]*Session),
		factory:     factory,
		idleTimeout: idleTimeout,
		evictTicker: time.NewTicker(checkInterval),
		logger:      slog.Default().With("component", "SessionManager"),
	}

	go m.evictLoop()

	return m
}

// GetOrCreate 获取或创建用户的会话编排器
// 新建的会话会完成用户通道订阅和会话列表加载
func (m *SessionManager) GetOrCreate(ctx context.Context, userId int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[userId]; ok {
		return sess, nil
	}

	sess := m.factory(userId)
	if err := sess.Start(ctx); err != nil {
		sess.Close()
		return nil, err
	}

	m.sessions[userId] = sess
	m.logger.Info("Session created", "userId", userId)

	return sess, nil
}

// Get 获取用户的会话编排器
func (m *SessionManager) Get(userId int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[userId]
	return sess, ok
}

// Remove 移除并关闭用户的会话编排器
func (m *SessionManager) Remove(userId int64) {
	m.mu.Lock()
	sess, ok := m.sessions[userId]
	delete(m.sessions, userId)
	m.mu.Unlock()

	if ok {
		sess.Close()
		m.logger.Info("Session removed", "userId", userId)
	}
}

// Count 返回当前会话数
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// evictLoop 空闲回收循环
func (m *SessionManager) evictLoop() {
	for range m.evictTicker.C {
		m.evictIdle()
	}
}

// evictIdle 回收超过空闲时限的会话
func (m *SessionManager) evictIdle() {
	now := time.Now()

	m.mu.Lock()
	toEvict := make([]*Session, 0)
	for userId, sess := range m.sessions {
		if now.Sub(sess.LastActive()) > m.idleTimeout {
			toEvict = append(toEvict, sess)
			delete(m.sessions, userId)
		}
	}
	m.mu.Unlock()

	for _, sess := range toEvict {
		sess.Close()
		m.logger.Info("Evicted idle session",
			"userId", sess.userId,
			"lastActive", sess.LastActive())
	}
}

// Shutdown 关闭管理器并释放所有会话
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.evictTicker.Stop()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[int64]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}

	m.logger.Info("SessionManager shutdown complete")
	return nil
}
