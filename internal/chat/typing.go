package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTypingQuietWindow 输入静默窗口
// 本地超过该时长无新输入自动发出 typing-stop；
// 远端条目超过该时长未刷新自动从输入集合中剔除
const DefaultTypingQuietWindow = time.Second

// localTyping 本地输入状态与静默定时器
type localTyping struct {
	active bool
	timer  *time.Timer
}

// TypingTracker 输入状态跟踪器
// 对外发出去抖后的本地输入信号，对内维护各会话
// 正在输入的远端用户集合（带过期时间）
type TypingTracker struct {
	mu          sync.Mutex
	userId      int64
	quietWindow time.Duration
	publisher   TypingPublisher
	logger      *slog.Logger

	nowFn func() time.Time // 可注入时钟，便于过期逻辑的确定性测试

	local  map[int64]*localTyping
	remote map[int64]map[int64]time.Time // conversationId -> userId -> 过期时间
}

// NewTypingTracker 创建输入状态跟踪器
func NewTypingTracker(userId int64, quietWindow time.Duration, publisher TypingPublisher) *TypingTracker {
	if quietWindow <= 0 {
		quietWindow = DefaultTypingQuietWindow
	}

	return &TypingTracker{
		userId:      userId,
		quietWindow: quietWindow,
		publisher:   publisher,
		logger:      slog.Default().With("component", "TypingTracker"),
		nowFn:       time.Now,
		local:       make(map[int64]*localTyping),
		remote:      make(map[int64]map[int64]time.Time),
	}
}

// OnLocalInputChanged 处理本地输入框变化
// 首次出现内容时发出 typing-start 并启动静默定时器，
// 后续输入重置定时器；静默窗口内无新输入自动发出 typing-stop。
// 输入被清空时立即发出 typing-stop。
func (t *TypingTracker) OnLocalInputChanged(conversationId int64, hasContent bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.local[conversationId]
	if !ok {
		st = &localTyping{}
		t.local[conversationId] = st
	}

	if !hasContent {
		t.stopLocalLocked(conversationId, st)
		return
	}

	if !st.active {
		st.active = true
		t.publishLocked(conversationId, true)
	}

	if st.timer == nil {
		st.timer = time.AfterFunc(t.quietWindow, func() {
			t.onQuiet(conversationId)
		})
	} else {
		st.timer.Reset(t.quietWindow)
	}
}

// onQuiet 静默定时器触发
func (t *TypingTracker) onQuiet(conversationId int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.local[conversationId]
	if !ok || !st.active {
		return
	}

	st.active = false
	st.timer = nil
	t.publishLocked(conversationId, false)
}

// stopLocalLocked 取消定时器并发出 typing-stop，调用方必须持有锁
func (t *TypingTracker) stopLocalLocked(conversationId int64, st *localTyping) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if st.active {
		st.active = false
		t.publishLocked(conversationId, false)
	}
}

// publishLocked 发布输入信号，失败仅记录日志
func (t *TypingTracker) publishLocked(conversationId int64, typing bool) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishTyping(conversationId, t.userId, typing); err != nil {
		t.logger.Warn("Failed to publish typing signal",
			"conversationId", conversationId,
			"typing", typing,
			"error", err)
	}
}

// OnRemoteTypingEvent 处理远端输入事件
// typing 为 true 时加入/刷新集合并顺延过期时间，为 false 时立即移除
func (t *TypingTracker) OnRemoteTypingEvent(conversationId, userId int64, typing bool) {
	if userId == t.userId {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.remote[conversationId]
	if !ok {
		if !typing {
			return
		}
		users = make(map[int64]time.Time)
		t.remote[conversationId] = users
	}

	if typing {
		users[userId] = t.nowFn().Add(t.quietWindow)
	} else {
		delete(users, userId)
	}
}

// TypingUsers 返回会话内未过期的正在输入用户集合（升序）
// 读取时顺带剔除过期条目
func (t *TypingTracker) TypingUsers(conversationId int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.remote[conversationId]
	if !ok {
		return nil
	}

	now := t.nowFn()
	out := make([]int64, 0, len(users))
	for userId, expireAt := range users {
		if now.After(expireAt) {
			delete(users, userId)
			continue
		}
		out = append(out, userId)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sweep 剔除所有会话中已过期的远端输入条目
func (t *TypingTracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFn()
	for conversationId, users := range t.remote {
		for userId, expireAt := range users {
			if now.After(expireAt) {
				delete(users, userId)
			}
		}
		if len(users) == 0 {
			delete(t.remote, conversationId)
		}
	}
}

// StartSweeper 启动后台清理协程（阻塞，应在 goroutine 中调用）
func (t *TypingTracker) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.quietWindow
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Reset 清除指定会话的本地输入状态（会话切换时调用）
func (t *TypingTracker) Reset(conversationId int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.local[conversationId]; ok {
		t.stopLocalLocked(conversationId, st)
		delete(t.local, conversationId)
	}
	delete(t.remote, conversationId)
}

// Close 停止所有定时器
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for conversationId, st := range t.local {
		t.stopLocalLocked(conversationId, st)
	}
	t.local = make(map[int64]*localTyping)
	t.remote = make(map[int64]map[int64]time.Time)
}
