package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"sudooom.market.messaging/internal/model"
	"sudooom.market.messaging/internal/transport"
	appErrors "sudooom.market.messaging/pkg/errors"
	"sudooom.market.messaging/pkg/snowflake"
)

// SessionState 会话界面状态
type SessionState int

const (
	StateIdle    SessionState = iota // 未选择会话
	StateLoading                     // 正在加载初始消息
	StateReady                       // 可交互
	StateError                       // 加载失败，可重新选择
)

// String 实现 fmt.Stringer
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// SessionConfig 会话编排器配置
type SessionConfig struct {
	TypingQuietWindow time.Duration
	MaxMessageLength  int
}

// Session 消息编排器
// 组合调和存储、会话列表聚合器和输入状态跟踪器，
// 将 UI 意图路由到对应组件，并独占管理会话选择的
// 生命周期（通道订阅的建立与释放）
type Session struct {
	mu     sync.Mutex
	userId int64
	logger *slog.Logger

	store   *Store
	list    *ListAggregator
	typing  *TypingTracker
	persist PersistenceService
	binder  ChannelBinder

	state      SessionState
	selected   int64
	loadSeq    uint64 // 选择版本号，用于丢弃过期的加载结果
	convUnsubs []transport.Unsubscribe
	userUnsub  transport.Unsubscribe

	lastActive time.Time

	onViewChange func(conversationId int64, view []model.Message)
}

// NewSession 创建消息编排器
func NewSession(userId int64, persist PersistenceService, binder ChannelBinder,
	typingPub TypingPublisher, sf *snowflake.Node, cfg SessionConfig) *Session {

	s := &Session{
		userId:     userId,
		logger:     slog.Default().With("component", "Session", "userId", userId),
		persist:    persist,
		binder:     binder,
		state:      StateIdle,
		lastActive: time.Now(),
	}

	s.store = NewStore(userId, persist, sf, StoreConfig{MaxMessageLength: cfg.MaxMessageLength})
	s.list = NewListAggregator(userId)
	s.typing = NewTypingTracker(userId, cfg.TypingQuietWindow, typingPub)

	s.store.SetOnChange(s.notifyViewChange)

	return s
}

// SetOnViewChange 注册合并视图变更回调（用于向 UI 推送）
func (s *Session) SetOnViewChange(fn func(conversationId int64, view []model.Message)) {
	s.mu.Lock()
	s.onViewChange = fn
	s.mu.Unlock()
}

// notifyViewChange 调和存储变更后重算视图并推送
func (s *Session) notifyViewChange(conversationId int64) {
	s.mu.Lock()
	fn := s.onViewChange
	s.mu.Unlock()

	if fn != nil {
		fn(conversationId, s.store.View(conversationId))
	}
}

// Start 建立用户通道订阅并加载会话列表
func (s *Session) Start(ctx context.Context) error {
	unsub, err := s.binder.Bind(
		transport.BuildUserSubject(s.userId),
		transport.EventNewMessageNotification,
		s.handleNotification,
	)
	if err != nil {
		return appErrors.ErrTransportError.Wrap(err)
	}

	s.mu.Lock()
	s.userUnsub = unsub
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// Refresh 重新加载会话列表
func (s *Session) Refresh(ctx context.Context) error {
	conversations, err := s.persist.ListConversations(ctx, s.userId, "")
	if err != nil {
		return err
	}

	s.list.SetConversations(conversations)
	return nil
}

// Select 切换选中的会话，传 0 表示取消选择
// 先解除旧会话的通道订阅、再建立新订阅，这个顺序是强制的：
// 否则两个会话的事件处理器会产生串扰
func (s *Session) Select(ctx context.Context, conversationId int64) error {
	s.mu.Lock()
	s.touchLocked()

	prev := s.selected
	s.teardownConversationLocked()

	if prev != 0 {
		s.typing.Reset(prev)
	}

	if conversationId == 0 {
		s.state = StateIdle
		s.selected = 0
		s.list.SetOpen(0)
		s.mu.Unlock()
		return nil
	}

	if !s.list.Contains(conversationId) {
		s.state = StateIdle
		s.selected = 0
		s.list.SetOpen(0)
		s.mu.Unlock()
		return appErrors.ErrNotParticipant
	}

	s.selected = conversationId
	s.state = StateLoading
	s.loadSeq++
	seq := s.loadSeq
	s.list.SetOpen(conversationId)
	s.mu.Unlock()

	go s.load(context.WithoutCancel(ctx), conversationId, seq)

	return nil
}

// load 加载会话初始消息并建立会话通道订阅
func (s *Session) load(ctx context.Context, conversationId int64, seq uint64) {
	msgs, err := s.persist.ListMessages(ctx, conversationId)

	s.mu.Lock()
	if s.loadSeq != seq || s.selected != conversationId {
		// 选择已经变化，丢弃过期结果
		s.mu.Unlock()
		s.logger.Debug("Discarding stale load result", "conversationId", conversationId)
		return
	}

	if err != nil {
		s.state = StateError
		s.mu.Unlock()
		s.logger.Warn("Failed to load conversation messages",
			"conversationId", conversationId,
			"error", err)
		return
	}
	s.mu.Unlock()

	s.store.LoadConfirmed(conversationId, msgs)

	subject := transport.BuildConversationSubject(conversationId)
	unsubs := make([]transport.Unsubscribe, 0, 3)

	bindings := []struct {
		event   string
		handler func(data []byte)
	}{
		{transport.EventNewMessage, func(data []byte) { s.handleConversationMessage(conversationId, data) }},
		{transport.EventTypingStart, func(data []byte) { s.handleTyping(data, true) }},
		{transport.EventTypingStop, func(data []byte) { s.handleTyping(data, false) }},
	}

	for _, b := range bindings {
		unsub, err := s.binder.Bind(subject, b.event, b.handler)
		if err != nil {
			for _, u := range unsubs {
				_ = u()
			}
			s.mu.Lock()
			if s.loadSeq == seq {
				s.state = StateError
			}
			s.mu.Unlock()
			s.logger.Warn("Failed to bind conversation channel",
				"conversationId", conversationId,
				"event", b.event,
				"error", err)
			return
		}
		unsubs = append(unsubs, unsub)
	}

	s.mu.Lock()
	if s.loadSeq != seq || s.selected != conversationId {
		// 订阅期间选择又变了，立即释放
		s.mu.Unlock()
		for _, u := range unsubs {
			_ = u()
		}
		return
	}
	s.convUnsubs = unsubs
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Debug("Conversation ready", "conversationId", conversationId)
}

// handleConversationMessage 处理会话通道的 new-message 事件
func (s *Session) handleConversationMessage(conversationId int64, data []byte) {
	var event transport.NewMessageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn("Failed to unmarshal new-message event", "error", err)
		return
	}

	s.store.ReceivePushed(conversationId, event.Message)

	if event.Message.SenderId != s.userId {
		// 打开中会话的消息已由调和存储处理，列表只刷新活动时间
		s.list.BumpActivity(conversationId, event.Message.CreatedAt)
		s.typing.OnRemoteTypingEvent(conversationId, event.Message.SenderId, false)
	}
}

// handleTyping 处理会话通道的输入状态事件
func (s *Session) handleTyping(data []byte, typing bool) {
	var event transport.TypingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn("Failed to unmarshal typing event", "error", err)
		return
	}

	s.typing.OnRemoteTypingEvent(event.ConversationId, event.UserId, typing)
}

// handleNotification 处理用户通道的跨会话新消息通知
// 通知处理失败不影响主流程，下一次全量加载会调和
func (s *Session) handleNotification(data []byte) {
	var event transport.NotificationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn("Failed to unmarshal notification event", "error", err)
		return
	}

	s.list.OnExternalNotification(event.ConversationId, time.UnixMilli(event.At))
}

// Send 在当前选中的会话中发送消息
func (s *Session) Send(ctx context.Context, content, imageURL string) (model.Message, error) {
	s.mu.Lock()
	s.touchLocked()
	if s.state != StateReady {
		s.mu.Unlock()
		return model.Message{}, appErrors.ErrNoActiveConversation
	}
	conversationId := s.selected
	s.mu.Unlock()

	msg, err := s.store.Send(ctx, conversationId, content, imageURL)
	if err != nil {
		return model.Message{}, err
	}

	s.list.BumpActivity(conversationId, msg.CreatedAt)
	return msg, nil
}

// Retry 重试当前会话中的一条失败消息
func (s *Session) Retry(ctx context.Context, localId int64) error {
	s.mu.Lock()
	s.touchLocked()
	if s.state != StateReady {
		s.mu.Unlock()
		return appErrors.ErrNoActiveConversation
	}
	conversationId := s.selected
	s.mu.Unlock()

	return s.store.Retry(ctx, conversationId, localId)
}

// MarkRead 标记当前会话为已读
func (s *Session) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	s.touchLocked()
	if s.selected == 0 {
		s.mu.Unlock()
		return appErrors.ErrNoActiveConversation
	}
	conversationId := s.selected
	s.mu.Unlock()

	s.store.MarkRead(ctx, conversationId)
	s.list.ClearUnread(conversationId)
	return nil
}

// OnInputChanged 本地输入框变化
func (s *Session) OnInputChanged(hasContent bool) {
	s.mu.Lock()
	s.touchLocked()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	conversationId := s.selected
	s.mu.Unlock()

	s.typing.OnLocalInputChanged(conversationId, hasContent)
}

// UpdateSearch 更新会话列表的搜索与类型筛选
func (s *Session) UpdateSearch(searchText, typeFilter string) {
	s.mu.Lock()
	s.touchLocked()
	s.mu.Unlock()

	s.list.ApplyFilter(searchText, typeFilter)
}

// Conversations 返回筛选排序后的会话列表
func (s *Session) Conversations() []model.Conversation {
	return s.list.Conversations()
}

// View 返回会话的合并消息视图
func (s *Session) View(conversationId int64) []model.Message {
	return s.store.View(conversationId)
}

// TypingUsers 返回当前会话正在输入的远端用户
func (s *Session) TypingUsers(conversationId int64) []int64 {
	return s.typing.TypingUsers(conversationId)
}

// State 返回当前会话界面状态
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Selected 返回当前选中的会话 ID（0 表示无）
func (s *Session) Selected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// LastActive 返回最近一次 UI 意图的时间
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// teardownConversationLocked 释放当前会话的通道订阅，调用方必须持有锁
func (s *Session) teardownConversationLocked() {
	for _, unsub := range s.convUnsubs {
		if err := unsub(); err != nil {
			s.logger.Warn("Failed to unsubscribe conversation channel", "error", err)
		}
	}
	s.convUnsubs = nil
}

func (s *Session) touchLocked() {
	s.lastActive = time.Now()
}

// Close 释放会话持有的全部资源
func (s *Session) Close() {
	s.mu.Lock()
	s.teardownConversationLocked()
	if s.userUnsub != nil {
		if err := s.userUnsub(); err != nil {
			s.logger.Warn("Failed to unsubscribe user channel", "error", err)
		}
		s.userUnsub = nil
	}
	s.state = StateIdle
	s.selected = 0
	s.mu.Unlock()

	s.typing.Close()
}
