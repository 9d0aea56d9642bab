package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"sudooom.market.messaging/internal/model"
	"sudooom.market.messaging/internal/transport"
	appErrors "sudooom.market.messaging/pkg/errors"
	"sudooom.market.messaging/pkg/snowflake"
)

// fakeBinder 记录订阅操作并持有事件处理器
type fakeBinder struct {
	mu       sync.Mutex
	ops      []string // bind:subject:event / unbind:subject:event
	handlers map[string]func(data []byte)
	failOn   map[string]bool
}

func newFakeBinder() *fakeBinder {
	return &fakeBinder{
		handlers: make(map[string]func(data []byte)),
		failOn:   make(map[string]bool),
	}
}

func (b *fakeBinder) Bind(subject, event string, handler func(data []byte)) (transport.Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := subject + ":" + event
	if b.failOn[key] {
		return nil, fmt.Errorf("bind rejected: %s", key)
	}

	b.ops = append(b.ops, "bind:"+key)
	b.handlers[key] = handler

	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.ops = append(b.ops, "unbind:"+key)
		delete(b.handlers, key)
		return nil
	}, nil
}

func (b *fakeBinder) operations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.ops))
	copy(out, b.ops)
	return out
}

func (b *fakeBinder) emit(subject, event string, payload any) bool {
	b.mu.Lock()
	handler, ok := b.handlers[subject+":"+event]
	b.mu.Unlock()
	if !ok {
		return false
	}
	data, _ := json.Marshal(payload)
	handler(data)
	return true
}

func testConversations() []model.Conversation {
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	return []model.Conversation{
		{Id: 1, BuyerId: 100, SellerId: 200, LastActivityAt: base},
		{Id: 2, BuyerId: 100, SellerId: 300, LastActivityAt: base.Add(time.Hour)},
	}
}

func newTestSession(t *testing.T, persist *fakePersist, binder *fakeBinder) *Session {
	t.Helper()

	sf, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("创建 snowflake 节点失败: %v", err)
	}

	sess := NewSession(100, persist, binder, nil, sf, SessionConfig{})
	t.Cleanup(sess.Close)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("启动会话失败: %v", err)
	}
	return sess
}

// waitState 轮询等待会话到达目标状态
func waitState(t *testing.T, sess *Session, want SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("等待状态 %v 超时, 实际 = %v", want, sess.State())
}

func TestSession_StartBindsUserChannel(t *testing.T) {
	persist := &fakePersist{convsFn: testConversations}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	ops := binder.operations()
	wantBind := "bind:" + transport.BuildUserSubject(100) + ":" + transport.EventNewMessageNotification
	if len(ops) != 1 || ops[0] != wantBind {
		t.Errorf("期望用户通道订阅 %q, 实际 = %v", wantBind, ops)
	}

	if got := len(sess.Conversations()); got != 2 {
		t.Errorf("期望会话数 = 2, 实际 = %d", got)
	}
}

func TestSession_SelectLoadsAndBinds(t *testing.T) {
	persist := &fakePersist{
		convsFn: testConversations,
		msgsFn: func(conversationId int64) ([]model.Message, error) {
			return []model.Message{
				{Id: 1, ClientMsgId: "h1", SenderId: 200, Content: "历史消息", CreatedAt: time.Now()},
			}, nil
		},
	}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	if err := sess.Select(context.Background(), 1); err != nil {
		t.Fatalf("选择会话失败: %v", err)
	}
	waitState(t, sess, StateReady)

	if got := len(sess.View(1)); got != 1 {
		t.Errorf("期望视图消息数 = 1, 实际 = %d", got)
	}

	subject := transport.BuildConversationSubject(1)
	ops := binder.operations()
	bound := 0
	for _, op := range ops {
		if op == "bind:"+subject+":"+transport.EventNewMessage ||
			op == "bind:"+subject+":"+transport.EventTypingStart ||
			op == "bind:"+subject+":"+transport.EventTypingStop {
			bound++
		}
	}
	if bound != 3 {
		t.Errorf("期望会话通道绑定 3 个事件, 实际 = %d, ops = %v", bound, ops)
	}
}

func TestSession_SwitchUnbindsBeforeRebinding(t *testing.T) {
	persist := &fakePersist{convsFn: testConversations}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	if err := sess.Select(context.Background(), 1); err != nil {
		t.Fatalf("选择会话失败: %v", err)
	}
	waitState(t, sess, StateReady)

	if err := sess.Select(context.Background(), 2); err != nil {
		t.Fatalf("切换会话失败: %v", err)
	}
	waitState(t, sess, StateReady)

	// 旧会话的解绑必须发生在新会话的绑定之前
	subject1 := transport.BuildConversationSubject(1)
	subject2 := transport.BuildConversationSubject(2)
	lastUnbind, firstBind := -1, -1
	for i, op := range binder.operations() {
		if op == "unbind:"+subject1+":"+transport.EventNewMessage {
			lastUnbind = i
		}
		if firstBind < 0 && op == "bind:"+subject2+":"+transport.EventNewMessage {
			firstBind = i
		}
	}
	if lastUnbind < 0 || firstBind < 0 {
		t.Fatalf("缺少预期的订阅操作: %v", binder.operations())
	}
	if lastUnbind > firstBind {
		t.Errorf("旧订阅解绑(%d)应当先于新订阅建立(%d)", lastUnbind, firstBind)
	}
}

func TestSession_SelectZeroDeselects(t *testing.T) {
	persist := &fakePersist{convsFn: testConversations}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	if err := sess.Select(context.Background(), 1); err != nil {
		t.Fatalf("选择会话失败: %v", err)
	}
	waitState(t, sess, StateReady)

	if err := sess.Select(context.Background(), 0); err != nil {
		t.Fatalf("取消选择失败: %v", err)
	}
	if sess.State() != StateIdle {
		t.Errorf("期望状态 = %v, 实际 = %v", StateIdle, sess.State())
	}
	if sess.Selected() != 0 {
		t.Errorf("期望选中会话 = 0, 实际 = %d", sess.Selected())
	}
}

func TestSession_SelectNotParticipant(t *testing.T) {
	persist := &fakePersist{convsFn: testConversations}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	err := sess.Select(context.Background(), 999)
	if !appErrors.Is(err, appErrors.ErrNotParticipant) {
		t.Errorf("期望 ErrNotParticipant, 实际 = %v", err)
	}
	if sess.State() != StateIdle {
		t.Errorf("期望状态 = %v, 实际 = %v", StateIdle, sess.State())
	}
}

func TestSession_LoadFailureEntersErrorState(t *testing.T) {
	persist := &fakePersist{
		convsFn: testConversations,
		msgsFn: func(conversationId int64) ([]model.Message, error) {
			return nil, appErrors.ErrDBError
		},
	}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	if err := sess.Select(context.Background(), 1); err != nil {
		t.Fatalf("选择会话失败: %v", err)
	}
	waitState(t, sess, StateError)
}

func TestSession_StaleLoadDiscarded(t *testing.T) {
	release := make(chan struct{})
	persist := &fakePersist{
		convsFn: testConversations,
		msgsFn: func(conversationId int64) ([]model.Message, error) {
			if conversationId == 1 {
				<-release
				return []model.Message{
					{Id: 1, ClientMsgId: "stale", SenderId: 200, Content: "过期结果", CreatedAt: time.Now()},
				}, nil
			}
			return nil, nil
		},
	}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	// 会话 1 的加载被挂起，期间切换到会话 2
	if err := sess.Select(context.Background(), 1); err != nil {
		t.Fatalf("选择会话失败: %v", err)
	}
	if err := sess.Select(context.Background(), 2); err != nil {
		t.Fatalf("切换会话失败: %v", err)
	}
	waitState(t, sess, StateReady)

	close(release)
	time.Sleep(100 * time.Millisecond)

	if sess.Selected() != 2 {
		t.Errorf("期望选中会话 = 2, 实际 = %d", sess.Selected())
	}
	if sess.State() != StateReady {
		t.Errorf("过期加载结果不应改变状态, 实际 = %v", sess.State())
	}
	// 过期结果也不应绑定会话 1 的通道
	subject1 := transport.BuildConversationSubject(1)
	if binder.emit(subject1, transport.EventNewMessage, transport.NewMessageEvent{}) {
		t.Error("过期加载不应留下会话 1 的订阅")
	}
}

func TestSession_SendRequiresReady(t *testing.T) {
	persist := &fakePersist{convsFn: testConversations}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	_, err := sess.Send(context.Background(), "没有选中会话", "")
	if !appErrors.Is(err, appErrors.ErrNoActiveConversation) {
		t.Errorf("期望 ErrNoActiveConversation, 实际 = %v", err)
	}
}

func TestSession_PushedMessageReachesView(t *testing.T) {
	persist := &fakePersist{convsFn: testConversations}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	if err := sess.Select(context.Background(), 1); err != nil {
		t.Fatalf("选择会话失败: %v", err)
	}
	waitState(t, sess, StateReady)

	subject := transport.BuildConversationSubject(1)
	pushed := transport.NewMessageEvent{Message: model.Message{
		Id: 5001, ClientMsgId: "p1", ConversationId: 1, SenderId: 200,
		Content: "对方消息", CreatedAt: time.Now(),
	}}
	if !binder.emit(subject, transport.EventNewMessage, pushed) {
		t.Fatal("会话通道应当已绑定 new-message 事件")
	}

	view := sess.View(1)
	if len(view) != 1 || view[0].Id != 5001 {
		t.Fatalf("推送消息应当进入视图, 实际消息数 = %d", len(view))
	}
}

func TestSession_TypingEventsTracked(t *testing.T) {
	persist := &fakePersist{convsFn: testConversations}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	if err := sess.Select(context.Background(), 1); err != nil {
		t.Fatalf("选择会话失败: %v", err)
	}
	waitState(t, sess, StateReady)

	subject := transport.BuildConversationSubject(1)
	binder.emit(subject, transport.EventTypingStart, transport.TypingEvent{ConversationId: 1, UserId: 200})

	if got := sess.TypingUsers(1); len(got) != 1 || got[0] != 200 {
		t.Errorf("期望输入用户 [200], 实际 = %v", got)
	}

	binder.emit(subject, transport.EventTypingStop, transport.TypingEvent{ConversationId: 1, UserId: 200})
	if got := sess.TypingUsers(1); len(got) != 0 {
		t.Errorf("typing-stop 后期望空集合, 实际 = %v", got)
	}
}

func TestSession_NotificationBumpsList(t *testing.T) {
	persist := &fakePersist{convsFn: testConversations}
	binder := newFakeBinder()
	sess := newTestSession(t, persist, binder)

	// 未打开的会话收到通知：未读加一并升到顶部
	at := time.Date(2026, 1, 10, 15, 0, 0, 0, time.UTC)
	binder.emit(
		transport.BuildUserSubject(100),
		transport.EventNewMessageNotification,
		transport.NotificationEvent{ConversationId: 1, At: at.UnixMilli()},
	)

	out := sess.Conversations()
	if out[0].Id != 1 {
		t.Errorf("收到通知的会话应当在顶部, 实际 = %d", out[0].Id)
	}
	if out[0].UnreadCount != 1 {
		t.Errorf("期望未读数 = 1, 实际 = %d", out[0].UnreadCount)
	}
}
