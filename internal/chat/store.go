package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"sudooom.market.messaging/internal/model"
	appErrors "sudooom.market.messaging/pkg/errors"
	"sudooom.market.messaging/pkg/snowflake"
)

// DefaultMaxMessageLength 消息内容长度上限（按字符数）
const DefaultMaxMessageLength = 4000

// StoreConfig 消息调和存储配置
type StoreConfig struct {
	MaxMessageLength int
}

// record 带插入序号的消息记录
// seq 全局单调递增，时间戳相同时按插入顺序稳定排序
type record struct {
	msg model.Message
	seq uint64
}

// partitions 单个会话的消息分区
// 乐观消息被确认后从 optimistic 移入 confirmed，绝不会同时存在两份
type partitions struct {
	confirmed  []record
	optimistic []record
	failed     []record
	retrying   map[string]bool // clientMsgId -> 重试请求在途
}

// Store 消息调和存储
// 按来源（已确认/乐观/失败）分区持有每个会话的消息，
// 对外只暴露去重且按时间有序的合并视图。
// 所有变更在互斥锁内完整执行，对可能并发到达的
// UI 意图和通道回调保持原子性。
type Store struct {
	mu      sync.Mutex
	userId  int64
	persist PersistenceService
	sf      *snowflake.Node
	logger  *slog.Logger

	maxContentLen int
	convs         map[int64]*partitions
	seq           uint64

	onChange func(conversationId int64) // 视图变更回调，在锁外调用
}

// NewStore 创建消息调和存储
func NewStore(userId int64, persist PersistenceService, sf *snowflake.Node, cfg StoreConfig) *Store {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}

	return &Store{
		userId:        userId,
		persist:       persist,
		sf:            sf,
		logger:        slog.Default().With("component", "MessageStore"),
		maxContentLen: cfg.MaxMessageLength,
		convs:         make(map[int64]*partitions),
	}
}

// SetOnChange 注册视图变更回调
func (s *Store) SetOnChange(fn func(conversationId int64)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// LoadConfirmed 以外部存储的查询结果替换会话的已确认消息集
// 在途的乐观/失败消息保留，但已被确认集覆盖的记录会被剔除
func (s *Store) LoadConfirmed(conversationId int64, msgs []model.Message) {
	s.mu.Lock()

	p := s.ensureLocked(conversationId)

	p.confirmed = p.confirmed[:0]
	loaded := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		m.Status = model.MessageStatusConfirmed
		p.confirmed = append(p.confirmed, s.newRecordLocked(m))
		if m.ClientMsgId != "" {
			loaded[m.ClientMsgId] = true
		}
	}

	p.optimistic = dropByClientMsgId(p.optimistic, loaded)
	p.failed = dropByClientMsgId(p.failed, loaded)

	s.mu.Unlock()
	s.emitChange(conversationId)
}

// Send 校验并发送一条消息
// 校验失败返回 ValidationError 且不产生任何状态变更；
// 校验通过后立即追加乐观消息并异步发起持久化请求。
func (s *Store) Send(ctx context.Context, conversationId int64, content, imageURL string) (model.Message, error) {
	content = model.SanitizeContent(content)
	if content == "" && imageURL == "" {
		return model.Message{}, appErrors.ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > s.maxContentLen {
		return model.Message{}, appErrors.ErrMessageTooLong
	}

	msg := model.Message{
		LocalId:        s.sf.Generate().Int64(),
		ClientMsgId:    uuid.NewString(),
		ConversationId: conversationId,
		SenderId:       s.userId,
		Content:        content,
		ImageURL:       imageURL,
		Status:         model.MessageStatusOptimistic,
		Read:           true,
		CreatedAt:      time.Now(),
	}

	s.mu.Lock()
	p := s.ensureLocked(conversationId)
	p.optimistic = append(p.optimistic, s.newRecordLocked(msg))
	s.mu.Unlock()

	s.emitChange(conversationId)

	// 会话切换不取消在途发送，结果仍要写回该会话的状态
	go s.persistSend(context.WithoutCancel(ctx), msg)

	return msg, nil
}

// persistSend 执行持久化请求并调和结果
func (s *Store) persistSend(ctx context.Context, msg model.Message) {
	confirmed, err := s.persist.SendMessage(ctx, &SendRequest{
		ConversationId: msg.ConversationId,
		SenderId:       msg.SenderId,
		ClientMsgId:    msg.ClientMsgId,
		Content:        msg.Content,
		ImageURL:       msg.ImageURL,
	})

	s.mu.Lock()
	p := s.ensureLocked(msg.ConversationId)
	delete(p.retrying, msg.ClientMsgId)

	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotParticipant) || appErrors.Is(err, appErrors.ErrConversationNotFound) {
			// 授权失败不提供重试：移除乐观记录，不留下部分状态
			p.optimistic = removeByClientMsgId(p.optimistic, msg.ClientMsgId)
			s.logger.Warn("Send rejected, dropping optimistic message",
				"conversationId", msg.ConversationId,
				"clientMsgId", msg.ClientMsgId,
				"error", err)
		} else {
			// 传输失败降级为 failed，保留内容供重试
			idx := indexByClientMsgId(p.optimistic, msg.ClientMsgId)
			if idx >= 0 {
				rec := p.optimistic[idx]
				rec.msg.Status = model.MessageStatusFailed
				p.optimistic = append(p.optimistic[:idx], p.optimistic[idx+1:]...)
				p.failed = append(p.failed, rec)
			}
			s.logger.Warn("Send failed, message downgraded to failed",
				"conversationId", msg.ConversationId,
				"clientMsgId", msg.ClientMsgId,
				"error", err)
		}
		s.mu.Unlock()
		s.emitChange(msg.ConversationId)
		return
	}

	s.confirmLocked(p, *confirmed, msg.ClientMsgId)
	s.mu.Unlock()
	s.emitChange(msg.ConversationId)
}

// confirmLocked 用确认消息替换对应的乐观记录
// 若推送回声已先一步写入确认集，则不再追加，保证消息绝不重复
func (s *Store) confirmLocked(p *partitions, confirmed model.Message, clientMsgId string) {
	p.optimistic = removeByClientMsgId(p.optimistic, clientMsgId)

	if confirmed.ClientMsgId == "" {
		confirmed.ClientMsgId = clientMsgId
	}
	confirmed.Status = model.MessageStatusConfirmed

	for _, rec := range p.confirmed {
		if rec.msg.Id == confirmed.Id || (confirmed.ClientMsgId != "" && rec.msg.ClientMsgId == confirmed.ClientMsgId) {
			return
		}
	}

	p.confirmed = append(p.confirmed, s.newRecordLocked(confirmed))
}

// Retry 重试一条失败消息
// 移除失败记录并以相同内容重新发起发送；
// 同一条逻辑消息同时最多只有一次在途的重试。
func (s *Store) Retry(ctx context.Context, conversationId, localId int64) error {
	s.mu.Lock()
	p := s.ensureLocked(conversationId)

	idx := -1
	for i, rec := range p.failed {
		if rec.msg.LocalId == localId {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return appErrors.ErrInvalidParams.Wrap(errNoFailedRecord(localId))
	}

	failed := p.failed[idx].msg
	if p.retrying[failed.ClientMsgId] {
		// 已有在途重试，忽略本次请求
		s.mu.Unlock()
		return nil
	}

	p.failed = append(p.failed[:idx], p.failed[idx+1:]...)

	msg := model.Message{
		LocalId:        s.sf.Generate().Int64(),
		ClientMsgId:    failed.ClientMsgId,
		ConversationId: conversationId,
		SenderId:       s.userId,
		Content:        failed.Content,
		ImageURL:       failed.ImageURL,
		Status:         model.MessageStatusOptimistic,
		Read:           true,
		CreatedAt:      time.Now(),
	}

	p.optimistic = append(p.optimistic, s.newRecordLocked(msg))
	p.retrying[msg.ClientMsgId] = true
	s.mu.Unlock()

	s.emitChange(conversationId)

	go s.persistSend(context.WithoutCancel(ctx), msg)

	return nil
}

// ReceivePushed 处理推送通道送达的 new-message 事件
// 自己发出的消息经服务端回声送达时直接忽略，避免与本地乐观路径产生重复
func (s *Store) ReceivePushed(conversationId int64, msg model.Message) {
	if msg.SenderId == s.userId {
		s.logger.Debug("Ignoring self-originated pushed message",
			"conversationId", conversationId,
			"clientMsgId", msg.ClientMsgId)
		return
	}

	s.mu.Lock()
	p := s.ensureLocked(conversationId)

	for _, rec := range p.confirmed {
		if rec.msg.Id == msg.Id || (msg.ClientMsgId != "" && rec.msg.ClientMsgId == msg.ClientMsgId) {
			s.mu.Unlock()
			return
		}
	}

	msg.Status = model.MessageStatusConfirmed
	msg.Read = false
	p.confirmed = append(p.confirmed, s.newRecordLocked(msg))
	s.mu.Unlock()

	s.emitChange(conversationId)
}

// View 返回会话的合并视图
// 三个分区合并后按创建时间排序，时间相同按插入顺序
func (s *Store) View(conversationId int64) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.convs[conversationId]
	if !ok {
		return nil
	}

	merged := make([]record, 0, len(p.confirmed)+len(p.optimistic)+len(p.failed))
	merged = append(merged, p.confirmed...)
	merged = append(merged, p.optimistic...)
	merged = append(merged, p.failed...)

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].msg.CreatedAt.Equal(merged[j].msg.CreatedAt) {
			return merged[i].seq < merged[j].seq
		}
		return merged[i].msg.CreatedAt.Before(merged[j].msg.CreatedAt)
	})

	view := make([]model.Message, len(merged))
	for i, rec := range merged {
		view[i] = rec.msg
	}
	return view
}

// UnreadCount 返回会话内对方发送且未读的消息数
func (s *Store) UnreadCount(conversationId int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.convs[conversationId]
	if !ok {
		return 0
	}

	count := 0
	for _, rec := range p.confirmed {
		if rec.msg.SenderId != s.userId && !rec.msg.Read {
			count++
		}
	}
	return count
}

// MarkRead 本地标记对方消息为已读并发起外部已读请求
// 幂等：没有新标记的消息时不会重复发起外部请求；
// 外部请求失败仅记录日志（尽力而为，下一次全量加载会调和）。
func (s *Store) MarkRead(ctx context.Context, conversationId int64) {
	s.mu.Lock()
	p := s.ensureLocked(conversationId)

	marked := 0
	for i := range p.confirmed {
		m := &p.confirmed[i].msg
		if m.SenderId != s.userId && !m.Read {
			m.Read = true
			marked++
		}
	}
	s.mu.Unlock()

	if marked == 0 {
		return
	}

	s.emitChange(conversationId)

	go func(ctx context.Context) {
		if err := s.persist.MarkRead(ctx, s.userId, conversationId); err != nil {
			s.logger.Warn("Mark read request failed",
				"conversationId", conversationId,
				"error", err)
		}
	}(context.WithoutCancel(ctx))
}

// ensureLocked 获取或创建会话分区，调用方必须持有锁
func (s *Store) ensureLocked(conversationId int64) *partitions {
	p, ok := s.convs[conversationId]
	if !ok {
		p = &partitions{retrying: make(map[string]bool)}
		s.convs[conversationId] = p
	}
	return p
}

// newRecordLocked 分配插入序号，调用方必须持有锁
func (s *Store) newRecordLocked(msg model.Message) record {
	s.seq++
	return record{msg: msg, seq: s.seq}
}

// emitChange 在锁外触发视图变更回调
func (s *Store) emitChange(conversationId int64) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(conversationId)
	}
}

func removeByClientMsgId(recs []record, clientMsgId string) []record {
	idx := indexByClientMsgId(recs, clientMsgId)
	if idx < 0 {
		return recs
	}
	return append(recs[:idx], recs[idx+1:]...)
}

func indexByClientMsgId(recs []record, clientMsgId string) int {
	for i, rec := range recs {
		if rec.msg.ClientMsgId == clientMsgId {
			return i
		}
	}
	return -1
}

func errNoFailedRecord(localId int64) error {
	return fmt.Errorf("no failed message with local id %d", localId)
}

func dropByClientMsgId(recs []record, ids map[string]bool) []record {
	if len(ids) == 0 || len(recs) == 0 {
		return recs
	}
	kept := recs[:0]
	for _, rec := range recs {
		if !ids[rec.msg.ClientMsgId] {
			kept = append(kept, rec)
		}
	}
	return kept
}
