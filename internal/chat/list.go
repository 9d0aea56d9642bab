package chat

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"sudooom.market.messaging/internal/model"
)

// ListAggregator 会话列表聚合器
// 持有当前用户可见的会话集合，应用搜索/筛选条件，
// 并根据选择事件和跨会话通知维持最近活动排序
type ListAggregator struct {
	mu     sync.Mutex
	userId int64
	logger *slog.Logger

	items      []model.Conversation
	searchText string
	typeFilter string
	openId     int64 // 当前在调和存储中打开的会话（0 表示无）
}

// NewListAggregator 创建会话列表聚合器
func NewListAggregator(userId int64) *ListAggregator {
	return &ListAggregator{
		userId: userId,
		logger: slog.Default().With("component", "ConversationList"),
	}
}

// SetConversations 替换工作集（外部查询结果就绪或刷新时调用）
func (l *ListAggregator) SetConversations(list []model.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = make([]model.Conversation, len(list))
	copy(l.items, list)
}

// ApplyFilter 设置搜索文本与类型筛选
// 纯同步操作，结果通过 Conversations 读取
func (l *ListAggregator) ApplyFilter(searchText, typeFilter string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.searchText = strings.ToLower(strings.TrimSpace(searchText))
	l.typeFilter = typeFilter
}

// SetOpen 记录当前打开的会话，传 0 表示没有打开的会话
func (l *ListAggregator) SetOpen(conversationId int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.openId = conversationId
}

// Contains 判断会话是否在当前用户的工作集中
func (l *ListAggregator) Contains(conversationId int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.indexLocked(conversationId) >= 0
}

// OnExternalNotification 处理用户通道的跨会话新消息通知
// 若目标会话正是当前打开的会话则忽略：该消息已由调和存储的
// ReceivePushed 处理，重复计数会导致未读数虚高
func (l *ListAggregator) OnExternalNotification(conversationId int64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if conversationId == l.openId {
		return
	}

	idx := l.indexLocked(conversationId)
	if idx < 0 {
		// 工作集里没有的会话（通常是新创建的），等下一次全量刷新调和
		l.logger.Debug("Notification for unknown conversation",
			"conversationId", conversationId)
		return
	}

	l.items[idx].UnreadCount++
	if at.After(l.items[idx].LastActivityAt) {
		l.items[idx].LastActivityAt = at
	}
}

// BumpActivity 更新会话的最近活动时间（不改未读数）
// 用于当前打开会话的收发消息保持列表排序新鲜
func (l *ListAggregator) BumpActivity(conversationId int64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(conversationId)
	if idx < 0 {
		return
	}
	if at.After(l.items[idx].LastActivityAt) {
		l.items[idx].LastActivityAt = at
	}
}

// ClearUnread 清零会话未读数（标记已读时调用）
func (l *ListAggregator) ClearUnread(conversationId int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(conversationId)
	if idx >= 0 {
		l.items[idx].UnreadCount = 0
	}
}

// Conversations 返回筛选后的会话列表
// 始终按最近活动时间降序，时间相同保持原有相对顺序
func (l *ListAggregator) Conversations() []model.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.Conversation, 0, len(l.items))
	for _, c := range l.items {
		if !l.matchLocked(c) {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})

	return out
}

// TotalUnread 返回筛选前所有会话的未读总数
func (l *ListAggregator) TotalUnread() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, c := range l.items {
		total += c.UnreadCount
	}
	return total
}

// matchLocked 应用搜索与类型筛选，调用方必须持有锁
func (l *ListAggregator) matchLocked(c model.Conversation) bool {
	switch l.typeFilter {
	case model.FilterBuying:
		if c.BuyerId != l.userId {
			return false
		}
	case model.FilterSelling:
		if c.SellerId != l.userId {
			return false
		}
	}

	if l.searchText == "" {
		return true
	}

	return strings.Contains(strings.ToLower(c.Counterparty.DisplayName), l.searchText) ||
		strings.Contains(strings.ToLower(c.Product.Title), l.searchText)
}

func (l *ListAggregator) indexLocked(conversationId int64) int {
	for i := range l.items {
		if l.items[i].Id == conversationId {
			return i
		}
	}
	return -1
}
