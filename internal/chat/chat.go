package chat

import (
	"context"

	"sudooom.market.messaging/internal/model"
	"sudooom.market.messaging/internal/transport"
)

// PersistenceService 会话/消息持久化协作方
// 由 service 包实现；核心同步引擎只依赖该契约
type PersistenceService interface {
	// ListConversations 查询用户可见的会话列表
	ListConversations(ctx context.Context, userId int64, filter string) ([]model.Conversation, error)

	// ListMessages 查询指定会话的已确认消息（按创建时间升序）
	ListMessages(ctx context.Context, conversationId int64) ([]model.Message, error)

	// SendMessage 持久化一条消息并返回确认后的消息对象
	SendMessage(ctx context.Context, req *SendRequest) (*model.Message, error)

	// MarkRead 标记会话内对方发送的消息为已读
	MarkRead(ctx context.Context, userId, conversationId int64) error

	// CreateConversation 买家首次就某商品发起会话（已存在则复用）
	CreateConversation(ctx context.Context, buyerId, productId int64, content string) (*model.Conversation, error)
}

// SendRequest 消息持久化请求
type SendRequest struct {
	ConversationId int64
	SenderId       int64
	ClientMsgId    string
	Content        string
	ImageURL       string
}

// ChannelBinder 推送通道订阅方
type ChannelBinder interface {
	Bind(subject, event string, handler func(data []byte)) (transport.Unsubscribe, error)
}

// TypingPublisher 输入状态信号发布方
type TypingPublisher interface {
	PublishTyping(conversationId, userId int64, typing bool) error
}
