package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sudooom.market.messaging/internal/chat"
	"sudooom.market.messaging/internal/model"
	"sudooom.market.messaging/internal/repository"
	"sudooom.market.messaging/internal/transport"
	appErrors "sudooom.market.messaging/pkg/errors"
)

// MessagingService 消息服务
// 串联持久化、会话索引和推送通道，是 chat 引擎依赖的持久化协作方
type MessagingService struct {
	messageRepo *repository.MessageRepository
	convRepo    *repository.ConversationRepository
	batcher     *MessageBatcher
	index       *ConversationIndex
	publisher   *transport.Publisher
	logger      *slog.Logger
}

// NewMessagingService 创建消息服务
func NewMessagingService(
	messageRepo *repository.MessageRepository,
	convRepo *repository.ConversationRepository,
	batcher *MessageBatcher,
	index *ConversationIndex,
	publisher *transport.Publisher,
) *MessagingService {
	return &MessagingService{
		messageRepo: messageRepo,
		convRepo:    convRepo,
		batcher:     batcher,
		index:       index,
		publisher:   publisher,
		logger:      slog.Default().With("component", "messaging_service"),
	}
}

// 编译期检查：MessagingService 必须实现 chat.PersistenceService
var _ chat.PersistenceService = (*MessagingService)(nil)

// ListConversations 查询用户可见的会话列表
// 数据库提供会话主体，Redis 索引提供未读数与最近活动时间
func (s *MessagingService) ListConversations(ctx context.Context, userId int64, filter string) ([]model.Conversation, error) {
	convs, err := s.convRepo.ListByUser(ctx, userId, filter)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	activities, err := s.index.Snapshot(ctx, userId)
	if err != nil {
		// 索引不可用时退化为纯数据库结果，未读数显示为 0
		s.logger.Warn("conversation index unavailable", "user_id", userId, "error", err)
		return convs, nil
	}

	for i := range convs {
		act, ok := activities[convs[i].Id]
		if !ok {
			continue
		}
		convs[i].UnreadCount = act.UnreadCount
		if act.UpdateAt > 0 {
			at := time.UnixMilli(act.UpdateAt)
			if at.After(convs[i].LastActivityAt) {
				convs[i].LastActivityAt = at
			}
		}
	}

	return convs, nil
}

// ListMessages 查询指定会话的已确认消息
func (s *MessagingService) ListMessages(ctx context.Context, conversationId int64) ([]model.Message, error) {
	messages, err := s.messageRepo.ListByConversation(ctx, conversationId)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	return messages, nil
}

// SendMessage 持久化一条消息并广播
// 校验发送者是会话成员后批量落库；索引更新与推送失败不影响发送结果
func (s *MessagingService) SendMessage(ctx context.Context, req *chat.SendRequest) (*model.Message, error) {
	conv, err := s.convRepo.FindByID(ctx, req.ConversationId)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, appErrors.ErrConversationNotFound
	}
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	if conv.BuyerId != req.SenderId && conv.SellerId != req.SenderId {
		return nil, appErrors.ErrNotParticipant
	}

	msg := &model.Message{
		ClientMsgId:    req.ClientMsgId,
		ConversationId: req.ConversationId,
		SenderId:       req.SenderId,
		Content:        req.Content,
		ImageURL:       req.ImageURL,
		Status:         model.MessageStatusConfirmed,
		CreatedAt:      time.Now(),
	}

	msgId, err := s.batcher.SaveMessageSync(msg)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	msg.Id = msgId

	if err := s.convRepo.TouchLastMessage(ctx, conv.Id, msg.CreatedAt); err != nil {
		s.logger.Warn("touch last message failed", "conversation_id", conv.Id, "error", err)
	}

	receiverId := conv.BuyerId
	if req.SenderId == conv.BuyerId {
		receiverId = conv.SellerId
	}

	if err := s.index.BumpForSender(ctx, req.SenderId, conv.Id, msgId); err != nil {
		s.logger.Warn("bump sender index failed", "user_id", req.SenderId, "error", err)
	}
	if err := s.index.BumpForReceiver(ctx, receiverId, conv.Id, msgId); err != nil {
		s.logger.Warn("bump receiver index failed", "user_id", receiverId, "error", err)
	}

	if err := s.publisher.PublishNewMessage(msg); err != nil {
		s.logger.Warn("publish new message failed", "conversation_id", conv.Id, "error", err)
	}
	if err := s.publisher.PublishNotification(receiverId, conv.Id, msg.CreatedAt); err != nil {
		s.logger.Warn("publish notification failed", "user_id", receiverId, "error", err)
	}

	return msg, nil
}

// MarkRead 标记会话内对方发送的消息为已读
func (s *MessagingService) MarkRead(ctx context.Context, userId, conversationId int64) error {
	if err := s.messageRepo.MarkRead(ctx, conversationId, userId); err != nil {
		return appErrors.ErrDBError.Wrap(err)
	}

	if err := s.index.MarkRead(ctx, userId, conversationId, 0); err != nil {
		s.logger.Warn("mark read in index failed", "user_id", userId, "conversation_id", conversationId, "error", err)
	}

	return nil
}

// CreateConversation 买家首次就某商品发起会话
// 已存在则复用原会话，首条消息通过正常发送路径落库并广播
func (s *MessagingService) CreateConversation(ctx context.Context, buyerId, productId int64, content string) (*model.Conversation, error) {
	sellerId, err := s.convRepo.FindProductSeller(ctx, productId)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, appErrors.ErrProductNotFound
	}
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	if sellerId == buyerId {
		return nil, appErrors.ErrCannotContactSelf
	}

	conv, err := s.convRepo.FindByProductAndBuyer(ctx, productId, buyerId)
	if errors.Is(err, repository.ErrNotFound) {
		id, createErr := s.convRepo.Create(ctx, buyerId, sellerId, productId)
		if createErr != nil {
			return nil, appErrors.ErrDBError.Wrap(createErr)
		}
		conv = &model.Conversation{
			Id:             id,
			BuyerId:        buyerId,
			SellerId:       sellerId,
			Status:         model.ConversationStatusActive,
			LastActivityAt: time.Now(),
		}
	} else if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	content = model.SanitizeContent(content)
	if content != "" {
		if _, err := s.SendMessage(ctx, &chat.SendRequest{
			ConversationId: conv.Id,
			SenderId:       buyerId,
			ClientMsgId:    newClientMsgId(),
			Content:        content,
		}); err != nil {
			return nil, err
		}
	}

	return conv, nil
}

// ArchiveConversation 归档会话
// 仅会话成员可操作，历史消息保留
func (s *MessagingService) ArchiveConversation(ctx context.Context, userId, conversationId int64) error {
	conv, err := s.convRepo.FindByID(ctx, conversationId)
	if errors.Is(err, repository.ErrNotFound) {
		return appErrors.ErrConversationNotFound
	}
	if err != nil {
		return appErrors.ErrDBError.Wrap(err)
	}

	if conv.BuyerId != userId && conv.SellerId != userId {
		return appErrors.ErrNotParticipant
	}

	if err := s.convRepo.UpdateStatus(ctx, conversationId, model.ConversationStatusArchived); err != nil {
		return appErrors.ErrDBError.Wrap(err)
	}

	return nil
}

// TotalUnread 查询用户总未读数
func (s *MessagingService) TotalUnread(ctx context.Context, userId int64) (int64, error) {
	total, err := s.index.TotalUnread(ctx, userId)
	if err != nil {
		return 0, appErrors.ErrTransportError.Wrap(err)
	}
	return total, nil
}

func newClientMsgId() string {
	return uuid.NewString()
}
