package transport

import (
	"log/slog"
	"time"

	"sudooom.market.messaging/internal/model"
)

// Publisher 通道事件发布器
type Publisher struct {
	client *Client
	logger *slog.Logger
}

// NewPublisher 创建通道事件发布器
func NewPublisher(client *Client) *Publisher {
	return &Publisher{
		client: client,
		logger: slog.Default(),
	}
}

// PublishNewMessage 向会话通道推送已确认的新消息
func (p *Publisher) PublishNewMessage(msg *model.Message) error {
	subject := BuildConversationSubject(msg.ConversationId)
	if err := p.client.Publish(subject, EventNewMessage, NewMessageEvent{Message: *msg}); err != nil {
		p.logger.Error("Failed to publish new message",
			"conversationId", msg.ConversationId,
			"error", err)
		return err
	}

	p.logger.Debug("Published new message", "subject", subject, "messageId", msg.Id)
	return nil
}

// PublishNotification 向用户通道推送跨会话新消息通知
func (p *Publisher) PublishNotification(userId, conversationId int64, at time.Time) error {
	subject := BuildUserSubject(userId)
	event := NotificationEvent{
		ConversationId: conversationId,
		At:             at.UnixMilli(),
	}
	if err := p.client.Publish(subject, EventNewMessageNotification, event); err != nil {
		p.logger.Error("Failed to publish notification",
			"userId", userId,
			"conversationId", conversationId,
			"error", err)
		return err
	}

	return nil
}

// PublishTyping 向会话通道发布输入状态信号
func (p *Publisher) PublishTyping(conversationId, userId int64, typing bool) error {
	event := EventTypingStart
	if !typing {
		event = EventTypingStop
	}

	subject := BuildConversationSubject(conversationId)
	return p.client.Publish(subject, event, TypingEvent{
		ConversationId: conversationId,
		UserId:         userId,
	})
}
