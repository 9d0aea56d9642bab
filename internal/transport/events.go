package transport

import (
	"sudooom.market.messaging/internal/model"
)

// NewMessageEvent new-message 事件负载
type NewMessageEvent struct {
	Message model.Message `json:"message"`
}

// NotificationEvent new-message-notification 事件负载
type NotificationEvent struct {
	ConversationId int64 `json:"conversationId"`
	At             int64 `json:"at"` // 活动时间（毫秒时间戳）
}

// TypingEvent typing-start / typing-stop 事件负载
type TypingEvent struct {
	ConversationId int64 `json:"conversationId"`
	UserId         int64 `json:"userId"`
}
