package transport

import "strconv"

// NATS Subject 常量定义
const (
	// SubjectConversationPrefix 会话通道前缀
	// 完整格式: market.chat.conversation.{conversationId}
	SubjectConversationPrefix = "market.chat.conversation."

	// SubjectUserPrefix 用户通道前缀
	// 完整格式: market.chat.user.{userId}
	SubjectUserPrefix = "market.chat.user."
)

// 通道事件名定义
const (
	// EventNewMessage 会话通道的新消息事件
	EventNewMessage = "new-message"

	// EventNewMessageNotification 用户通道的跨会话新消息通知事件
	EventNewMessageNotification = "new-message-notification"

	// EventTypingStart / EventTypingStop 会话通道的输入状态事件
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
)

// BuildConversationSubject 构建会话通道 Subject
func BuildConversationSubject(conversationId int64) string {
	return SubjectConversationPrefix + strconv.FormatInt(conversationId, 10)
}

// BuildUserSubject 构建用户通道 Subject
func BuildUserSubject(userId int64) string {
	return SubjectUserPrefix + strconv.FormatInt(userId, 10)
}
