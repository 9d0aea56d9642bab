package model

import (
	"strings"
	"time"
	"unicode"
)

// 消息来源状态
const (
	MessageStatusOptimistic = 0 // 本地乐观消息，等待服务端确认
	MessageStatusConfirmed  = 1 // 服务端已确认（落库或经推送通道送达）
	MessageStatusFailed     = 2 // 发送失败，可重试
)

// Message 会话消息
// 确认前 Id 为 0，仅有本地临时 LocalId；ClientMsgId 贯穿乐观消息、
// 服务端确认和推送回声，是同一次逻辑发送的唯一标识
type Message struct {
	Id             int64     `json:"id"`
	LocalId        int64     `json:"localId,omitempty"`
	ClientMsgId    string    `json:"clientMsgId"`
	ConversationId int64     `json:"conversationId"`
	SenderId       int64     `json:"senderId"`
	Content        string    `json:"content"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	Status         int       `json:"status"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SanitizeContent 清洗消息内容
// 去除首尾空白，过滤除换行和制表符以外的控制字符
func SanitizeContent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
