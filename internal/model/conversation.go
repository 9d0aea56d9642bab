package model

import "time"

// 会话状态
const (
	ConversationStatusActive   = 0 // 进行中
	ConversationStatusArchived = 1 // 已归档（会话不会被删除，只会归档）
)

// 会话列表筛选类型
const (
	FilterBuying  = "buying"  // 当前用户为买家的会话
	FilterSelling = "selling" // 当前用户为卖家的会话
)

// User 会话对端用户信息
type User struct {
	Id          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Product 会话关联的商品信息
type Product struct {
	Id     int64  `json:"id"`
	Title  string `json:"title"`
	Price  int64  `json:"price"` // 单位：分
	Status string `json:"status"`
}

// Conversation 买卖双方关于某个商品的会话
type Conversation struct {
	Id             int64     `json:"id"`
	BuyerId        int64     `json:"buyerId"`
	SellerId       int64     `json:"sellerId"`
	Counterparty   User      `json:"counterparty"`
	Product        Product   `json:"product"`
	UnreadCount    int       `json:"unreadCount"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	Status         int       `json:"status"`
}
