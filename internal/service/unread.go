package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis Key 定义
const (
	// conversationIndexKeyPrefix 会话索引 Key 前缀（ZSET，按活动时间排序）
	// Key: market:conv:index:{userId}
	conversationIndexKeyPrefix = "market:conv:index:"

	// conversationKeyPrefix 会话详情 Key 前缀（HASH）
	// Key: market:conv:{userId}:{conversationId}
	conversationKeyPrefix = "market:conv:"
)

// BuildConversationIndexKey 构建会话索引 Key
func BuildConversationIndexKey(userId int64) string {
	return fmt.Sprintf("%s%d", conversationIndexKeyPrefix, userId)
}

// BuildConversationKey 构建会话详情 Key
func BuildConversationKey(userId, conversationId int64) string {
	return fmt.Sprintf("%s%d:%d", conversationKeyPrefix, userId, conversationId)
}

// ConversationActivity 会话活动快照
type ConversationActivity struct {
	LastMsgId   int64
	UnreadCount int
	UpdateAt    int64 // 毫秒
}

// ConversationIndex 会话活动索引（基于 Redis）
// 维护每个用户的会话未读数与最近活动时间，
// 供会话列表查询时合并
type ConversationIndex struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewConversationIndex 创建会话活动索引
func NewConversationIndex(redisClient *redis.Client) *ConversationIndex {
	return &ConversationIndex{
		redisClient: redisClient,
		logger:      slog.Default(),
	}
}

// BumpForSender 更新发送者的会话（发消息时，不增加未读）
func (s *ConversationIndex) BumpForSender(ctx context.Context, userId, conversationId, msgId int64) error {
	now := time.Now().UnixMilli()
	convKey := BuildConversationKey(userId, conversationId)
	idxKey := BuildConversationIndexKey(userId)
	member := strconv.FormatInt(conversationId, 10)

	pipe := s.redisClient.Pipeline()
	pipe.HSet(ctx, convKey, "last_msg_id", msgId, "update_at", now)
	pipe.ZAdd(ctx, idxKey, redis.Z{Score: float64(now), Member: member})
	_, err := pipe.Exec(ctx)

	return err
}

// BumpForReceiver 更新接收者的会话（收到消息时，未读数加一）
func (s *ConversationIndex) BumpForReceiver(ctx context.Context, userId, conversationId, msgId int64) error {
	now := time.Now().UnixMilli()
	convKey := BuildConversationKey(userId, conversationId)
	idxKey := BuildConversationIndexKey(userId)
	member := strconv.FormatInt(conversationId, 10)

	pipe := s.redisClient.Pipeline()
	pipe.HSet(ctx, convKey, "last_msg_id", msgId, "update_at", now)
	pipe.HIncrBy(ctx, convKey, "unread_count", 1)
	pipe.ZAdd(ctx, idxKey, redis.Z{Score: float64(now), Member: member})
	_, err := pipe.Exec(ctx)

	return err
}

// MarkRead 标记会话已读
func (s *ConversationIndex) MarkRead(ctx context.Context, userId, conversationId, lastReadMsgId int64) error {
	convKey := BuildConversationKey(userId, conversationId)
	return s.redisClient.HSet(ctx, convKey, "unread_count", 0, "last_read_msg_id", lastReadMsgId).Err()
}

// Snapshot 获取用户全部会话的活动快照
func (s *ConversationIndex) Snapshot(ctx context.Context, userId int64) (map[int64]ConversationActivity, error) {
	idxKey := BuildConversationIndexKey(userId)

	members, err := s.redisClient.ZRange(ctx, idxKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[int64]ConversationActivity, len(members))
	if len(members) == 0 {
		return result, nil
	}

	// Pipeline 批量获取会话详情
	pipe := s.redisClient.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, m := range members {
		conversationId, _ := strconv.ParseInt(m, 10, 64)
		cmds[i] = pipe.HGetAll(ctx, BuildConversationKey(userId, conversationId))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		conversationId, _ := strconv.ParseInt(members[i], 10, 64)
		result[conversationId] = ConversationActivity{
			LastMsgId:   parseInt64(data["last_msg_id"]),
			UnreadCount: int(parseInt64(data["unread_count"])),
			UpdateAt:    parseInt64(data["update_at"]),
		}
	}

	return result, nil
}

// TotalUnread 获取用户总未读数
func (s *ConversationIndex) TotalUnread(ctx context.Context, userId int64) (int64, error) {
	idxKey := BuildConversationIndexKey(userId)

	members, err := s.redisClient.ZRange(ctx, idxKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	if len(members) == 0 {
		return 0, nil
	}

	// Pipeline 批量获取未读数
	pipe := s.redisClient.Pipeline()
	cmds := make([]*redis.StringCmd, len(members))
	for i, m := range members {
		conversationId, _ := strconv.ParseInt(m, 10, 64)
		cmds[i] = pipe.HGet(ctx, BuildConversationKey(userId, conversationId), "unread_count")
	}

	_, _ = pipe.Exec(ctx)

	var total int64
	for _, cmd := range cmds {
		count, err := cmd.Int64()
		if err == nil {
			total += count
		}
	}

	return total, nil
}

func parseInt64(str string) int64 {
	v, _ := strconv.ParseInt(str, 10, 64)
	return v
}
