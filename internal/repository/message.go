package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.market.messaging/internal/model"
)

// MessageRepository 消息仓库
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// ListByConversation 查询会话内全部消息（按创建时间升序）
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationId int64) ([]model.Message, error) {
	query := `
		SELECT id, client_msg_id, conversation_id, sender_id, content, image_url, read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, conversationId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(
			&msg.Id,
			&msg.ClientMsgId,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.Content,
			&msg.ImageURL,
			&msg.Read,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		msg.Status = model.MessageStatusConfirmed
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// FindByID 根据 ID 查找消息
func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*model.Message, error) {
	query := `
		SELECT id, client_msg_id, conversation_id, sender_id, content, image_url, read, created_at
		FROM messages WHERE id = $1
	`

	var msg model.Message
	err := r.db.QueryRow(ctx, query, id).Scan(
		&msg.Id,
		&msg.ClientMsgId,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.Content,
		&msg.ImageURL,
		&msg.Read,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Status = model.MessageStatusConfirmed
	return &msg, nil
}

// MarkRead 标记会话内非 reader 发送的消息为已读
func (r *MessageRepository) MarkRead(ctx context.Context, conversationId, readerId int64) error {
	query := `
		UPDATE messages SET read = true
		WHERE conversation_id = $1 AND sender_id <> $2 AND read = false
	`
	_, err := r.db.Exec(ctx, query, conversationId, readerId)
	return err
}
