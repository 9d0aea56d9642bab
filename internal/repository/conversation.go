package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.market.messaging/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// ConversationRepository 会话仓库
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// ListByUser 查询用户可见的会话（含对端用户与商品信息）
// filter 取 model.FilterBuying / model.FilterSelling 时按角色过滤
func (r *ConversationRepository) ListByUser(ctx context.Context, userId int64, filter string) ([]model.Conversation, error) {
	query := `
		SELECT c.id, c.buyer_id, c.seller_id, c.status, c.last_message_at,
		       u.id, u.display_name, u.avatar_url,
		       p.id, p.title, p.price, p.status
		FROM conversations c
		JOIN users u ON u.id = CASE WHEN c.buyer_id = $1 THEN c.seller_id ELSE c.buyer_id END
		JOIN products p ON p.id = c.product_id
		WHERE (c.buyer_id = $1 OR c.seller_id = $1)
	`
	switch filter {
	case model.FilterBuying:
		query += ` AND c.buyer_id = $1`
	case model.FilterSelling:
		query += ` AND c.seller_id = $1`
	}
	query += ` ORDER BY c.last_message_at DESC`

	rows, err := r.db.Query(ctx, query, userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]model.Conversation, 0)
	for rows.Next() {
		var conv model.Conversation
		if err := rows.Scan(
			&conv.Id,
			&conv.BuyerId,
			&conv.SellerId,
			&conv.Status,
			&conv.LastActivityAt,
			&conv.Counterparty.Id,
			&conv.Counterparty.DisplayName,
			&conv.Counterparty.AvatarURL,
			&conv.Product.Id,
			&conv.Product.Title,
			&conv.Product.Price,
			&conv.Product.Status,
		); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// FindByID 根据 ID 查找会话（不含对端与商品详情）
func (r *ConversationRepository) FindByID(ctx context.Context, id int64) (*model.Conversation, error) {
	query := `
		SELECT id, buyer_id, seller_id, status, last_message_at
		FROM conversations WHERE id = $1
	`

	var conv model.Conversation
	err := r.db.QueryRow(ctx, query, id).Scan(
		&conv.Id,
		&conv.BuyerId,
		&conv.SellerId,
		&conv.Status,
		&conv.LastActivityAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &conv, nil
}

// FindByProductAndBuyer 查找买家就某商品已发起的会话
func (r *ConversationRepository) FindByProductAndBuyer(ctx context.Context, productId, buyerId int64) (*model.Conversation, error) {
	query := `
		SELECT id, buyer_id, seller_id, status, last_message_at
		FROM conversations WHERE product_id = $1 AND buyer_id = $2
	`

	var conv model.Conversation
	err := r.db.QueryRow(ctx, query, productId, buyerId).Scan(
		&conv.Id,
		&conv.BuyerId,
		&conv.SellerId,
		&conv.Status,
		&conv.LastActivityAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &conv, nil
}

// Create 创建会话
func (r *ConversationRepository) Create(ctx context.Context, buyerId, sellerId, productId int64) (int64, error) {
	query := `
		INSERT INTO conversations (buyer_id, seller_id, product_id, status, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id
	`

	var id int64
	err := r.db.QueryRow(ctx, query, buyerId, sellerId, productId, model.ConversationStatusActive).Scan(&id)
	return id, err
}

// TouchLastMessage 更新会话的最近消息时间
func (r *ConversationRepository) TouchLastMessage(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE conversations SET last_message_at = $2 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, at)
	return err
}

// UpdateStatus 更新会话状态（归档等，会话不会被物理删除）
func (r *ConversationRepository) UpdateStatus(ctx context.Context, id int64, status int) error {
	query := `UPDATE conversations SET status = $2 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, status)
	return err
}

// FindProductSeller 查询商品的卖家
func (r *ConversationRepository) FindProductSeller(ctx context.Context, productId int64) (int64, error) {
	query := `SELECT seller_id FROM products WHERE id = $1`

	var sellerId int64
	err := r.db.QueryRow(ctx, query, productId).Scan(&sellerId)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	return sellerId, nil
}
