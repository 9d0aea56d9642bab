package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.market.messaging/internal/model"
	"sudooom.market.messaging/pkg/snowflake"
)

// MessageBatcherConfig 批量写入配置
type MessageBatcherConfig struct {
	BatchSize     int           // 批量大小阈值
	FlushInterval time.Duration // 强制刷新间隔
}

// messageToSave 待保存的消息
type messageToSave struct {
	msg        *model.Message
	resultChan chan error // 用于通知保存结果
}

// MessageBatcher 消息批量写入器
// 发送路径使用同步模式（等待落库后才算确认），
// 其余写入走异步批量以摊薄数据库往返
type MessageBatcher struct {
	db       *pgxpool.Pool
	sf       *snowflake.Node
	config   MessageBatcherConfig
	msgChan  chan *messageToSave
	logger   *slog.Logger
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewMessageBatcher 创建消息批量写入器
func NewMessageBatcher(db *pgxpool.Pool, sf *snowflake.Node, config MessageBatcherConfig) *MessageBatcher {
	// 设置默认值
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	return &MessageBatcher{
		db:       db,
		sf:       sf,
		config:   config,
		msgChan:  make(chan *messageToSave, config.BatchSize*10),
		logger:   slog.Default(),
		stopChan: make(chan struct{}),
	}
}

// Start 启动批量写入器
func (b *MessageBatcher) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.worker(ctx)
	b.logger.Info("MessageBatcher started",
		"batchSize", b.config.BatchSize,
		"flushInterval", b.config.FlushInterval,
	)
}

// Stop 停止批量写入器
func (b *MessageBatcher) Stop() {
	close(b.stopChan)
	b.wg.Wait()
	b.logger.Info("MessageBatcher stopped")
}

// SaveMessage 异步保存消息（立即返回分配的持久 ID）
func (b *MessageBatcher) SaveMessage(msg *model.Message) (int64, error) {
	id := b.sf.Generate().Int64()
	msg.Id = id

	toSave := &messageToSave{msg: msg, resultChan: make(chan error, 1)}

	select {
	case b.msgChan <- toSave:
		// 入队成功，立即返回（不等待数据库写入）
		return id, nil
	default:
		// 队列满，记录警告，同步等待
		b.logger.Warn("Message batch queue full, waiting...")
		b.msgChan <- toSave
		return id, nil
	}
}

// SaveMessageSync 同步保存消息（等待写入完成）
func (b *MessageBatcher) SaveMessageSync(msg *model.Message) (int64, error) {
	id := b.sf.Generate().Int64()
	msg.Id = id

	toSave := &messageToSave{msg: msg, resultChan: make(chan error, 1)}
	b.msgChan <- toSave

	// 等待写入结果
	err := <-toSave.resultChan
	return id, err
}

// worker 后台工作协程
func (b *MessageBatcher) worker(ctx context.Context) {
	defer b.wg.Done()

	batch := make([]*messageToSave, 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				b.flush(context.Background(), batch)
			}
			return
		case <-b.stopChan:
			if len(batch) > 0 {
				b.flush(context.Background(), batch)
			}
			return
		case msg := <-b.msgChan:
			batch = append(batch, msg)
			// 达到批量大小阈值，立即刷入
			if len(batch) >= b.config.BatchSize {
				b.flush(ctx, batch)
				batch = make([]*messageToSave, 0, b.config.BatchSize)
			}
		case <-ticker.C:
			// 定时刷入（即使未满也写入）
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]*messageToSave, 0, b.config.BatchSize)
			}
		}
	}
}

// flush 批量写入数据库
func (b *MessageBatcher) flush(ctx context.Context, batch []*messageToSave) {
	if len(batch) == 0 {
		return
	}

	startTime := time.Now()

	pgBatch := &pgx.Batch{}
	query := `
		INSERT INTO messages (id, client_msg_id, conversation_id, sender_id, content, image_url, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, m := range batch {
		pgBatch.Queue(query,
			m.msg.Id,
			m.msg.ClientMsgId,
			m.msg.ConversationId,
			m.msg.SenderId,
			m.msg.Content,
			m.msg.ImageURL,
			m.msg.Read,
			m.msg.CreatedAt,
		)
	}

	br := b.db.SendBatch(ctx, pgBatch)
	defer func(br pgx.BatchResults) {
		if err := br.Close(); err != nil {
			b.logger.Error("Failed to close batch results", "error", err)
		}
	}(br)

	// 收集结果并通知等待的调用者
	var batchErr error
	for i := 0; i < len(batch); i++ {
		_, err := br.Exec()
		if err != nil {
			batchErr = err
			b.logger.Error("Failed to save message in batch",
				"messageId", batch[i].msg.Id,
				"error", err,
			)
		}
		if batch[i].resultChan != nil {
			select {
			case batch[i].resultChan <- err:
			default:
			}
		}
	}

	elapsed := time.Since(startTime)
	if batchErr != nil {
		b.logger.Error("Batch flush completed with errors",
			"count", len(batch),
			"elapsed", elapsed,
		)
	} else {
		b.logger.Debug("Batch flush completed",
			"count", len(batch),
			"elapsed", elapsed,
		)
	}
}

// QueueSize 获取当前队列大小（用于监控）
func (b *MessageBatcher) QueueSize() int {
	return len(b.msgChan)
}
