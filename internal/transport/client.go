package transport

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.market.messaging/internal/config"
)

// Unsubscribe 解除订阅句柄
// 由持有订阅的一方在会话切换或关闭时调用
type Unsubscribe func() error

// Envelope 通道事件信封
// 同一 Subject 上通过 Event 字段区分事件类型
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client NATS 通道客户端
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewClient 创建 NATS 通道客户端
func NewClient(cfg config.NATSConfig) (*Client, error) {
	logger := slog.Default()

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn, logger: logger}, nil
}

// Conn 返回底层 NATS 连接
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Bind 订阅指定 Subject 上的指定事件
// 返回解除订阅句柄；同一 Subject 上的其他事件会被忽略
func (c *Client) Bind(subject, event string, handler func(data []byte)) (Unsubscribe, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			c.logger.Warn("Failed to unmarshal channel envelope",
				"subject", subject,
				"error", err)
			return
		}
		if env.Event != event {
			return
		}
		handler(env.Data)
	})
	if err != nil {
		return nil, err
	}

	return sub.Unsubscribe, nil
}

// Publish 向指定 Subject 发布事件
func (c *Client) Publish(subject, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	buf, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	return c.conn.Publish(subject, buf)
}

// Close 关闭连接
func (c *Client) Close() {
	c.conn.Close()
}
