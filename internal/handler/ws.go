package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sudooom.market.messaging/internal/chat"
	"sudooom.market.messaging/internal/middleware"
	"sudooom.market.messaging/internal/model"
	"sudooom.market.messaging/pkg/response"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 128
)

// ViewFrame 推送给客户端的消息视图帧
type ViewFrame struct {
	Event          string          `json:"event"`
	ConversationId int64           `json:"conversationId"`
	Messages       []model.Message `json:"messages"`
}

// wsConn 单个 WebSocket 连接
// 出站写入经缓冲通道串行化；缓冲写满说明客户端消费过慢，直接断开
type wsConn struct {
	ws      *websocket.Conn
	send    chan []byte
	once    sync.Once
	closeCh chan struct{}
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:      ws,
		send:    make(chan []byte, wsSendBuffer),
		closeCh: make(chan struct{}),
	}
}

func (c *wsConn) enqueue(payload []byte) error {
	select {
	case <-c.closeCh:
		return errors.New("connection closed")
	case c.send <- payload:
		return nil
	default:
		c.close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

func (c *wsConn) close(code int, reason string) {
	c.once.Do(func() {
		close(c.closeCh)
		_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		_ = c.ws.Close()
	})
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// WSHandler WebSocket 推送处理器
// 把会话引擎的视图变更实时推给客户端
type WSHandler struct {
	sessions *chat.SessionManager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler 创建 WebSocket 推送处理器
func NewWSHandler(sessions *chat.SessionManager) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: slog.Default().With("component", "ws_handler"),
	}
}

// Stream 建立 WebSocket 连接
// 连接期间订阅会话引擎的视图变更；断开时解除订阅
func (h *WSHandler) Stream(c *gin.Context) {
	userID := middleware.GetUserID(c)

	sess, err := h.sessions.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	conn := newWSConn(ws)
	go conn.writeLoop()

	sess.SetOnViewChange(func(conversationId int64, view []model.Message) {
		frame := ViewFrame{
			Event:          "view-change",
			ConversationId: conversationId,
			Messages:       view,
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			return
		}
		if err := conn.enqueue(payload); err != nil {
			h.logger.Debug("push dropped", "user_id", userID, "error", err)
		}
	})

	h.logger.Info("websocket connected", "user_id", userID)

	// 读循环只用于感知客户端断开和响应 Pong
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	}

	sess.SetOnViewChange(nil)
	conn.close(websocket.CloseNormalClosure, "bye")
	h.logger.Info("websocket disconnected", "user_id", userID)
}
