package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.market.messaging/internal/chat"
	"sudooom.market.messaging/internal/middleware"
	"sudooom.market.messaging/internal/service"
	"sudooom.market.messaging/pkg/response"
)

// ChatHandler 会话处理器
// 每个已认证用户对应一个长驻会话引擎实例，由 SessionManager 管理
type ChatHandler struct {
	sessions  *chat.SessionManager
	messaging *service.MessagingService
}

// NewChatHandler 创建会话处理器
func NewChatHandler(sessions *chat.SessionManager, messaging *service.MessagingService) *ChatHandler {
	return &ChatHandler{
		sessions:  sessions,
		messaging: messaging,
	}
}

// session 获取或创建当前用户的会话引擎
func (h *ChatHandler) session(c *gin.Context) (*chat.Session, bool) {
	userID := middleware.GetUserID(c)
	sess, err := h.sessions.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return nil, false
	}
	return sess, true
}

// ListConversations 查询会话列表
// 支持 type（buying/selling）与 search 过滤，结果按最近活动倒序
func (h *ChatHandler) ListConversations(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.Refresh(c.Request.Context()); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	sess.UpdateSearch(c.Query("search"), c.Query("type"))

	convs := sess.Conversations()
	unread := 0
	for _, conv := range convs {
		unread += conv.UnreadCount
	}

	response.Success(c, gin.H{
		"conversations": convs,
		"total_unread":  unread,
	})
}

// CreateConversation 就商品发起会话
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req struct {
		ProductId int64  `json:"product_id" binding:"required"`
		Content   string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	conv, err := h.messaging.CreateConversation(c.Request.Context(), userID, req.ProductId, req.Content)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	// 新会话要出现在列表里
	if sess, ok := h.sessions.Get(userID); ok {
		_ = sess.Refresh(c.Request.Context())
	}

	response.Success(c, conv)
}

// SelectConversation 选中会话
// 切换订阅并加载历史消息；conversation_id 为 0 表示取消选中
func (h *ChatHandler) SelectConversation(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	conversationId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, response.CodeInvalidParams)
		return
	}

	if err := sess.Select(c.Request.Context(), conversationId); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, gin.H{
		"conversation_id": conversationId,
		"state":           sess.State().String(),
	})
}

// DeselectConversation 取消选中会话
func (h *ChatHandler) DeselectConversation(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.Select(c.Request.Context(), 0); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, nil)
}

// ListMessages 查询当前选中会话的消息视图
// 包含乐观、已确认和失败三类消息，按创建时间排序
func (h *ChatHandler) ListMessages(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	conversationId := sess.Selected()
	if conversationId == 0 {
		response.Error(c, response.CodeNoActiveConversation)
		return
	}

	response.Success(c, gin.H{
		"conversation_id": conversationId,
		"state":           sess.State().String(),
		"messages":        sess.View(conversationId),
		"typing_users":    sess.TypingUsers(conversationId),
	})
}

// SendMessage 发送消息
// 立即返回乐观消息，持久化结果通过视图推送体现
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		Content  string `json:"content"`
		ImageURL string `json:"image_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return
	}

	sess, ok := h.session(c)
	if !ok {
		return
	}

	msg, err := sess.Send(c.Request.Context(), req.Content, req.ImageURL)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, msg)
}

// RetryMessage 重试失败消息
func (h *ChatHandler) RetryMessage(c *gin.Context) {
	localId, err := strconv.ParseInt(c.Param("localId"), 10, 64)
	if err != nil {
		response.Error(c, response.CodeInvalidParams)
		return
	}

	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.Retry(c.Request.Context(), localId); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, nil)
}

// MarkRead 标记当前会话已读
func (h *ChatHandler) MarkRead(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.MarkRead(c.Request.Context()); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, nil)
}

// Typing 上报输入状态
func (h *ChatHandler) Typing(c *gin.Context) {
	var req struct {
		HasContent bool `json:"has_content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return
	}

	sess, ok := h.session(c)
	if !ok {
		return
	}

	sess.OnInputChanged(req.HasContent)
	response.Success(c, nil)
}

// TotalUnread 查询总未读数
func (h *ChatHandler) TotalUnread(c *gin.Context) {
	userID := middleware.GetUserID(c)

	total, err := h.messaging.TotalUnread(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, gin.H{"total_unread": total})
}

// ArchiveConversation 归档会话
func (h *ChatHandler) ArchiveConversation(c *gin.Context) {
	conversationId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, response.CodeInvalidParams)
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.messaging.ArchiveConversation(c.Request.Context(), userID, conversationId); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	if sess, ok := h.sessions.Get(userID); ok {
		_ = sess.Refresh(c.Request.Context())
	}

	response.Success(c, nil)
}
