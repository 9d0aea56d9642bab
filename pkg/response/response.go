package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.market.messaging/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 错误码常量（使用 pkg/errors 包的定义）
const (
	CodeSuccess = appErrors.CodeSuccess

	CodeTokenInvalid = appErrors.CodeTokenInvalid
	CodeTokenExpired = appErrors.CodeTokenExpired

	CodeInvalidParams  = appErrors.CodeInvalidParams
	CodeEmptyMessage   = appErrors.CodeEmptyMessage
	CodeMessageTooLong = appErrors.CodeMessageTooLong

	CodeConversationNotFound = appErrors.CodeConversationNotFound
	CodeNotParticipant       = appErrors.CodeNotParticipant
	CodeNoActiveConversation = appErrors.CodeNoActiveConversation
	CodeProductNotFound      = appErrors.CodeProductNotFound
	CodeCannotContactSelf    = appErrors.CodeCannotContactSelf

	CodeServerError    = appErrors.CodeServerError
	CodeDBError        = appErrors.CodeDBError
	CodeTransportError = appErrors.CodeTransportError
)

var codeMessages = map[int]string{
	CodeSuccess:              "success",
	CodeTokenInvalid:         "Token 无效",
	CodeTokenExpired:         "Token 已过期",
	CodeInvalidParams:        "参数校验失败",
	CodeEmptyMessage:         "消息内容不能为空",
	CodeMessageTooLong:       "消息内容超出长度限制",
	CodeConversationNotFound: "会话不存在",
	CodeNotParticipant:       "无权访问该会话",
	CodeNoActiveConversation: "未选择会话",
	CodeProductNotFound:      "商品不存在",
	CodeCannotContactSelf:    "不能对自己的商品发起会话",
	CodeServerError:          "服务器内部错误",
	CodeDBError:              "数据库错误",
	CodeTransportError:       "网络请求失败",
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int) {
	message := codeMessages[code]
	if message == "" {
		message = "unknown error"
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorFromAppError 从 AppError 生成错误响应
func ErrorFromAppError(c *gin.Context, err error) {
	code := appErrors.GetCode(err)
	message := appErrors.GetMessage(err)
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    CodeTokenInvalid,
		Message: codeMessages[CodeTokenInvalid],
		Data:    nil,
	})
}
