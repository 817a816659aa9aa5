package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tempmail/inbox/internal/domain"
)

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody 错误详情
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// 通用错误码
const (
	CodeInvalidRequest  = "invalid_request"
	CodeUnknownProvider = "unknown_provider"
	CodeInternal        = "internal"
)

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// NoContent 删除成功（204），没有响应体
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Fail 错误响应
func Fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: msg},
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Fail(c, http.StatusBadRequest, CodeInvalidRequest, msg)
}

// Error 按错误分类选择状态码，内部错误不返回细节
func Error(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := StatusOf(kind)
	if kind == domain.KindInternal {
		_ = c.Error(err)
		Fail(c, status, CodeInternal, MsgInternalError)
		return
	}
	Fail(c, status, kind.String(), err.Error())
}
