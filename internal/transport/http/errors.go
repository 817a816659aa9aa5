package httptransport

import (
	"net/http"

	"tempmail/inbox/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidJSON       = "invalid JSON body"
	MsgInvalidPagination = "page and limit must be positive integers"
	MsgInvalidActive     = "active must be true or false"
	MsgInternalError     = "internal server error"
)

// StatusOf 错误分类对应的 HTTP 状态码
func StatusOf(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindExpired:
		return http.StatusGone
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
