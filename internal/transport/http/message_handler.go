package httptransport

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type markReadRequest struct {
	Read *bool `json:"read"`
}

func (h *Handler) listMessages(c *gin.Context) {
	opts, ok := listOptions(c)
	if !ok {
		BadRequest(c, MsgInvalidPagination)
		return
	}
	page, err := h.messages.List(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, page)
}

func (h *Handler) getMessage(c *gin.Context) {
	m, err := h.messages.Get(c.Request.Context(), c.Param("id"), c.Param("messageId"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, m)
}

// markMessageRead 请求体为空时标记为已读，{"read": false} 标记为未读
func (h *Handler) markMessageRead(c *gin.Context) {
	var req markReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidJSON)
			return
		}
	}
	read := req.Read == nil || *req.Read

	if err := h.messages.MarkRead(c.Request.Context(), c.Param("id"), c.Param("messageId"), read); err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"read": read})
}

func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.messages.Delete(c.Request.Context(), c.Param("id"), c.Param("messageId")); err != nil {
		Error(c, err)
		return
	}
	NoContent(c)
}

// downloadAttachment 以附件形式返回二进制内容
func (h *Handler) downloadAttachment(c *gin.Context) {
	ref, body, err := h.messages.OpenAttachment(c.Request.Context(), c.Param("id"), c.Param("messageId"), c.Param("attachmentId"))
	if err != nil {
		Error(c, err)
		return
	}
	defer body.Close()

	contentType := ref.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": ref.Filename}))
	c.Header("Content-Length", strconv.FormatInt(ref.SizeBytes, 10))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.log.Warn("attachment download interrupted", zap.String("attachment_id", ref.ID), zap.Error(err))
	}
}
