package httptransport

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/service"
)

type createAddressRequest struct {
	LocalPart  string `json:"localPart"`
	Domain     string `json:"domain"`
	TTLMinutes int    `json:"ttlMinutes"`
}

type extendAddressRequest struct {
	TTLMinutes int `json:"ttlMinutes" binding:"required"`
}

// createAddress 创建临时地址，请求体可以为空
func (h *Handler) createAddress(c *gin.Context) {
	var req createAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	a, err := h.addresses.Provision(c.Request.Context(), service.ProvisionInput{
		LocalPart:  req.LocalPart,
		Domain:     req.Domain,
		TTLMinutes: req.TTLMinutes,
	})
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, a)
}

// listAddresses 支持 domainId 和 active 过滤
func (h *Handler) listAddresses(c *gin.Context) {
	opts, ok := listOptions(c)
	if !ok {
		BadRequest(c, MsgInvalidPagination)
		return
	}
	active, ok := boolQuery(c, "active")
	if !ok {
		BadRequest(c, MsgInvalidActive)
		return
	}

	page, err := h.addresses.List(c.Request.Context(), domain.AddressFilter{
		DomainID: c.Query("domainId"),
		Active:   active,
	}, opts)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, page)
}

func (h *Handler) getAddress(c *gin.Context) {
	a, err := h.addresses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, a)
}

// extendAddress 过期时间改为 now + ttlMinutes
func (h *Handler) extendAddress(c *gin.Context) {
	var req extendAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, domain.ErrInvalidTTL)
		return
	}
	a, err := h.addresses.Extend(c.Request.Context(), c.Param("id"), req.TTLMinutes)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, a)
}

func (h *Handler) deactivateAddress(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.addresses.Deactivate(ctx, id); err != nil {
		Error(c, err)
		return
	}
	a, err := h.addresses.Get(ctx, id)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, a)
}

func (h *Handler) deleteAddress(c *gin.Context) {
	if err := h.addresses.Delete(c.Request.Context(), c.Param("id")); err != nil {
		Error(c, err)
		return
	}
	NoContent(c)
}
