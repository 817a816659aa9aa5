package httptransport

import (
	"github.com/gin-gonic/gin"

	"tempmail/inbox/internal/service"
)

type createDomainRequest struct {
	Name      string `json:"name" binding:"required"`
	Active    *bool  `json:"active"`
	IsDefault bool   `json:"isDefault"`
}

type updateDomainRequest struct {
	Active    *bool `json:"active"`
	IsDefault *bool `json:"isDefault"`
}

// listDomains 列出域名，?active=true 只返回启用的
func (h *Handler) listDomains(c *gin.Context) {
	active, ok := boolQuery(c, "active")
	if !ok {
		BadRequest(c, MsgInvalidActive)
		return
	}
	domains, err := h.domains.List(c.Request.Context(), active != nil && *active)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, domains)
}

func (h *Handler) createDomain(c *gin.Context) {
	var req createDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	d, err := h.domains.Create(c.Request.Context(), service.CreateDomainInput{
		Name:      req.Name,
		Active:    req.Active,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, d)
}

func (h *Handler) getDomain(c *gin.Context) {
	d, err := h.domains.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, d)
}

func (h *Handler) updateDomain(c *gin.Context) {
	var req updateDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	d, err := h.domains.Update(c.Request.Context(), c.Param("id"), service.UpdateDomainInput{
		Active:    req.Active,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, d)
}

func (h *Handler) deleteDomain(c *gin.Context) {
	if err := h.domains.Delete(c.Request.Context(), c.Param("id")); err != nil {
		Error(c, err)
		return
	}
	NoContent(c)
}
