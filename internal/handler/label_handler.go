package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/birdsearch/internal/pkg/response"
	"github.com/xxxsen/birdsearch/internal/service"
)

type LabelHandler struct {
	labels *service.LabelService
}

func NewLabelHandler(labels *service.LabelService) *LabelHandler {
	return &LabelHandler{labels: labels}
}

type assignTagRequest struct {
	TagID string `json:"tag_id"`
}

func (h *LabelHandler) AssignTag(c *gin.Context) {
	var req assignTagRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TagID == "" {
		invalid(c, "tag_id required")
		return
	}
	res, err := h.labels.AssignTag(c.Request.Context(), getUserID(c), c.Param("id"), c.Param("rid"), req.TagID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *LabelHandler) RemoveTag(c *gin.Context) {
	res, err := h.labels.RemoveTag(c.Request.Context(), getUserID(c), c.Param("id"), c.Param("rid"), c.Param("tag"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *LabelHandler) SetFlags(c *gin.Context) {
	var req service.FlagUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	if req.IsNegative == nil && req.IsUncertain == nil && req.IsSkipped == nil {
		invalid(c, "no flag given")
		return
	}
	res, err := h.labels.SetFlags(c.Request.Context(), getUserID(c), c.Param("id"), c.Param("rid"), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *LabelHandler) Clear(c *gin.Context) {
	res, err := h.labels.ClearLabels(c.Request.Context(), getUserID(c), c.Param("id"), c.Param("rid"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}
