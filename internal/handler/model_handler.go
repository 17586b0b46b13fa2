package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/birdsearch/internal/pkg/response"
	"github.com/xxxsen/birdsearch/internal/service"
)

const maxScoreClips = 10000

type ModelHandler struct {
	models *service.CustomModelService
}

func NewModelHandler(models *service.CustomModelService) *ModelHandler {
	return &ModelHandler{models: models}
}

func (h *ModelHandler) Get(c *gin.Context) {
	cm, err := h.models.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, cm)
}

func (h *ModelHandler) ListBySession(c *gin.Context) {
	models, err := h.models.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, models)
}

func (h *ModelHandler) Archive(c *gin.Context) {
	cm, err := h.models.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, cm)
}

type scoreRequest struct {
	ClipIDs []string `json:"clip_ids"`
}

func (h *ModelHandler) Score(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.ClipIDs) == 0 {
		invalid(c, "clip_ids required")
		return
	}
	if len(req.ClipIDs) > maxScoreClips {
		invalid(c, "too many clip_ids")
		return
	}
	out, err := h.models.ScoreClips(c.Request.Context(), c.Param("id"), req.ClipIDs)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, out)
}
