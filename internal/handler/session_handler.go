package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/birdsearch/internal/job"
	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/pkg/response"
	"github.com/xxxsen/birdsearch/internal/service"
)

const (
	TaskKindAdvance  = "advance_iteration"
	TaskKindFinalize = "finalize"
)

type SessionHandler struct {
	sessions *service.SessionService
	finalize *service.FinalizeService
	queue    *job.TaskQueue
}

func NewSessionHandler(sessions *service.SessionService, finalize *service.FinalizeService, queue *job.TaskQueue) *SessionHandler {
	return &SessionHandler{sessions: sessions, finalize: finalize, queue: queue}
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	sess, err := h.sessions.CreateSession(c.Request.Context(), getUserID(c), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, sess)
}

func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, sess)
}

func (h *SessionHandler) Sample(c *gin.Context) {
	out, err := h.sessions.RunInitialSampling(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, out)
}

// Advance enqueues training for the next iteration and returns the task.
// Sessions that cannot train yet are rejected before anything is queued.
func (h *SessionHandler) Advance(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.sessions.CheckTrainable(c.Request.Context(), sessionID); err != nil {
		handleError(c, err)
		return
	}
	task, err := h.queue.Submit(c.Request.Context(), TaskKindAdvance, sessionID, func(ctx context.Context) (interface{}, error) {
		return h.sessions.AdvanceIteration(ctx, sessionID)
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, task)
}

func (h *SessionHandler) Stop(c *gin.Context) {
	sess, err := h.sessions.StopSearch(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, sess)
}

type labelingCompleteRequest struct {
	Complete *bool `json:"complete"`
}

func (h *SessionHandler) SetLabelingComplete(c *gin.Context) {
	var req labelingCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Complete == nil {
		invalid(c, "complete required")
		return
	}
	sess, err := h.sessions.SetLabelingComplete(c.Request.Context(), c.Param("id"), *req.Complete)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, sess)
}

func (h *SessionHandler) ListResults(c *gin.Context) {
	iteration, ok := queryInt(c, "iteration")
	if !ok {
		invalid(c, "invalid iteration")
		return
	}
	labeled, ok := queryBool(c, "labeled")
	if !ok {
		invalid(c, "invalid labeled")
		return
	}
	filter := model.ResultFilter{
		Iteration:  iteration,
		SampleType: model.SampleType(c.Query("sample_type")),
		Labeled:    labeled,
	}
	results, err := h.sessions.ListResults(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, results)
}

func (h *SessionHandler) Progress(c *gin.Context) {
	progress, err := h.sessions.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, progress)
}

func (h *SessionHandler) Distributions(c *gin.Context) {
	dists, err := h.sessions.Distributions(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dists)
}

// Finalize enqueues training of the deployable model.
func (h *SessionHandler) Finalize(c *gin.Context) {
	var req service.FinalizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalid(c, "invalid request")
			return
		}
	}
	sessionID := c.Param("id")
	if err := h.sessions.CheckTrainable(c.Request.Context(), sessionID); err != nil {
		handleError(c, err)
		return
	}
	userID := getUserID(c)
	task, err := h.queue.Submit(c.Request.Context(), TaskKindFinalize, sessionID, func(ctx context.Context) (interface{}, error) {
		return h.finalize.Finalize(ctx, userID, sessionID, req)
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, task)
}
