package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/birdsearch/internal/job"
	"github.com/xxxsen/birdsearch/internal/pkg/errcode"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/pkg/response"
)

type TaskHandler struct {
	queue *job.TaskQueue
}

func NewTaskHandler(queue *job.TaskQueue) *TaskHandler {
	return &TaskHandler{queue: queue}
}

type taskView struct {
	job.Task
	ErrorCode int `json:"error_code,omitempty"`
}

func (h *TaskHandler) Get(c *gin.Context) {
	task, ok := h.queue.Get(c.Param("id"))
	if !ok {
		handleError(c, appErr.ErrNotFound)
		return
	}
	view := taskView{Task: task}
	if task.Status == job.TaskFailed {
		if err := h.queue.Err(task.ID); err != nil {
			view.ErrorCode, view.Error = errorCode(err)
		}
	}
	response.Success(c, view)
}

func (h *TaskHandler) Cancel(c *gin.Context) {
	if !h.queue.Cancel(c.Param("id")) {
		response.Error(c, errcode.ErrNotFound, "task not found or finished")
		return
	}
	task, _ := h.queue.Get(c.Param("id"))
	response.Success(c, task)
}
