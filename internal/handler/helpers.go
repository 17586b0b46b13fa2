package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/birdsearch/internal/job"
	"github.com/xxxsen/birdsearch/internal/middleware"
	"github.com/xxxsen/birdsearch/internal/pkg/errcode"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserIDKey)
}

// errorCode maps service errors onto response codes. Insufficient-data
// errors keep their message so the caller sees the missing counts.
func errorCode(err error) (int, string) {
	var insufficient *appErr.InsufficientTrainingDataError
	switch {
	case errors.As(err, &insufficient):
		return errcode.ErrInsufficientTrainingData, insufficient.Error()
	case errors.Is(err, appErr.ErrInsufficientTrainingData):
		return errcode.ErrInsufficientTrainingData, "insufficient training data"
	case errors.Is(err, appErr.ErrUnauthorized):
		return errcode.ErrUnauthorized, "unauthorized"
	case errors.Is(err, appErr.ErrForbidden):
		return errcode.ErrForbidden, "forbidden"
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrDuplicateLabel):
		return errcode.ErrDuplicateLabel, "tag already assigned"
	case errors.Is(err, appErr.ErrInvalidSessionState):
		return errcode.ErrInvalidSessionState, err.Error()
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid, err.Error()
	case errors.Is(err, appErr.ErrConflict):
		return errcode.ErrConflict, "conflict"
	case errors.Is(err, appErr.ErrTrainingFailure):
		return errcode.ErrTrainingFailure, "training failed"
	case errors.Is(err, job.ErrQueueFull):
		return errcode.ErrQueueFull, "task queue full"
	default:
		return errcode.ErrInternal, "internal error"
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, msg := errorCode(err)
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Int("code", code),
		zap.Error(err),
	)
	response.ErrorDetail(c, code, msg, errorDetail(err))
}

type insufficientDetail struct {
	TagID         string `json:"tag_id"`
	Positives     int    `json:"positives"`
	Negatives     int    `json:"negatives"`
	MorePositives int    `json:"more_positives"`
	MoreNegatives int    `json:"more_negatives"`
}

// errorDetail returns the envelope data for errors that carry fields a
// client can act on.
func errorDetail(err error) interface{} {
	var insufficient *appErr.InsufficientTrainingDataError
	if errors.As(err, &insufficient) {
		return insufficientDetail{
			TagID:         insufficient.TagID,
			Positives:     insufficient.Positives,
			Negatives:     insufficient.Negatives,
			MorePositives: insufficient.MorePositives(),
			MoreNegatives: insufficient.MoreNegatives(),
		}
	}
	return nil
}

func invalid(c *gin.Context, msg string) {
	response.Error(c, errcode.ErrInvalid, msg)
}

func queryInt(c *gin.Context, key string) (*int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, false
	}
	return &v, true
}

func queryBool(c *gin.Context, key string) (*bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, false
	}
	return &v, true
}
