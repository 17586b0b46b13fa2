// Package response writes the {code, message, data} envelope returned by
// every route. Failures keep HTTP 200 and carry an errcode value in code.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

type codeErr struct {
	code uint32
	msg  string
}

func (e codeErr) Error() string {
	return e.msg
}

func (e codeErr) Code() uint32 {
	return e.code
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, http.StatusOK, codeErr{code: uint32(code), msg: message})
}

// ErrorDetail fails the request with detail as the envelope data, so a client
// can read structured fields such as missing label counts.
func ErrorDetail(c *gin.Context, code int, message string, detail interface{}) {
	if detail == nil {
		Error(c, code, message)
		return
	}
	_ = c.Error(codeErr{code: uint32(code), msg: message})
	c.AbortWithStatusJSON(http.StatusOK, &proxyutil.CommonResponse{
		Code:    uint32(code),
		Message: message,
		Data:    detail,
	})
}
