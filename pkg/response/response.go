package response

import (
	"errors"
	"net/http"

	"finledger/internal/model"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeInsufficientFunds = 1001
	CodeCurrencyNotFound  = 1002
	CodeInvalidAmount     = 1003
	CodeStateInvalid      = 1004
	CodeConflict          = 1005
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

// FromError 按错误分类映射业务码
func FromError(c *gin.Context, err error) {
	Error(c, CodeOf(err), err.Error())
}

func CodeOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, model.ErrCurrencyNotFound):
		return CodeCurrencyNotFound
	case errors.Is(err, model.ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, model.ErrValidation):
		return CodeParamError
	case errors.Is(err, model.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, model.ErrStateInvalid):
		return CodeStateInvalid
	case errors.Is(err, model.ErrConflict):
		return CodeConflict
	default:
		return CodeServerError
	}
}
