// internal/api/response_helpers.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/SceneRelay/internal/errors"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// sanitizeErrorMessage 含有密钥字样的错误信息整体替换
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "auth_key", "secret", "bearer"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应；data 用于附带已经产生的回复
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, data interface{}) {
	response := &APIResponse{
		Success: false,
		Data:    data,
		Error: &APIError{
			Code:    errorCode,
			Message: sanitizeErrorMessage(message),
		},
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.AbortWithStatusJSON(statusCode, response)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, nil)
}

// Unauthorized 401错误响应
func (rh *ResponseHelper) Unauthorized(c *gin.Context, message string) {
	rh.Error(c, http.StatusUnauthorized, ErrorUnauthorized, message, nil)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, nil)
}

// FromError 按错误类型选择状态码
func (rh *ResponseHelper) FromError(c *gin.Context, err error, data interface{}) {
	status, code := statusFor(err)
	rh.Error(c, status, code, apperrors.UserMessage(err, err.Error()), data)
}

func statusFor(err error) (int, string) {
	switch {
	case apperrors.IsNotFoundError(err):
		return http.StatusNotFound, ErrorNotFound
	case apperrors.IsInvalidStateError(err):
		return http.StatusConflict, ErrorInvalidState
	case apperrors.IsBackendFailureError(err):
		return http.StatusBadGateway, ErrorBackendFailure
	case apperrors.IsValidationError(err):
		return http.StatusBadRequest, ErrorValidation
	case apperrors.IsUnauthorizedError(err):
		return http.StatusUnauthorized, ErrorUnauthorized
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
