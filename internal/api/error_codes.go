// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorUnauthorized  = "UNAUTHORIZED"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 会话相关错误
	ErrorInvalidState   = "INVALID_STATE"
	ErrorValidation     = "VALIDATION_ERROR"
	ErrorUnknownCommand = "UNKNOWN_COMMAND"

	// 生成后端相关错误
	ErrorBackendFailure = "BACKEND_FAILURE"
)
