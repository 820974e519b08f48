// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation_error"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeInvalidState   ErrorType = "invalid_state"
	ErrorTypeBackendFailure ErrorType = "backend_failure"
	ErrorTypeUnauthorized   ErrorType = "unauthorized"
)

// AppError 应用程序错误结构
//
// Message 是可以直接展示给用户的文本。
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误（场景、角色、服务配置缺失）
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewInvalidStateError 创建状态错误（历史结构不允许当前操作）
func NewInvalidStateError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeInvalidState, message, originalError)
}

// NewBackendFailureError 创建后端失败错误
func NewBackendFailureError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeBackendFailure, message, originalError)
}

// NewUnauthorizedError 创建未授权错误
func NewUnauthorizedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnauthorized, message, originalError)
}

func isType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsInvalidStateError 检查是否为状态错误
func IsInvalidStateError(err error) bool { return isType(err, ErrorTypeInvalidState) }

// IsBackendFailureError 检查是否为后端失败
func IsBackendFailureError(err error) bool { return isType(err, ErrorTypeBackendFailure) }

// IsUnauthorizedError 检查是否为未授权错误
func IsUnauthorizedError(err error) bool { return isType(err, ErrorTypeUnauthorized) }

// UserMessage 返回适合展示给用户的文本，非 AppError 时返回 fallback
func UserMessage(err error, fallback string) string {
	var appError *AppError
	if errors.As(err, &appError) && appError.Message != "" {
		return appError.Message
	}
	return fallback
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeInvalidState:
		return "INVALID_STATE"
	case ErrorTypeBackendFailure:
		return "BACKEND_FAILURE"
	case ErrorTypeUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 已经是 AppError，保留原类型
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
