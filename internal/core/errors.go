package core

import "fmt"

type ErrorCode string

const (
	ErrBadRequest       ErrorCode = "AGENTD_BAD_REQUEST"
	ErrNotFound         ErrorCode = "AGENTD_NOT_FOUND"
	ErrConflictExists   ErrorCode = "AGENTD_CONFLICT_EXISTS"
	ErrNoBinary         ErrorCode = "AGENTD_NO_BINARY"
	ErrSpawnFailed      ErrorCode = "AGENTD_SPAWN_FAILED"
	ErrLaunchTimeout    ErrorCode = "AGENTD_LAUNCH_TIMEOUT"
	ErrInstanceNotReady ErrorCode = "AGENTD_INSTANCE_NOT_READY"
	ErrProxyFailed      ErrorCode = "AGENTD_PROXY_FAILED"
	ErrInternal         ErrorCode = "AGENTD_INTERNAL"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrBadRequest:
		return 400
	case ErrNotFound:
		return 404
	case ErrConflictExists:
		return 409
	case ErrNoBinary:
		return 412
	case ErrSpawnFailed, ErrInstanceNotReady, ErrProxyFailed:
		return 502
	case ErrLaunchTimeout:
		return 504
	default:
		return 500
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}
