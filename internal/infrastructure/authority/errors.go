package authority

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrHTTP              = errors.New("外部机构请求失败")
	ErrEmptyResponse     = errors.New("外部机构返回空响应")
	ErrRejected          = errors.New("外部机构拒绝")
	ErrFieldNotFound     = errors.New("外部机构响应缺少字段")
	ErrInvalidNumeric    = errors.New("外部机构响应数值格式错误")
	ErrMalformedResponse = errors.New("外部机构响应无法解析")
)

// RejectedError 外部机构明确返回 sucesso=false，Code/Message 原样透传给调用方
type RejectedError struct {
	Operation string
	Code      string
	Message   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s [%s] %s", ErrRejected.Error(), e.Operation, e.Code, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// AsRejected 提取拒绝详情
func AsRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}

// IsUnavailable 网络、超时、空响应或响应无法解析，都视为外部机构不可用（不是业务拒绝）
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRejected) {
		return false
	}
	return errors.Is(err, ErrHTTP) ||
		errors.Is(err, ErrEmptyResponse) ||
		errors.Is(err, ErrFieldNotFound) ||
		errors.Is(err, ErrInvalidNumeric) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
