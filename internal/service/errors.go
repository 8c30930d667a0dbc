package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("参数错误")
	ErrBeneficiaryNotFound  = errors.New("受益人不存在")
	ErrConsignmentNotFound  = errors.New("借款不存在")
	ErrBeneficiaryBlocked   = errors.New("受益人已停用或被冻结")
	ErrConsignmentNotActive = errors.New("借款已取消或已失效")
	ErrAuthorityUnavailable = errors.New("外部机构不可用")
	ErrAuthorityRejected    = errors.New("外部机构拒绝")
	ErrInconsistentSchedule = errors.New("分期合计与借款总额不一致")
	ErrBusy                 = errors.New("系统繁忙，请稍后重试")
)

// AuthorityRejection 外部机构的拒绝信息，Message 原样返回给调用方
type AuthorityRejection struct {
	Code    string
	Message string
}

func (e *AuthorityRejection) Error() string {
	return fmt.Sprintf("%s [%s]: %s", ErrAuthorityRejected.Error(), e.Code, e.Message)
}

func (e *AuthorityRejection) Is(target error) bool {
	return target == ErrAuthorityRejected
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
