package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"consignsystem/internal/config"
	"consignsystem/internal/infrastructure/authority"
	"consignsystem/internal/model"
	"consignsystem/internal/repository"
	"consignsystem/pkg/cutoff"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MarginSource 额度来源
type MarginSource string

const (
	MarginSourceLocal    MarginSource = "local"
	MarginSourceExternal MarginSource = "external"
)

// Provenance 额度结果的出处
type Provenance string

const (
	ProvenanceLocal          Provenance = "local"
	ProvenanceRealtime       Provenance = "realtime"
	ProvenanceAuthorityError Provenance = "authority_error"
	ProvenanceFallback       Provenance = "fallback"
)

// Authority 外部工资机构
type Authority interface {
	QueryMargin(ctx context.Context, q authority.MarginQuery) (*authority.MarginResult, error)
	ReserveMargin(ctx context.Context, r authority.ReserveRequest) (*authority.ReserveResult, error)
	LiquidateMargin(ctx context.Context, r authority.LiquidateRequest) (*authority.LiquidateResult, error)
}

// Option 服务可选项
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
}

// WithClock 替换当前时间来源
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// businessClock 当前时间统一换算到业务时区，截止日和参考月份都依赖它
func businessClock(cfg *config.Config, o options) func() time.Time {
	loc, err := cfg.Business.Location()
	if err != nil {
		o.logger.Warn("业务时区无效，改用 UTC", zap.Error(err))
		loc = time.UTC
	}
	now := o.now
	return func() time.Time {
		return now().In(loc)
	}
}

// MarginService 额度协调：按受益人类型选择本地计算或外部机构
type MarginService struct {
	db              *gorm.DB
	authority       Authority
	beneficiaryRepo *repository.BeneficiaryRepository
	installmentRepo *repository.InstallmentRepository
	localTypes      map[int]struct{}
	probeValue      decimal.Decimal
	reasonCode      string
	now             func() time.Time
	logger          *zap.Logger
}

func NewMarginService(db *gorm.DB, cfg *config.Config, auth Authority, opts ...Option) *MarginService {
	o := buildOptions(opts)

	localTypes := make(map[int]struct{}, len(cfg.Business.LocalBeneficiaryTypes))
	for _, t := range cfg.Business.LocalBeneficiaryTypes {
		localTypes[t] = struct{}{}
	}

	probe, err := decimal.NewFromString(cfg.Authority.ProbeInstallmentValue)
	if err != nil || !probe.IsPositive() {
		probe = decimal.NewFromInt(1)
	}

	return &MarginService{
		db:              db,
		authority:       auth,
		beneficiaryRepo: repository.NewBeneficiaryRepository(db),
		installmentRepo: repository.NewInstallmentRepository(db),
		localTypes:      localTypes,
		probeValue:      probe,
		reasonCode:      cfg.Authority.LiquidateReasonCode,
		now:             businessClock(cfg, o),
		logger:          o.logger.Named("margin"),
	}
}

// MarginRequest 受益人 ID 与工号二选一，同时传入时以 ID 为准
type MarginRequest struct {
	BeneficiaryID      int64           `json:"beneficiary_id" form:"beneficiary_id" binding:"omitempty,gt=0"`
	RegistrationNumber string          `json:"registration_number" form:"registration_number" binding:"omitempty,max=32"`
	InstallmentValue   decimal.Decimal `json:"installment_value" form:"-"`
	Quantity           int             `json:"quantity" form:"quantity" binding:"omitempty,gt=0"`
}

type MarginResult struct {
	BeneficiaryID int64           `json:"beneficiary_id"`
	Source        MarginSource    `json:"source"`
	Provenance    Provenance      `json:"provenance"`
	Margin        decimal.Decimal `json:"margin"`
	Period        string          `json:"period"`
	Code          string          `json:"code,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// SourceFor 受益人类型在本地类型集合内则本地计算，否则走外部机构
func (s *MarginService) SourceFor(b *model.Beneficiary) MarginSource {
	if _, ok := s.localTypes[b.Type]; ok {
		return MarginSourceLocal
	}
	return MarginSourceExternal
}

// GetMargin 查询可用额度
//
// 本地计算失败直接返回错误；外部机构的各类失败都体现在 Provenance 上，不返回错误。
func (s *MarginService) GetMargin(ctx context.Context, req *MarginRequest) (*MarginResult, error) {
	b, err := s.loadBeneficiary(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if s.SourceFor(b) == MarginSourceLocal {
		return s.LocalMargin(ctx, nil, b, now)
	}
	return s.externalMargin(ctx, b, req, cutoff.ReferencePeriod(now)), nil
}

func (s *MarginService) loadBeneficiary(ctx context.Context, req *MarginRequest) (*model.Beneficiary, error) {
	var (
		b   *model.Beneficiary
		err error
	)
	switch {
	case req.BeneficiaryID > 0:
		b, err = s.beneficiaryRepo.GetByID(ctx, nil, req.BeneficiaryID)
	case req.RegistrationNumber != "":
		b, err = s.beneficiaryRepo.GetByRegistrationNumber(ctx, req.RegistrationNumber)
	default:
		return nil, validationError("beneficiary_id 与 registration_number 至少传一个")
	}
	if err != nil {
		if errors.Is(err, repository.ErrBeneficiaryNotFound) {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, fmt.Errorf("查询受益人失败: %w", err)
	}
	return b, nil
}

// LocalMargin 可用额度 = 额度上限 - 参考月份内未结清分期合计，结果可能为负
func (s *MarginService) LocalMargin(ctx context.Context, tx *gorm.DB, b *model.Beneficiary, now time.Time) (*MarginResult, error) {
	period := cutoff.ReferencePeriod(now)

	committed, err := s.installmentRepo.SumOpenInPeriod(ctx, tx, b.ID, period)
	if err != nil {
		return nil, fmt.Errorf("统计未结清分期失败: %w", err)
	}

	return &MarginResult{
		BeneficiaryID: b.ID,
		Source:        MarginSourceLocal,
		Provenance:    ProvenanceLocal,
		Margin:        b.Limit.Sub(committed).Round(2),
		Period:        period.String(),
	}, nil
}

// RefreshLocalMargin 重新计算并回写本地缓存额度，必须在写入分期的同一事务内调用
func (s *MarginService) RefreshLocalMargin(ctx context.Context, tx *gorm.DB, b *model.Beneficiary, now time.Time) (*MarginResult, error) {
	result, err := s.LocalMargin(ctx, tx, b, now)
	if err != nil {
		return nil, err
	}
	if err := s.beneficiaryRepo.UpdateMargin(ctx, tx, b.ID, result.Margin); err != nil {
		return nil, fmt.Errorf("更新受益人额度失败: %w", err)
	}
	b.Margin = result.Margin
	return result, nil
}

func (s *MarginService) externalMargin(ctx context.Context, b *model.Beneficiary, req *MarginRequest, period cutoff.Period) *MarginResult {
	result := &MarginResult{
		BeneficiaryID: b.ID,
		Source:        MarginSourceExternal,
		Period:        period.String(),
	}

	if b.RegistrationNumber == "" || b.TaxID == "" {
		result.Provenance = ProvenanceFallback
		result.Margin = b.Margin
		result.Message = "缺少工号或税号"
		return result
	}

	value := req.InstallmentValue
	if !value.IsPositive() {
		value = s.probeValue
	}

	out, err := s.authority.QueryMargin(ctx, authority.MarginQuery{
		RegistrationNumber: b.RegistrationNumber,
		TaxID:              b.TaxID,
		InstallmentValue:   value,
		Term:               req.Quantity,
	})
	if err == nil {
		result.Provenance = ProvenanceRealtime
		result.Margin = out.Margin
		result.Code = out.Code
		result.Message = out.Message
		return result
	}

	if rejected, ok := authority.AsRejected(err); ok {
		result.Provenance = ProvenanceAuthorityError
		result.Margin = decimal.Zero
		result.Code = rejected.Code
		result.Message = rejected.Message
		return result
	}

	s.logger.Warn("外部机构不可用，使用本地缓存额度",
		zap.Int64("beneficiary_id", b.ID),
		zap.Error(err),
	)
	result.Provenance = ProvenanceFallback
	result.Margin = b.Margin
	result.Message = err.Error()
	return result
}

// ReleaseExternal 在外部机构释放借款占用的额度
//
// 本地类型受益人不需要释放；外部机构失败时本地数据不得改动。
// 调用耗时受 authority.timeout 约束，调用方持有的锁要覆盖这段时间。
func (s *MarginService) ReleaseExternal(ctx context.Context, b *model.Beneficiary, c *model.Consignment, reason string) error {
	if s.SourceFor(b) == MarginSourceLocal {
		return nil
	}
	// 没有工号时借款编号无法唯一识别，不能发出释放请求
	if b.RegistrationNumber == "" {
		return validationError("受益人 %d 缺少工号，无法在外部机构释放额度", b.ID)
	}

	_, err := s.authority.LiquidateMargin(ctx, authority.LiquidateRequest{
		RegistrationNumber: b.RegistrationNumber,
		TaxID:              b.TaxID,
		Identifier:         ExternalIdentifier(b.RegistrationNumber, c.Number),
		ReasonCode:         s.reasonCode,
		ReasonText:         reason,
	})
	if err == nil {
		return nil
	}

	if rejected, ok := authority.AsRejected(err); ok {
		return &AuthorityRejection{Code: rejected.Code, Message: rejected.Message}
	}
	return fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
}

// ExternalIdentifier 外部机构识别借款的编号：工号 + 借款序号
func ExternalIdentifier(registrationNumber string, number int) string {
	return registrationNumber + strconv.Itoa(number)
}
