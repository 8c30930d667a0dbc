package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"consignsystem/internal/config"
	"consignsystem/internal/infrastructure/lock"
	"consignsystem/internal/model"
	"consignsystem/internal/repository"
	"consignsystem/pkg/cutoff"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DeleteModeDelete = "delete"
	DeleteModeCancel = "cancel"
)

// 删除时在外部机构超时之外额外等待的时间
const deleteLockMargin = 5 * time.Second

type ConsignmentService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	margin          *MarginService
	audit           AuditRecorder
	validate        *validator.Validate
	beneficiaryRepo *repository.BeneficiaryRepository
	consignmentRepo *repository.ConsignmentRepository
	installmentRepo *repository.InstallmentRepository
	now             func() time.Time
	logger          *zap.Logger
}

func NewConsignmentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, margin *MarginService, audit AuditRecorder, opts ...Option) *ConsignmentService {
	o := buildOptions(opts)
	if audit == nil {
		audit = nopAuditRecorder{}
	}

	// 与 gin 的 binding 标签共用一套规则
	validate := validator.New()
	validate.SetTagName("binding")

	return &ConsignmentService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		margin:          margin,
		audit:           audit,
		validate:        validate,
		beneficiaryRepo: repository.NewBeneficiaryRepository(db),
		consignmentRepo: repository.NewConsignmentRepository(db),
		installmentRepo: repository.NewInstallmentRepository(db),
		now:             businessClock(cfg, o),
		logger:          o.logger.Named("consignment"),
	}
}

type CreateConsignmentRequest struct {
	BeneficiaryID    int64           `json:"beneficiary_id" binding:"required,gt=0"`
	CounterpartID    *int64          `json:"counterpart_id" binding:"omitempty,gt=0"`
	Quantity         int             `json:"quantity" binding:"required,gt=0"`
	InstallmentValue decimal.Decimal `json:"installment_value"`
	Total            decimal.Decimal `json:"total"` // 可选，传入时必须等于 分期金额 × 期数
	Operator         string          `json:"operator" binding:"max=64"`
}

type CreateConsignmentResponse struct {
	Consignment *model.Consignment `json:"consignment"`
	Status      string             `json:"status"`
	Margin      *MarginResult      `json:"margin,omitempty"` // 仅本地类型受益人返回
}

type DeleteConsignmentRequest struct {
	ConsignmentID int64  `json:"consignment_id" binding:"required,gt=0"`
	Mode          string `json:"mode" binding:"required,oneof=delete cancel"`
	Reason        string `json:"reason" binding:"max=256"`
	Operator      string `json:"operator" binding:"max=64"`
}

type DeleteConsignmentResponse struct {
	ConsignmentID int64         `json:"consignment_id"`
	Status        string        `json:"status"`
	Margin        *MarginResult `json:"margin,omitempty"`
}

// ============================================================================
// 创建借款
// ============================================================================
//
// 1. 参数校验
// 2. 受益人维度加锁（序号取 max+1，必须串行）
// 3. 受益人存在且可用
// 4. 单个事务：序号 -> 借款 -> 分期 -> 合计校验 -> 本地额度回写
// 5. 提交后写审计事件
//
// 外部类型受益人创建时不调用外部机构。
// ============================================================================

func (s *ConsignmentService) Create(ctx context.Context, req *CreateConsignmentRequest) (*CreateConsignmentResponse, error) {
	total, err := s.validateCreate(req)
	if err != nil {
		return nil, err
	}

	beneficiaryLock := lock.NewBeneficiaryLock(s.redisClient, req.BeneficiaryID, uuid.NewString())
	if err := beneficiaryLock.LockDefault(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer s.unlock(ctx, beneficiaryLock)

	beneficiary, err := s.beneficiaryRepo.GetByID(ctx, nil, req.BeneficiaryID)
	if err != nil {
		if errors.Is(err, repository.ErrBeneficiaryNotFound) {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, fmt.Errorf("查询受益人失败: %w", err)
	}
	if !beneficiary.Eligible() {
		return nil, ErrBeneficiaryBlocked
	}

	now := s.now()
	dueDates := cutoff.Schedule(cutoff.FirstDueDate(now), req.Quantity)
	source := s.margin.SourceFor(beneficiary)

	consignment := &model.Consignment{
		BeneficiaryID:    beneficiary.ID,
		CounterpartID:    req.CounterpartID,
		Total:            total,
		Quantity:         req.Quantity,
		InstallmentValue: req.InstallmentValue,
		Active:           true,
		Operator:         req.Operator,
	}

	var margin *MarginResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.consignmentRepo.NextNumber(ctx, tx, beneficiary.ID)
		if err != nil {
			return fmt.Errorf("获取借款序号失败: %w", err)
		}
		consignment.Number = number

		if err := s.consignmentRepo.Create(ctx, tx, consignment); err != nil {
			if errors.Is(err, repository.ErrDuplicateNumber) {
				return fmt.Errorf("%w: %v", ErrBusy, err)
			}
			return fmt.Errorf("创建借款失败: %w", err)
		}

		installments := buildInstallments(consignment.ID, req.InstallmentValue, dueDates)
		if !model.SumInstallments(installments).Equal(consignment.Total) {
			return ErrInconsistentSchedule
		}
		if err := s.installmentRepo.CreateBatch(ctx, tx, installments); err != nil {
			return fmt.Errorf("创建分期失败: %w", err)
		}
		consignment.Installments = installments

		if source == MarginSourceLocal {
			m, err := s.margin.RefreshLocalMargin(ctx, tx, beneficiary, now)
			if err != nil {
				return err
			}
			margin = m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, model.AuditEvent{
		Actor:       req.Operator,
		Action:      model.AuditActionConsignmentCreated,
		EntityID:    consignment.ID,
		EntityName:  "consignment",
		Description: fmt.Sprintf("受益人 %d 新增借款 #%d", beneficiary.ID, consignment.Number),
		Metadata: map[string]interface{}{
			"beneficiary_id":    beneficiary.ID,
			"number":            consignment.Number,
			"total":             consignment.Total.StringFixed(2),
			"quantity":          consignment.Quantity,
			"installment_value": consignment.InstallmentValue.StringFixed(2),
			"first_due_date":    dueDates[0].Format("2006-01-02"),
			"source":            string(source),
		},
		Timestamp: now.UTC(),
	})

	s.logger.Info("借款创建成功",
		zap.Int64("consignment_id", consignment.ID),
		zap.Int64("beneficiary_id", beneficiary.ID),
		zap.Int("number", consignment.Number),
		zap.String("total", consignment.Total.StringFixed(2)),
	)

	return &CreateConsignmentResponse{
		Consignment: consignment,
		Status:      consignment.Status(),
		Margin:      margin,
	}, nil
}

// validateCreate 校验参数并返回借款总额
func (s *ConsignmentService) validateCreate(req *CreateConsignmentRequest) (decimal.Decimal, error) {
	if err := s.validate.Struct(req); err != nil {
		return decimal.Zero, validationError("%v", err)
	}
	if limit := s.cfg.Business.MaxInstallments; limit > 0 && req.Quantity > limit {
		return decimal.Zero, validationError("期数不能超过 %d", limit)
	}
	if !req.InstallmentValue.IsPositive() {
		return decimal.Zero, validationError("分期金额必须大于 0")
	}
	if !hasAtMostTwoDecimals(req.InstallmentValue) {
		return decimal.Zero, validationError("分期金额最多两位小数")
	}

	total := req.InstallmentValue.Mul(decimal.NewFromInt(int64(req.Quantity)))
	if !req.Total.IsZero() {
		if !hasAtMostTwoDecimals(req.Total) {
			return decimal.Zero, validationError("借款总额最多两位小数")
		}
		if !req.Total.Equal(total) {
			return decimal.Zero, ErrInconsistentSchedule
		}
	}
	return total, nil
}

func hasAtMostTwoDecimals(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

func buildInstallments(consignmentID int64, value decimal.Decimal, dueDates []time.Time) []model.Installment {
	installments := make([]model.Installment, len(dueDates))
	for i, due := range dueDates {
		installments[i] = model.Installment{
			ConsignmentID: consignmentID,
			Number:        i + 1,
			DueDate:       due,
			Value:         value,
		}
	}
	return installments
}

// ============================================================================
// 删除 / 取消借款
// ============================================================================
//
// 外部类型受益人先在外部机构释放额度，失败则本地不做任何改动。
// 外部释放成功但本地事务失败时，两边会不一致，只记录错误日志。
// 本地写入以 id + version + active 为条件，并发删除时后到者得到 ErrConsignmentNotFound。
//
// 借款锁的等待时间按外部机构超时计算，后到者会等到前一个请求结束而不是返回 ErrBusy。
// 本地类型受益人还要再取受益人锁，与创建共用，保证缓存额度按顺序回写。
// 加锁顺序固定为 借款 -> 受益人。
// ============================================================================

func (s *ConsignmentService) Delete(ctx context.Context, req *DeleteConsignmentRequest) (*DeleteConsignmentResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError("%v", err)
	}

	owner := uuid.NewString()
	wait := s.cfg.Authority.CallTimeout() + deleteLockMargin
	consignmentLock := lock.NewConsignmentLock(s.redisClient, req.ConsignmentID, owner).WithExpiration(2 * wait)
	if err := consignmentLock.LockWithin(ctx, wait); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer s.unlock(ctx, consignmentLock)

	consignment, err := s.consignmentRepo.GetWithDetails(ctx, req.ConsignmentID)
	if err != nil {
		return nil, mapLoadError(err)
	}
	if !consignment.Deletable() {
		return nil, ErrConsignmentNotActive
	}
	beneficiary := consignment.Beneficiary
	source := s.margin.SourceFor(beneficiary)

	if source == MarginSourceLocal {
		beneficiaryLock := lock.NewBeneficiaryLock(s.redisClient, beneficiary.ID, owner)
		if err := beneficiaryLock.LockDefault(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		defer s.unlock(ctx, beneficiaryLock)
	}

	if err := s.margin.ReleaseExternal(ctx, beneficiary, consignment, req.Reason); err != nil {
		s.logger.Warn("外部机构释放额度失败，本地数据未改动",
			zap.Int64("consignment_id", consignment.ID),
			zap.String("identifier", ExternalIdentifier(beneficiary.RegistrationNumber, consignment.Number)),
			zap.Error(err),
		)
		return nil, err
	}

	now := s.now()

	var margin *MarginResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch req.Mode {
		case DeleteModeCancel:
			if err := s.consignmentRepo.CancelIfUnchanged(ctx, tx, consignment.ID, consignment.Version, req.Reason, now); err != nil {
				return err
			}
		default:
			if _, err := s.installmentRepo.DeleteByConsignmentID(ctx, tx, consignment.ID); err != nil {
				return fmt.Errorf("删除分期失败: %w", err)
			}
			if err := s.consignmentRepo.DeleteIfUnchanged(ctx, tx, consignment.ID, consignment.Version); err != nil {
				return err
			}
		}

		if source == MarginSourceLocal {
			m, err := s.margin.RefreshLocalMargin(ctx, tx, beneficiary, now)
			if err != nil {
				return err
			}
			margin = m
		}
		return nil
	})
	if err != nil {
		if source == MarginSourceExternal {
			s.logger.Error("外部机构已释放额度，本地删除失败",
				zap.Int64("consignment_id", consignment.ID),
				zap.String("identifier", ExternalIdentifier(beneficiary.RegistrationNumber, consignment.Number)),
				zap.Error(err),
			)
		}
		if errors.Is(err, repository.ErrConsignmentNotFound) {
			return nil, ErrConsignmentNotFound
		}
		return nil, err
	}

	action, status := model.AuditActionConsignmentDeleted, "DELETED"
	if req.Mode == DeleteModeCancel {
		action, status = model.AuditActionConsignmentCanceled, model.ConsignmentStatusCanceled
	}

	s.audit.Record(ctx, model.AuditEvent{
		Actor:       req.Operator,
		Action:      action,
		EntityID:    consignment.ID,
		EntityName:  "consignment",
		Description: fmt.Sprintf("受益人 %d 借款 #%d %s", beneficiary.ID, consignment.Number, req.Mode),
		Metadata: map[string]interface{}{
			"beneficiary_id": beneficiary.ID,
			"number":         consignment.Number,
			"total":          consignment.Total.StringFixed(2),
			"open_total":     openTotal(consignment.Installments).StringFixed(2),
			"reason":         req.Reason,
			"source":         string(source),
		},
		Timestamp: now.UTC(),
	})

	s.logger.Info("借款删除成功",
		zap.Int64("consignment_id", consignment.ID),
		zap.String("mode", req.Mode),
	)

	return &DeleteConsignmentResponse{
		ConsignmentID: consignment.ID,
		Status:        status,
		Margin:        margin,
	}, nil
}

func openTotal(installments []model.Installment) decimal.Decimal {
	total := decimal.Zero
	for i := range installments {
		if installments[i].Open() {
			total = total.Add(installments[i].Value)
		}
	}
	return total
}

func (s *ConsignmentService) GetConsignment(ctx context.Context, id int64) (*model.Consignment, error) {
	consignment, err := s.consignmentRepo.GetWithDetails(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return consignment, nil
}

func (s *ConsignmentService) ListConsignments(ctx context.Context, beneficiaryID int64, page, pageSize int) ([]*model.Consignment, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.consignmentRepo.ListByBeneficiaryID(ctx, beneficiaryID, page, pageSize)
}

func mapLoadError(err error) error {
	switch {
	case errors.Is(err, repository.ErrConsignmentNotFound):
		return ErrConsignmentNotFound
	case errors.Is(err, repository.ErrBeneficiaryNotFound):
		return ErrBeneficiaryNotFound
	default:
		return fmt.Errorf("查询借款失败: %w", err)
	}
}

// unlock 请求被取消时也要释放锁
func (s *ConsignmentService) unlock(ctx context.Context, l *lock.DistributedLock) {
	if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("释放分布式锁失败", zap.String("key", l.Key()), zap.Error(err))
	}
}
