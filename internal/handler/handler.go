package handler

import (
	"errors"
	"strconv"

	"consignsystem/internal/service"
	"consignsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	marginService      *service.MarginService
	consignmentService *service.ConsignmentService
	logger             *zap.Logger
}

func NewHandler(marginService *service.MarginService, consignmentService *service.ConsignmentService, logger *zap.Logger) *Handler {
	return &Handler{
		marginService:      marginService,
		consignmentService: consignmentService,
		logger:             logger.Named("handler"),
	}
}

// ============================================================
// 额度
// ============================================================

// GetMargin 查询可用额度
// GET /api/v1/margin?beneficiary_id=xxx(或 registration_number=xxx)&installment_value=xxx&quantity=xxx
func (h *Handler) GetMargin(c *gin.Context) {
	var req service.MarginRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if raw := c.Query("installment_value"); raw != "" {
		value, err := decimal.NewFromString(raw)
		if err != nil || value.IsNegative() {
			response.ParamError(c, "installment_value 参数错误")
			return
		}
		req.InstallmentValue = value
	}

	result, err := h.marginService.GetMargin(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 借款
// ============================================================

// CreateConsignment 新增借款
// POST /api/v1/consignment/create
func (h *Handler) CreateConsignment(c *gin.Context) {
	var req service.CreateConsignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Operator == "" {
		req.Operator = c.GetHeader(HeaderOperator)
	}

	resp, err := h.consignmentService.Create(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, resp)
}

// DeleteConsignment 删除或取消借款，mode=delete|cancel
// POST /api/v1/consignment/delete
func (h *Handler) DeleteConsignment(c *gin.Context) {
	var req service.DeleteConsignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Operator == "" {
		req.Operator = c.GetHeader(HeaderOperator)
	}

	resp, err := h.consignmentService.Delete(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, resp)
}

// GetConsignment 借款详情（含分期）
// GET /api/v1/consignment/detail?id=xxx
func (h *Handler) GetConsignment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "id 参数错误")
		return
	}

	consignment, err := h.consignmentService.GetConsignment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"consignment": consignment,
		"status":      consignment.Status(),
	})
}

// ListConsignments 受益人的借款列表
// GET /api/v1/consignment/list?beneficiary_id=xxx&page=1&page_size=20
func (h *Handler) ListConsignments(c *gin.Context) {
	beneficiaryID, err := strconv.ParseInt(c.Query("beneficiary_id"), 10, 64)
	if err != nil || beneficiaryID <= 0 {
		response.ParamError(c, "beneficiary_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	consignments, total, err := h.consignmentService.ListConsignments(c.Request.Context(), beneficiaryID, page, pageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      consignments,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// writeError 业务错误转换为响应码
func (h *Handler) writeError(c *gin.Context, err error) {
	var rejection *service.AuthorityRejection
	if errors.As(err, &rejection) {
		response.ErrorWithData(c, response.CodeAuthorityRejected, rejection.Message, gin.H{
			"authority_code": rejection.Code,
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrValidation):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrBeneficiaryNotFound):
		response.BusinessError(c, response.CodeBeneficiaryNotFound, service.ErrBeneficiaryNotFound.Error())
	case errors.Is(err, service.ErrConsignmentNotFound):
		response.BusinessError(c, response.CodeConsignmentNotFound, service.ErrConsignmentNotFound.Error())
	case errors.Is(err, service.ErrBeneficiaryBlocked):
		response.BusinessError(c, response.CodeBeneficiaryBlocked, service.ErrBeneficiaryBlocked.Error())
	case errors.Is(err, service.ErrConsignmentNotActive):
		response.BusinessError(c, response.CodeConsignmentNotActive, service.ErrConsignmentNotActive.Error())
	case errors.Is(err, service.ErrInconsistentSchedule):
		response.BusinessError(c, response.CodeInconsistentSchedule, service.ErrInconsistentSchedule.Error())
	case errors.Is(err, service.ErrAuthorityUnavailable):
		response.BusinessError(c, response.CodeAuthorityUnavailable, service.ErrAuthorityUnavailable.Error())
	case errors.Is(err, service.ErrBusy):
		response.BusinessError(c, response.CodeBusy, service.ErrBusy.Error())
	default:
		h.logger.Error("请求处理失败",
			zap.String("request_id", c.GetString(ContextKeyRequestID)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		response.ServerError(c, "服务器内部错误")
	}
}
