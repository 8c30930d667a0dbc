package authority

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"consignsystem/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

const maxResponseSize = 1 << 20

// 巴西格式金额：1.234,56 / 1234,56
var commaDecimal = regexp.MustCompile(`^-?(\d{1,3}(\.\d{3})+|\d+),\d+$`)

// Client 外部工资机构客户端（表单请求 / XML 响应）
type Client struct {
	baseURL    string
	clientID   string
	tenantID   string
	user       string
	password   string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option 客户端可选项
type Option func(*Client)

// WithHTTPClient 替换默认 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l.Named("authority")
	}
}

// NewClient 创建客户端，超时时间固定为配置值，超时一律按失败处理
func NewClient(cfg *config.AuthorityConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("authority: base_url 未配置")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("authority: base_url 非法: %w", err)
	}

	timeout := cfg.CallTimeout()

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		clientID:   cfg.ClientID,
		tenantID:   cfg.TenantID,
		user:       cfg.User,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// QueryMargin 查询受益人当前可用额度
func (c *Client) QueryMargin(ctx context.Context, q MarginQuery) (*MarginResult, error) {
	form := c.baseForm()
	form.Set(paramRegistration, q.RegistrationNumber)
	form.Set(paramTaxID, q.TaxID)
	form.Set(paramInstallment, q.InstallmentValue.StringFixed(2))
	if q.Term > 0 {
		form.Set(paramTerm, strconv.Itoa(q.Term))
	}

	res, err := c.call(ctx, OperationQueryMargin, form)
	if err != nil {
		return nil, err
	}

	raw := res.Margin
	if raw == nil {
		raw = res.NestedMargin
	}
	margin, err := parseAmount("valorMargem", raw)
	if err != nil {
		return nil, err
	}

	return &MarginResult{
		Margin:  margin,
		Code:    strings.TrimSpace(res.Code),
		Message: strings.TrimSpace(res.Message),
	}, nil
}

// ReserveMargin 预占额度
func (c *Client) ReserveMargin(ctx context.Context, r ReserveRequest) (*ReserveResult, error) {
	form := c.baseForm()
	form.Set(paramRegistration, r.RegistrationNumber)
	form.Set(paramTaxID, r.TaxID)
	form.Set(paramInstallment, r.InstallmentValue.StringFixed(2))
	form.Set(paramTerm, strconv.Itoa(r.Term))
	if r.Identifier != "" {
		form.Set(paramIdentifier, r.Identifier)
	}

	res, err := c.call(ctx, OperationReserveMargin, form)
	if err != nil {
		return nil, err
	}
	if res.Success == nil {
		return nil, fmt.Errorf("%w: sucesso", ErrFieldNotFound)
	}
	if res.ContractNumber == nil || strings.TrimSpace(*res.ContractNumber) == "" {
		return nil, fmt.Errorf("%w: adeNumero", ErrFieldNotFound)
	}

	result := &ReserveResult{
		ContractNumber: strings.TrimSpace(*res.ContractNumber),
		Identifier:     r.Identifier,
		Code:           strings.TrimSpace(res.Code),
		Message:        strings.TrimSpace(res.Message),
	}
	if res.Identifier != nil {
		result.Identifier = strings.TrimSpace(*res.Identifier)
	}
	return result, nil
}

// LiquidateMargin 释放额度，只有明确返回 sucesso=true 才算成功
func (c *Client) LiquidateMargin(ctx context.Context, r LiquidateRequest) (*LiquidateResult, error) {
	form := c.baseForm()
	form.Set(paramRegistration, r.RegistrationNumber)
	if r.TaxID != "" {
		form.Set(paramTaxID, r.TaxID)
	}
	form.Set(paramIdentifier, r.Identifier)
	form.Set(paramReasonCode, r.ReasonCode)
	form.Set(paramReasonText, r.ReasonText)

	res, err := c.call(ctx, OperationLiquidateMargin, form)
	if err != nil {
		return nil, err
	}
	if res.Success == nil {
		return nil, fmt.Errorf("%w: sucesso", ErrFieldNotFound)
	}

	return &LiquidateResult{
		Code:    strings.TrimSpace(res.Code),
		Message: strings.TrimSpace(res.Message),
	}, nil
}

func (c *Client) baseForm() url.Values {
	form := url.Values{}
	form.Set(paramClient, c.clientID)
	form.Set(paramTenant, c.tenantID)
	form.Set(paramUser, c.user)
	form.Set(paramPassword, c.password)
	return form
}

// call 发送请求并解析公共字段，sucesso=false 时返回 *RejectedError
func (c *Client) call(ctx context.Context, operation string, form url.Values) (*operationResult, error) {
	body, err := c.doRequest(ctx, operation, form)
	if err != nil {
		return nil, err
	}

	res, err := decodeResult(body)
	if err != nil {
		return nil, err
	}

	if res.Success != nil && !parseBool(*res.Success) {
		rejected := &RejectedError{
			Operation: operation,
			Code:      strings.TrimSpace(res.Code),
			Message:   strings.TrimSpace(res.Message),
		}
		c.logger.Warn("外部机构拒绝",
			zap.String("operation", operation),
			zap.String("code", rejected.Code),
			zap.String("message", rejected.Message),
		)
		return nil, rejected
	}

	return res, nil
}

func (c *Client) doRequest(ctx context.Context, operation string, form url.Values) ([]byte, error) {
	endpoint := c.baseURL + "/" + operation

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("authority: 创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("Accept", "text/xml, application/xml")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("外部机构请求失败",
			zap.String("operation", operation),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrHTTP, operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: 读取响应失败: %w", ErrHTTP, operation, err)
	}

	c.logger.Debug("外部机构响应",
		zap.String("operation", operation),
		zap.Int("status", resp.StatusCode),
		zap.Int("size", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrHTTP, operation, resp.StatusCode)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyResponse, operation)
	}

	return body, nil
}

// decodeResult 解析响应，兼容带 SOAP Envelope 和直接返回结果节点两种格式
func decodeResult(body []byte) (*operationResult, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.CharsetReader = charsetReader

	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if start.Name.Local == "Envelope" {
			var env soapEnvelope
			if err := decoder.DecodeElement(&env, &start); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
			}
			if env.Body.Result == nil {
				return nil, fmt.Errorf("%w: Body", ErrFieldNotFound)
			}
			return env.Body.Result, nil
		}

		var res operationResult
		if err := decoder.DecodeElement(&res, &start); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		return &res, nil
	}
}

// parseAmount 解析金额，兼容 1234.56 与 1.234,56 两种写法；标签缺失或为空返回 ErrFieldNotFound
// 其他混用分隔符的写法（如 1,234.56）一律视为格式错误
func parseAmount(field string, raw *string) (decimal.Decimal, error) {
	if raw == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrFieldNotFound, field)
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrFieldNotFound, field)
	}

	if strings.Contains(s, ",") {
		if !commaDecimal.MatchString(s) {
			return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrInvalidNumeric, field, *raw)
		}
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrInvalidNumeric, field, *raw)
	}
	return value, nil
}

// charsetReader 老版本接口返回 ISO-8859-1 编码
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	default:
		return nil, fmt.Errorf("不支持的字符集: %s", label)
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "s", "sim":
		return true
	default:
		return false
	}
}
