package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"consignsystem/internal/config"
	"consignsystem/internal/infrastructure/authority"
	"consignsystem/internal/model"
	"consignsystem/internal/repository"
	"consignsystem/internal/testutil"
)

const (
	typeLocal    = 3
	typeExternal = 1
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{Audit: "consign.audit"}},
		Authority: config.AuthorityConfig{
			LiquidateReasonCode:   "1",
			ProbeInstallmentValue: "1.00",
		},
		Business: config.BusinessConfig{
			LocalBeneficiaryTypes: []int{3, 4},
			MaxInstallments:       96,
			MaxRetryCount:         5,
		},
	}
}

// fakeAuthority 记录调用参数，按预设返回
type fakeAuthority struct {
	mu sync.Mutex

	queryResult *authority.MarginResult
	queryErr    error
	liquidErr   error
	liquidDelay time.Duration // 模拟外部机构响应慢

	queries     []authority.MarginQuery
	liquidates  []authority.LiquidateRequest
	reserveCall int
}

func (f *fakeAuthority) QueryMargin(_ context.Context, q authority.MarginQuery) (*authority.MarginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.queryResult, nil
}

func (f *fakeAuthority) ReserveMargin(context.Context, authority.ReserveRequest) (*authority.ReserveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveCall++
	return &authority.ReserveResult{}, nil
}

func (f *fakeAuthority) LiquidateMargin(_ context.Context, r authority.LiquidateRequest) (*authority.LiquidateResult, error) {
	if f.liquidDelay > 0 {
		time.Sleep(f.liquidDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liquidates = append(f.liquidates, r)
	if f.liquidErr != nil {
		return nil, f.liquidErr
	}
	return &authority.LiquidateResult{Code: "0", Message: "ok"}, nil
}

func (f *fakeAuthority) calls() (queries, liquidates, reserves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries), len(f.liquidates), f.reserveCall
}

// recordingAudit 收集审计事件
type recordingAudit struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (r *recordingAudit) Record(_ context.Context, event model.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type testEnv struct {
	db          *gorm.DB
	redis       *redis.Client
	cfg         *config.Config
	authority   *fakeAuthority
	audit       *recordingAudit
	margin      *MarginService
	consignment *ConsignmentService
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	_, rdb := testutil.NewRedis(t)
	cfg := testConfig()
	auth := &fakeAuthority{}
	audit := &recordingAudit{}

	margin := NewMarginService(db, cfg, auth, WithClock(fixedClock(now)))
	consignment := NewConsignmentService(db, rdb, cfg, margin, audit, WithClock(fixedClock(now)))

	return &testEnv{
		db:          db,
		redis:       rdb,
		cfg:         cfg,
		authority:   auth,
		audit:       audit,
		margin:      margin,
		consignment: consignment,
	}
}

func (e *testEnv) seedBeneficiary(t *testing.T, typ int, registration, limit string) *model.Beneficiary {
	t.Helper()
	b := &model.Beneficiary{
		Name:               "Ana " + registration,
		Type:               typ,
		RegistrationNumber: registration,
		TaxID:              "123" + registration,
		Limit:              dec(limit),
		Margin:             dec(limit),
		Active:             true,
	}
	require.NoError(t, repository.NewBeneficiaryRepository(e.db).Create(context.Background(), b))
	return b
}

// seedConsignment 直接写库，不走服务
func (e *testEnv) seedConsignment(t *testing.T, beneficiaryID int64, number int, value string, dues ...time.Time) *model.Consignment {
	t.Helper()
	ctx := context.Background()

	v := dec(value)
	c := &model.Consignment{
		BeneficiaryID:    beneficiaryID,
		Number:           number,
		Total:            v.Mul(decimal.NewFromInt(int64(len(dues)))),
		Quantity:         len(dues),
		InstallmentValue: v,
		Active:           true,
	}
	require.NoError(t, repository.NewConsignmentRepository(e.db).Create(ctx, nil, c))
	require.NoError(t, repository.NewInstallmentRepository(e.db).CreateBatch(ctx, nil, buildInstallments(c.ID, v, dues)))
	return c
}

func (e *testEnv) reloadBeneficiary(t *testing.T, id int64) *model.Beneficiary {
	t.Helper()
	b, err := repository.NewBeneficiaryRepository(e.db).GetByID(context.Background(), nil, id)
	require.NoError(t, err)
	return b
}

func (e *testEnv) countRows(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Count(&n).Error)
	return n
}
