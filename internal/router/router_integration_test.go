//go:build integration

package router

// End-to-end tests over real Postgres + Redis via testcontainers.
// Run with: go test -tags integration ./internal/router/... -v

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vwinv/backend-almadina/internal/apierror"
	"github.com/vwinv/backend-almadina/internal/config"
	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/infra"
	"github.com/vwinv/backend-almadina/internal/middleware"
	"github.com/vwinv/backend-almadina/internal/model"
	"github.com/vwinv/backend-almadina/internal/repository"
	"github.com/vwinv/backend-almadina/internal/service"
	"github.com/vwinv/backend-almadina/internal/worker"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"gorm.io/gorm"
)

const e2eSecret = "e2e-secret"

// ── Helpers ──────────────────────────────────────────────────────────────────

func do(t *testing.T, srv *httptest.Server, method, path string, body any, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

// ── Suite setup ──────────────────────────────────────────────────────────────

type testEnv struct {
	server     *httptest.Server
	db         *gorm.DB
	deps       *Dependencies
	adminToken string
}

func (e *testEnv) seedUser(t *testing.T, role string) (uuid.UUID, string) {
	t.Helper()
	u := &model.User{ID: uuid.New(), Username: uuid.NewString(), Name: role + " e2e", Role: role, Active: true}
	require.NoError(t, repository.NewUserRepository(e.db).Upsert(context.Background(), u))
	tok, err := middleware.IssueToken(e2eSecret, u.ID, u.Username, role, time.Hour)
	require.NoError(t, err)
	return u.ID, tok
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.Run(ctx, "postgres:15-alpine",
		tcPostgres.WithDatabase("ledger_test"),
		tcPostgres.WithUsername("ledger"),
		tcPostgres.WithPassword("ledger"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable", "TimeZone=UTC")
	require.NoError(t, err)

	rdC, err := tcRedis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })

	rdURL, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.Config{
		Port:                    8000,
		Env:                     "test",
		JWTSecret:               e2eSecret,
		DatabaseURL:             pgURL,
		RedisURL:                rdURL,
		WorkerPoolSize:          1,
		BusinessTimezone:        "UTC",
		AutoCloseLockTTLSeconds: 60,
		ReportCacheTTLSeconds:   60,
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	require.NoError(t, err)
	require.NoError(t, infra.RunMigrations(db))

	rdb, err := infra.NewRedis(ctx, cfg.RedisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	deps, err := Wire(cfg, db, rdb)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	worker.NewPool(rdb, worker.LedgerEventHandlers(deps.ReportCache)).Start(runCtx, cfg.WorkerPoolSize)

	srv := httptest.NewServer(New(runCtx, cfg, deps))
	t.Cleanup(srv.Close)

	env := &testEnv{server: srv, db: db, deps: deps}
	_, env.adminToken = env.seedUser(t, model.RoleAdmin)
	return env
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestE2E_FullDayCycle(t *testing.T) {
	env := setupTestEnv(t)
	mgr, mgrToken := env.seedUser(t, model.RoleManager)

	// Open before provisioning is refused.
	resp := do(t, env.server, http.MethodPost, "/v1/cash-registers/open", nil, mgrToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// 1. Admin provisions the first register.
	resp = do(t, env.server, http.MethodPost, "/v1/admin/managers/"+mgr.String()+"/cash-registers",
		map[string]any{"opening_balance": "100.00"}, env.adminToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// 2. Manager opens, carrying 100 forward.
	resp = do(t, env.server, http.MethodPost, "/v1/cash-registers/open", nil, mgrToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reg dto.CashRegisterResponse
	decodeJSON(t, resp, &reg)
	assert.Equal(t, "OPEN", reg.Status)
	assert.True(t, reg.OpeningBalance.Equal(decimal.NewFromInt(100)))

	// A second open is refused while the first is OPEN.
	resp = do(t, env.server, http.MethodPost, "/v1/cash-registers/open", nil, mgrToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// 3. Cash sale linked to an order, then a payout.
	order := &model.Order{Total: decimal.NewFromInt(50), PaymentMethod: "CASH", Status: "PAID"}
	require.NoError(t, env.db.Create(order).Error)

	base := "/v1/cash-registers/" + reg.ID
	resp = do(t, env.server, http.MethodPost, base+"/transactions",
		map[string]any{"type": "CASH_SALE", "amount": "50", "order_id": order.ID.String()}, mgrToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, env.server, http.MethodPost, base+"/transactions",
		map[string]any{"type": "CASH_OUT", "amount": "-20", "description": "supplier"}, mgrToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, env.server, http.MethodPost, base+"/transactions",
		map[string]any{"type": "CASH_SALE", "amount": "5", "order_id": uuid.NewString()}, mgrToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, env.server, http.MethodGet, "/v1/cash-registers/today", nil, mgrToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &reg)
	require.NotNil(t, reg.CurrentExpectedBalance)
	assert.True(t, reg.CurrentExpectedBalance.Equal(decimal.NewFromInt(130)))

	// 4. Close short by 5.
	resp = do(t, env.server, http.MethodPost, base+"/close", map[string]any{"actual_balance": "125"}, mgrToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &reg)
	assert.Equal(t, "CLOSED", reg.Status)
	require.NotNil(t, reg.Difference)
	assert.True(t, reg.Difference.Equal(decimal.NewFromInt(-5)))

	// Adding to a closed register fails.
	resp = do(t, env.server, http.MethodPost, base+"/transactions",
		map[string]any{"type": "CASH_IN", "amount": "1"}, mgrToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Report before the recount, cached.
	reportPath := "/v1/admin/managers/" + mgr.String() + "/reconciliation"
	resp = do(t, env.server, http.MethodGet, reportPath, nil, env.adminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report dto.ReconciliationReportResponse
	decodeJSON(t, resp, &report)
	assert.Equal(t, "-5.00", report.Totals.Difference)

	// 5. Recount finds the missing 5.
	resp = do(t, env.server, http.MethodPost, base+"/reconcile",
		map[string]any{"actual_balance": "130", "notes": "found under the drawer"}, mgrToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &reg)
	assert.True(t, reg.Difference.IsZero())

	// The worker invalidates the cached report once the event lands.
	assert.Eventually(t, func() bool {
		resp := do(t, env.server, http.MethodGet, reportPath, nil, env.adminToken)
		var r dto.ReconciliationReportResponse
		decodeJSON(t, resp, &r)
		return r.Totals.Difference == "0.00"
	}, 10*time.Second, 200*time.Millisecond)

	// 6. History sees the single register.
	resp = do(t, env.server, http.MethodGet, "/v1/cash-registers/history", nil, mgrToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []dto.CashRegisterResponse
	decodeJSON(t, resp, &history)
	require.Len(t, history, 1)
	assert.LessOrEqual(t, len(history[0].Transactions), 5)

	// Managers cannot reach admin routes.
	resp = do(t, env.server, http.MethodGet, reportPath, nil, mgrToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestE2E_AutoCloseSweep(t *testing.T) {
	env := setupTestEnv(t)
	mgr, _ := env.seedUser(t, model.RoleManager)

	yesterday := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	stale := &model.CashRegister{
		ManagerID: mgr, BusinessDate: yesterday, Status: model.RegisterOpen,
		OpeningBalance: decimal.NewFromInt(40), OpenedAt: yesterday.Add(8 * time.Hour),
	}
	repo := repository.NewCashRegisterRepository(env.db)
	require.NoError(t, repo.Create(context.Background(), stale))
	require.NoError(t, repo.CreateTransaction(context.Background(), &model.CashRegisterTransaction{
		CashRegisterID: stale.ID, Type: model.TxCashIn, Amount: decimal.NewFromInt(10), CreatedAt: yesterday.Add(9 * time.Hour),
	}))

	resp := do(t, env.server, http.MethodPost, "/v1/admin/cash-registers/auto-close", nil, env.adminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result dto.AutoCloseResult
	decodeJSON(t, resp, &result)
	assert.Equal(t, 1, result.ClosedCount)
	assert.Equal(t, []string{stale.ID.String()}, result.ClosedIDs)

	got, err := repo.FindByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RegisterClosed, got.Status)
	require.NotNil(t, got.ClosingBalance)
	assert.True(t, got.ClosingBalance.Equal(decimal.NewFromInt(50)))
	assert.True(t, got.Difference.IsZero())

	// A second run finds nothing.
	resp = do(t, env.server, http.MethodPost, "/v1/admin/cash-registers/auto-close", nil, env.adminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &result)
	assert.Zero(t, result.ClosedCount)
}

func TestE2E_ConcurrentClosesAppendOneClosing(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	mgr, _ := env.seedUser(t, model.RoleManager)
	caller := service.Caller{UserID: mgr, Role: model.RoleManager}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	reg := &model.CashRegister{
		ManagerID: mgr, BusinessDate: today, Status: model.RegisterOpen,
		OpeningBalance: decimal.NewFromInt(100), OpenedAt: today,
	}
	repo := repository.NewCashRegisterRepository(env.db)
	require.NoError(t, repo.Create(ctx, reg))

	const closers, adders = 8, 8
	var wg sync.WaitGroup
	closeErrs := make([]error, closers)
	addErrs := make([]error, adders)
	start := make(chan struct{})
	for i := 0; i < closers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, closeErrs[i] = env.deps.Service.Close(ctx, caller, reg.ID, dto.CloseCashRegisterRequest{})
		}(i)
	}
	for i := 0; i < adders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, addErrs[i] = env.deps.Service.AddTransaction(ctx, caller, reg.ID,
				dto.AddCashTransactionRequest{Type: "CASH_IN", Amount: decimal.NewFromInt(5)})
		}(i)
	}
	close(start)
	wg.Wait()

	closed := 0
	for _, err := range closeErrs {
		if err == nil {
			closed++
			continue
		}
		assert.True(t, apierror.Is(err, apierror.KindBadRequest), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, closed)

	added := 0
	for _, err := range addErrs {
		if err == nil {
			added++
			continue
		}
		assert.True(t, apierror.Is(err, apierror.KindBadRequest), "unexpected error: %v", err)
	}

	var closings int64
	require.NoError(t, env.db.Model(&model.CashRegisterTransaction{}).
		Where("cash_register_id = ? AND type = ?", reg.ID, model.TxClosing).Count(&closings).Error)
	assert.Equal(t, int64(1), closings)

	got, err := repo.FindByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RegisterClosed, got.Status)
	// Every add that committed happened before the close and is in its snapshot.
	want := decimal.NewFromInt(100 + 5*int64(added))
	require.NotNil(t, got.ExpectedBalance)
	assert.True(t, want.Equal(*got.ExpectedBalance), "want %s, got %s", want, got.ExpectedBalance)
	assert.Equal(t, model.TxClosing, got.Transactions[len(got.Transactions)-1].Type)
}

func TestE2E_SubCentAmountIsRejectedNotRounded(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	mgr, mgrToken := env.seedUser(t, model.RoleManager)
	caller := service.Caller{UserID: mgr, Role: model.RoleManager}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	reg := &model.CashRegister{
		ManagerID: mgr, BusinessDate: today, Status: model.RegisterOpen,
		OpeningBalance: decimal.NewFromInt(10), OpenedAt: today,
	}
	repo := repository.NewCashRegisterRepository(env.db)
	require.NoError(t, repo.Create(ctx, reg))

	resp := do(t, env.server, http.MethodPost, "/v1/cash-registers/"+reg.ID.String()+"/transactions",
		map[string]any{"type": "CASH_IN", "amount": "0.005"}, mgrToken)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	_, err := env.deps.Service.Close(ctx, caller, reg.ID, dto.CloseCashRegisterRequest{ClosingBalance: ptrDecimal("13.999")})
	assert.True(t, apierror.Is(err, apierror.KindBadRequest))

	got, err := repo.FindByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RegisterOpen, got.Status)
	assert.Empty(t, got.Transactions)
}

func ptrDecimal(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestE2E_HealthAndAuth(t *testing.T) {
	env := setupTestEnv(t)

	resp := do(t, env.server, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	decodeJSON(t, resp, &health)
	assert.Equal(t, true, health["ok"])
	assert.Equal(t, "closed", health["events_breaker"])

	resp = do(t, env.server, http.MethodGet, "/v1/cash-registers/today", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
