package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/internal/config"
	"github.com/smallbiznis/pavetrack/internal/ledgertest"
	"github.com/smallbiznis/pavetrack/internal/observability"
	obsmetrics "github.com/smallbiznis/pavetrack/internal/observability/metrics"
	"github.com/smallbiznis/pavetrack/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	t      *testing.T
	db     *gorm.DB
	genID  *snowflake.Node
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := ledgertest.NewDB(t)
	node := ledgertest.NewNode(t)
	cfg := config.Config{
		AppName:      "pavetrack",
		Environment:  "test",
		HTTPAddr:     "127.0.0.1:0",
		RoleCacheTTL: time.Minute,
	}

	var srv *server.Server
	app := fxtest.New(t,
		fx.Supply(cfg, db, node),
		fx.Supply(config.NewStaticLedgerPolicyHolder(config.DefaultLedgerPolicy())),
		fx.Supply(observability.Config{ServiceName: "pavetrack", Environment: "test"}),
		fx.Provide(func() *zap.Logger { return zap.NewNop() }),
		fx.Provide(func() *obsmetrics.HTTPMetrics { return nil }),
		server.Module,
		fx.Populate(&srv),
	)
	require.NoError(t, app.Err())

	for user, roles := range map[string]string{
		"admin":  "{SuperAdm}",
		"editor": "{Apontador}",
		"driver": "{Motorista}",
	} {
		require.NoError(t, db.Exec(`INSERT INTO profiles (user_id, roles) VALUES (?, ?)`, user, roles).Error)
	}

	return &testEnv{t: t, db: db, genID: node, router: srv.Engine()}
}

func (e *testEnv) do(method, path, user string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(e.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(server.HeaderUserID, user)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) decode(resp *httptest.ResponseRecorder, status int, out any) {
	e.t.Helper()
	require.Equal(e.t, status, resp.Code, resp.Body.String())
	if out == nil {
		return
	}
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(e.t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.NoError(e.t, json.Unmarshal(envelope.Data, out))
}

type entity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

type snapshot struct {
	Total          decimal.Decimal `json:"total_tons"`
	Applied        decimal.Decimal `json:"applied_tons"`
	Programmed     decimal.Decimal `json:"programmed_tons"`
	Available      decimal.Decimal `json:"available_tons"`
	IsComplete     bool            `json:"is_complete"`
	CanBeScheduled bool            `json:"can_be_scheduled"`
}

func (s snapshot) assert(t *testing.T, applied, programmed, available string) {
	t.Helper()
	assert.True(t, s.Applied.Equal(decimal.RequireFromString(applied)), "applied %s", s.Applied)
	assert.True(t, s.Programmed.Equal(decimal.RequireFromString(programmed)), "programmed %s", s.Programmed)
	assert.True(t, s.Available.Equal(decimal.RequireFromString(available)), "available %s", s.Available)
	assert.True(t, s.Available.GreaterThanOrEqual(decimal.Zero))
	if s.Applied.Add(s.Programmed).LessThanOrEqual(s.Total) {
		assert.True(t, s.Applied.Add(s.Programmed).Add(s.Available).Equal(s.Total), "applied+programmed+available must equal total")
	} else {
		assert.True(t, s.Available.IsZero(), "partially applied dispatches leave nothing available")
	}
}

func (e *testEnv) createRequisition(number string, kg ...int64) string {
	e.t.Helper()
	items := make([]map[string]any, 0, len(kg))
	for i, mass := range kg {
		items = append(items, map[string]any{"street": fmt.Sprintf("Rua %d", i+1), "mass_kg": mass})
	}
	var req entity
	e.decode(e.do(http.MethodPost, "/api/requisitions", "admin", map[string]any{
		"number":          number,
		"cost_center_ref": "CC-01",
		"line_items":      items,
	}), http.StatusCreated, &req)
	return req.ID
}

func (e *testEnv) progress(requisitionID string) snapshot {
	e.t.Helper()
	var snap snapshot
	e.decode(e.do(http.MethodGet, "/api/requisitions/"+requisitionID+"/progress", "", nil), http.StatusOK, &snap)
	return snap
}

func (e *testEnv) allocate(requisitionID, tons string) entity {
	e.t.Helper()
	var c entity
	e.decode(e.do(http.MethodPost, "/api/requisitions/"+requisitionID+"/commitments", "editor", map[string]any{
		"mass_tons": tons,
		"truck_ref": "TRK-7",
		"crew_ref":  "CREW-B",
	}), http.StatusCreated, &c)
	assert.Equal(e.t, "PENDING", c.Status)
	return c
}

func (e *testEnv) dispatch(commitmentID string) {
	e.t.Helper()
	e.decode(e.do(http.MethodPost, "/api/commitments/"+commitmentID+"/load", "editor", map[string]any{
		"out_weight_kg": "41000",
	}), http.StatusCreated, nil)
}

func (e *testEnv) apply(commitmentID, tons string) {
	e.t.Helper()
	e.decode(e.do(http.MethodPost, "/api/commitments/"+commitmentID+"/applications", "editor", map[string]any{
		"mass_tons": tons,
		"street":    "Rua 1",
	}), http.StatusCreated, nil)
}

func (e *testEnv) commitmentStatus(commitmentID string) string {
	e.t.Helper()
	var c entity
	e.decode(e.do(http.MethodGet, "/api/commitments/"+commitmentID, "", nil), http.StatusOK, &c)
	return c.Status
}

func (e *testEnv) canCancel(commitmentID, user string) decision {
	e.t.Helper()
	var d decision
	e.decode(e.do(http.MethodGet, "/api/commitments/"+commitmentID+"/cancellation", user, nil), http.StatusOK, &d)
	return d
}

func (e *testEnv) schedulableIDs() []string {
	e.t.Helper()
	var items []entity
	e.decode(e.do(http.MethodGet, "/api/requisitions/schedulable", "", nil), http.StatusOK, &items)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestRequisitionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	reqID := env.createRequisition("REQ-100", 60000, 40000)

	// commitment A: 40 t pending
	a := env.allocate(reqID, "40")
	snap := env.progress(reqID)
	snap.assert(t, "0", "40", "60")
	assert.False(t, snap.IsComplete)
	assert.True(t, snap.CanBeScheduled)

	// A is delivered and fully applied
	env.dispatch(a.ID)
	env.apply(a.ID, "25")
	env.apply(a.ID, "15")
	assert.Equal(t, "COMPLETED", env.commitmentStatus(a.ID))
	snap = env.progress(reqID)
	snap.assert(t, "40", "0", "60")

	// commitment C: 10 t, never dispatched, then cancelled
	c := env.allocate(reqID, "10")
	before := env.progress(reqID)
	before.assert(t, "40", "10", "50")

	env.decode(env.do(http.MethodPost, "/api/commitments/"+c.ID+"/cancel", "admin", nil), http.StatusOK, nil)
	after := env.progress(reqID)
	after.assert(t, "40", "0", "60")
	assert.True(t, after.Available.Equal(before.Available.Add(decimal.NewFromInt(10))))

	// commitment B consumes everything that is left
	b := env.allocate(reqID, "60")
	snap = env.progress(reqID)
	snap.assert(t, "40", "60", "0")
	assert.False(t, snap.CanBeScheduled)
	assert.False(t, snap.IsComplete, "remaining mass is programmed, not applied")
	assert.NotContains(t, env.schedulableIDs(), reqID)

	// nothing more can be allocated
	resp := env.do(http.MethodPost, "/api/requisitions/"+reqID+"/commitments", "editor", map[string]any{"mass_tons": "1"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	// B is delivered and applied; the cancelled C never reaches applied
	env.dispatch(b.ID)
	env.apply(b.ID, "20")
	snap = env.progress(reqID)
	snap.assert(t, "60", "60", "0")
	assert.False(t, snap.IsComplete)

	env.apply(b.ID, "40")
	snap = env.progress(reqID)
	snap.assert(t, "100", "0", "0")
	assert.True(t, snap.IsComplete)
	assert.Equal(t, "CANCELLED", env.commitmentStatus(c.ID))

	var history []struct {
		NewStatus string `json:"new_status"`
	}
	env.decode(env.do(http.MethodGet, "/api/commitments/"+a.ID+"/history", "", nil), http.StatusOK, &history)
	statuses := make([]string, 0, len(history))
	for _, h := range history {
		statuses = append(statuses, h.NewStatus)
	}
	assert.Equal(t, []string{"PENDING", "DISPATCHED", "COMPLETED"}, statuses)
}

func TestCompleteRequisitionWithOpenCommitment(t *testing.T) {
	env := newTestEnv(t)
	reqID := env.createRequisition("REQ-200", 10000)
	a := env.allocate(reqID, "10")
	env.dispatch(a.ID)

	// field crews booked the full mass directly; the status sweep has not run yet
	id, err := snowflake.ParseString(a.ID)
	require.NoError(t, err)
	require.NoError(t, env.db.Exec(
		`INSERT INTO application_records (id, commitment_id, sequence, mass_tons, applied_at, created_at) VALUES (?, ?, 1, 10, ?, ?)`,
		env.genID.Generate(), id, time.Now().UTC(), time.Now().UTC(),
	).Error)

	snap := env.progress(reqID)
	assert.True(t, snap.IsComplete)
	assert.Equal(t, "DISPATCHED", env.commitmentStatus(a.ID), "complete requisition does not imply completed commitments")

	var report struct {
		Checked  int `json:"checked"`
		Repaired int `json:"repaired"`
	}
	env.decode(env.do(http.MethodPost, "/api/maintenance/status-integrity", "admin", nil), http.StatusOK, &report)
	assert.Equal(t, 1, report.Repaired)
	assert.Equal(t, "COMPLETED", env.commitmentStatus(a.ID))
}

func TestCancellationRules(t *testing.T) {
	env := newTestEnv(t)
	reqID := env.createRequisition("REQ-300", 50000)

	dispatched := env.allocate(reqID, "10")
	env.dispatch(dispatched.ID)
	for _, user := range []string{"admin", "editor", "driver"} {
		d := env.canCancel(dispatched.ID, user)
		assert.False(t, d.Allowed, user)
		assert.Equal(t, "already dispatched or delivered", d.Reason, user)
	}

	// a ticket on a pending commitment blocks cancellation regardless of status
	pending := env.allocate(reqID, "5")
	id, err := snowflake.ParseString(pending.ID)
	require.NoError(t, err)
	require.NoError(t, env.db.Exec(
		`INSERT INTO load_tickets (id, commitment_id, out_weight_kg, loaded_at, created_at) VALUES (?, ?, 12000, ?, ?)`,
		env.genID.Generate(), id, time.Now().UTC(), time.Now().UTC(),
	).Error)
	d := env.canCancel(pending.ID, "admin")
	assert.False(t, d.Allowed)
	assert.Equal(t, "load already registered", d.Reason)

	resp := env.do(http.MethodPost, "/api/commitments/"+pending.ID+"/cancel", "admin", nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "PENDING", env.commitmentStatus(pending.ID))

	free := env.allocate(reqID, "5")
	assert.False(t, env.canCancel(free.ID, "").Allowed)
	assert.True(t, env.canCancel(free.ID, "driver").Allowed)
	assert.True(t, env.canCancel(free.ID, "admin").Allowed)

	resp = env.do(http.MethodPost, "/api/commitments/"+free.ID+"/cancel", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	env.decode(env.do(http.MethodPost, "/api/commitments/"+free.ID+"/cancel", "driver", nil), http.StatusOK, nil)
	d = env.canCancel(free.ID, "admin")
	assert.False(t, d.Allowed)
	assert.Equal(t, "already cancelled", d.Reason)
}

func TestApplicationPermissions(t *testing.T) {
	env := newTestEnv(t)
	reqID := env.createRequisition("REQ-400", 20000)
	a := env.allocate(reqID, "8")
	env.dispatch(a.ID)

	resp := env.do(http.MethodPost, "/api/commitments/"+a.ID+"/applications", "driver", map[string]any{"mass_tons": "2"})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = env.do(http.MethodPost, "/api/commitments/"+a.ID+"/applications", "editor", map[string]any{"mass_tons": "9"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = env.do(http.MethodPost, "/api/maintenance/status-integrity", "editor", nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	var logs []struct {
		Action string `json:"action"`
	}
	env.decode(env.do(http.MethodGet, "/api/audit-logs?action=authorization.denied", "admin", nil), http.StatusOK, &logs)
	assert.Len(t, logs, 2)

	resp = env.do(http.MethodGet, "/api/audit-logs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	resp = env.do(http.MethodGet, "/api/audit-logs", "editor", nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestSchedulableListing(t *testing.T) {
	env := newTestEnv(t)
	older := env.createRequisition("REQ-500", 5000)
	newer := env.createRequisition("REQ-501", 5000)
	full := env.createRequisition("REQ-502", 5000)
	env.allocate(full, "5")

	ids := env.schedulableIDs()
	assert.NotContains(t, ids, full)
	require.Len(t, ids, 2)
	assert.ElementsMatch(t, []string{older, newer}, ids)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var count int64
	require.NoError(t, env.db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM delivery_commitments`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}
