package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/internal/actorcontext"
	allocationdomain "github.com/smallbiznis/pavetrack/internal/allocation/domain"
	"github.com/smallbiznis/pavetrack/internal/authorization"
	"github.com/smallbiznis/pavetrack/internal/config"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
	fieldapplicationdomain "github.com/smallbiznis/pavetrack/internal/fieldapplication/domain"
	"github.com/smallbiznis/pavetrack/internal/observability"
	"github.com/smallbiznis/pavetrack/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthz struct {
	allowed map[string]bool
	calls   []string
}

func (f *fakeAuthz) Authorize(ctx context.Context, userID string, object string, action string) error {
	f.calls = append(f.calls, userID+":"+action)
	if f.allowed[userID] {
		return nil
	}
	return authorization.ErrForbidden
}

func (f *fakeAuthz) HasAnyRole(ctx context.Context, userID string, roles []string) (bool, error) {
	return f.allowed[userID], nil
}

type fakeDeliveryService struct {
	deliverydomain.Service
	cancelErr error
	lastActor string
}

func (f *fakeDeliveryService) GetByID(ctx context.Context, id string) (deliverydomain.Commitment, error) {
	return deliverydomain.Commitment{}, deliverydomain.ErrNotFound
}

func (f *fakeDeliveryService) CanCancel(ctx context.Context, id string) (deliverydomain.Decision, error) {
	f.lastActor, _ = actorcontext.UserIDFromContext(ctx)
	return deliverydomain.Deny(deliverydomain.ReasonLoadRegistered), nil
}

func (f *fakeDeliveryService) Cancel(ctx context.Context, id string) (deliverydomain.Commitment, error) {
	f.lastActor, _ = actorcontext.UserIDFromContext(ctx)
	if f.cancelErr != nil {
		return deliverydomain.Commitment{}, f.cancelErr
	}
	return deliverydomain.Commitment{ID: 7, Status: deliverydomain.StatusCancelled}, nil
}

type fakeAllocationService struct {
	allocationdomain.Service
	err error
}

func (f *fakeAllocationService) Allocate(ctx context.Context, requisitionID string, req allocationdomain.AllocateRequest) (deliverydomain.Commitment, error) {
	if f.err != nil {
		return deliverydomain.Commitment{}, f.err
	}
	return deliverydomain.Commitment{ID: 9, MassTons: req.MassTons, Status: deliverydomain.StatusPending}, nil
}

func (f *fakeAllocationService) ListSchedulable(ctx context.Context) ([]allocationdomain.SchedulableRequisition, error) {
	return nil, nil
}

type fakeApplicationService struct {
	fieldapplicationdomain.Service
	recorded int
}

func (f *fakeApplicationService) Record(ctx context.Context, commitmentID string, req fieldapplicationdomain.RecordRequest) (fieldapplicationdomain.Record, error) {
	f.recorded++
	return fieldapplicationdomain.Record{ID: 11, Sequence: 1, MassTons: req.MassTons}, nil
}

type testServer struct {
	router       *gin.Engine
	authz        *fakeAuthz
	delivery     *fakeDeliveryService
	allocation   *fakeAllocationService
	applications *fakeApplicationService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLimiter(t, nil)
}

func newTestServerWithLimiter(t *testing.T, limiter *ratelimit.FieldWriteLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		authz:        &fakeAuthz{allowed: map[string]bool{"admin": true}},
		delivery:     &fakeDeliveryService{},
		allocation:   &fakeAllocationService{},
		applications: &fakeApplicationService{},
	}
	srv := NewServer(ServerParams{
		Gin:            NewEngine(observability.Config{Environment: "test"}, nil),
		WriteLimiter:   limiter,
		AuthzSvc:       ts.authz,
		DeliverySvc:    ts.delivery,
		AllocationSvc:  ts.allocation,
		ApplicationSvc: ts.applications,
	})
	ts.router = srv.Engine()
	return ts
}

func (ts *testServer) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestCancelCarriesActorAndReturnsCommitment(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/commitments/7/cancel", "admin", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "admin", ts.delivery.lastActor)
	assert.Contains(t, resp.Body.String(), `"status":"CANCELLED"`)
}

func TestCancelDeniedMapsReasonToStatus(t *testing.T) {
	cases := []struct {
		reason string
		status int
	}{
		{deliverydomain.ReasonLoadRegistered, http.StatusConflict},
		{deliverydomain.ReasonAlreadyDispatched, http.StatusConflict},
		{deliverydomain.ReasonNotPermitted, http.StatusForbidden},
		{deliverydomain.ReasonAuthenticationRequired, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			ts := newTestServer(t)
			ts.delivery.cancelErr = &deliverydomain.DeniedError{Reason: tc.reason}

			resp := ts.do(http.MethodPost, "/api/commitments/7/cancel", "driver", "")
			require.Equal(t, tc.status, resp.Code)
			payload := decodeError(t, resp)
			assert.Equal(t, "cancellation_denied", payload.Type)
			assert.Equal(t, tc.reason, payload.Reason)
		})
	}
}

func TestCancellationDecisionIsNotAnError(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/api/commitments/7/cancellation", "editor", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":{"allowed":false,"reason":"load already registered"}}`, resp.Body.String())
}

func TestAllocateInsufficientMassReportsAvailable(t *testing.T) {
	ts := newTestServer(t)
	ts.allocation.err = &allocationdomain.InsufficientMassError{
		Requested: decimal.RequireFromString("5"),
		Available: decimal.RequireFromString("2.5"),
	}

	resp := ts.do(http.MethodPost, "/api/requisitions/1/commitments", "admin", `{"mass_tons":"5"}`)
	require.Equal(t, http.StatusConflict, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "insufficient_available_mass", payload.Reason)
	assert.Equal(t, "2.5", payload.Details["available_tons"])
}

func TestAllocateValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/requisitions/1/commitments", "admin", `{"mass_tons":`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.do(http.MethodPost, "/api/requisitions/1/commitments", "admin", `{"mass_tons":"1","delivery_date":"tomorrow"}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_delivery_date", decodeError(t, resp).Errors[0].Code)

	ts.allocation.err = allocationdomain.ErrInvalidMass
	resp = ts.do(http.MethodPost, "/api/requisitions/1/commitments", "admin", `{"mass_tons":"0"}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "mass", decodeError(t, resp).Errors[0].Field)
}

func TestAllocateCreatesCommitment(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/requisitions/1/commitments", "admin", `{"mass_tons":2.5,"delivery_date":"2026-06-01"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"PENDING"`)
}

func TestSchedulableReturnsEmptyList(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/api/requisitions/schedulable", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":[]}`, resp.Body.String())
}

func TestGetCommitmentNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/api/commitments/42", "", "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeError(t, resp).Type)
}

func TestRecordApplicationRequiresPermission(t *testing.T) {
	ts := newTestServer(t)
	body := `{"mass_tons":"1.2","street":"Rua A"}`

	resp := ts.do(http.MethodPost, "/api/commitments/7/applications", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.do(http.MethodPost, "/api/commitments/7/applications", "driver", body)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, 0, ts.applications.recorded)

	resp = ts.do(http.MethodPost, "/api/commitments/7/applications", "admin", body)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, 1, ts.applications.recorded)
	assert.Equal(t, []string{"driver:" + authorization.ActionApplicationRecord, "admin:" + authorization.ActionApplicationRecord}, ts.authz.calls)
}

func TestAuditLogsRequireReadPermission(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/api/audit-logs", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.do(http.MethodGet, "/api/audit-logs", "driver", "")
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, []string{"driver:" + authorization.ActionAuditRead}, ts.authz.calls)
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(fieldapplicationdomain.ErrExceedsCommitment)
	assert.Equal(t, "conflict", errType)
	assert.Equal(t, "application_exceeds_commitment", code)

	errType, code = classifyErrorForLog(deliverydomain.ErrInvalidWeight)
	assert.Equal(t, "validation_error", errType)
	assert.Equal(t, "invalid_weight", code)

	errType, code = classifyErrorForLog(assert.AnError)
	assert.Equal(t, "internal_error", errType)
	assert.Equal(t, "internal_error", code)
}

func TestFieldWritesAreRateLimitedPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewFieldWriteLimiter(client, config.Config{FieldWriteRate: 0.001, FieldWriteBurst: 1})
	ts := newTestServerWithLimiter(t, limiter)

	body := `{"mass_tons":"5"}`
	first := ts.do(http.MethodPost, "/api/requisitions/1/commitments", "crew-1", body)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := ts.do(http.MethodPost, "/api/requisitions/1/commitments", "crew-1", body)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	other := ts.do(http.MethodPost, "/api/requisitions/1/commitments", "crew-2", body)
	assert.Equal(t, http.StatusCreated, other.Code)

	// reads are never throttled
	read := ts.do(http.MethodGet, "/api/requisitions/schedulable", "crew-1", "")
	assert.Equal(t, http.StatusOK, read.Code)
}

func TestRateLimiterOutageFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewFieldWriteLimiter(client, config.Config{FieldWriteRate: 1, FieldWriteBurst: 1})
	ts := newTestServerWithLimiter(t, limiter)

	resp := ts.do(http.MethodPost, "/api/requisitions/1/commitments", "crew-1", `{"mass_tons":"5"}`)
	assert.Equal(t, http.StatusCreated, resp.Code)
}
