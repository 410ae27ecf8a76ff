package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/pavetrack/internal/audit/domain"
	"github.com/smallbiznis/pavetrack/internal/audit/repository"
	"github.com/smallbiznis/pavetrack/internal/clock"
	"github.com/smallbiznis/pavetrack/internal/ledgertest"
	"github.com/smallbiznis/pavetrack/pkg/db/pagination"
	obscontext "github.com/smallbiznis/pavetrack/internal/observability/context"
	"github.com/smallbiznis/pavetrack/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) auditdomain.Service {
	t.Helper()
	return NewService(Params{
		DB:    ledgertest.NewDB(t),
		Log:   zap.NewNop(),
		GenID: ledgertest.NewNode(t),
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
	})
}

func TestAuditLogPersistsEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = correlation.ContextWithCorrelationID(ctx, "corr-1")

	err := svc.Record(ctx, auditdomain.Entry{
		ActorType:  "user",
		ActorID:    "user-7",
		Action:     auditdomain.ActionCommitmentCancelled,
		TargetType: "delivery_commitment",
		TargetID:   "555",
		Metadata: map[string]any{
			"mass_tons": "5",
			"":          "dropped",
		},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TargetType: "delivery_commitment", TargetID: "555"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "user-7", *entry.ActorID)
	assert.Equal(t, "corr-1", entry.CorrelationID)
	assert.Equal(t, "5", entry.Metadata["mass_tons"])
	assert.Equal(t, "req-9", entry.Metadata["request_id"])
	assert.NotContains(t, entry.Metadata, "")
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{Action: auditdomain.ActionStatusIntegrityRepaired}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{Action: "status_integrity.repaired"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "system", resp.AuditLogs[0].ActorType)
	assert.Equal(t, "unknown", resp.AuditLogs[0].TargetType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
	assert.NotEmpty(t, resp.AuditLogs[0].CorrelationID)
}

func TestAuditLogRequiresAction(t *testing.T) {
	svc := newTestService(t)
	assert.ErrorIs(t, svc.Record(context.Background(), auditdomain.Entry{ActorType: "user", Action: " ", TargetType: "x"}), auditdomain.ErrInvalidAction)
}

func TestRecordUsesContextActor(t *testing.T) {
	svc := newTestService(t)
	ctx := obscontext.WithActor(context.Background(), "user", "user-3")

	require.NoError(t, svc.Record(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionApplicationDeleted,
		TargetType: "application_record",
		TargetID:   " 77 ",
	}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{ActorID: "user-3", TargetID: "77"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "user", resp.AuditLogs[0].ActorType)
	require.NotNil(t, resp.AuditLogs[0].ActorID)
	assert.Equal(t, "user-3", *resp.AuditLogs[0].ActorID)
}

func TestListRejectsBadPageToken(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
