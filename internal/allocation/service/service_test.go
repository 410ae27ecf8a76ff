package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/internal/actorcontext"
	"github.com/smallbiznis/pavetrack/internal/allocation/domain"
	"github.com/smallbiznis/pavetrack/internal/allocation/repository"
	"github.com/smallbiznis/pavetrack/internal/clock"
	"github.com/smallbiznis/pavetrack/internal/config"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
	deliveryrepository "github.com/smallbiznis/pavetrack/internal/delivery/repository"
	"github.com/smallbiznis/pavetrack/internal/ledgertest"
	requisitiondomain "github.com/smallbiznis/pavetrack/internal/requisition/domain"
	requisitionrepository "github.com/smallbiznis/pavetrack/internal/requisition/repository"
	requisitionservice "github.com/smallbiznis/pavetrack/internal/requisition/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db           *gorm.DB
	node         *snowflake.Node
	clock        *clock.FakeClock
	requisitions requisitiondomain.Service
	deliveryRepo deliverydomain.Repository
	svc          domain.Service
}

func newFixture(t *testing.T, allocationRepo domain.Repository) *fixture {
	t.Helper()
	db := ledgertest.NewDB(t)
	node := ledgertest.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC))
	requisitionRepo := requisitionrepository.Provide()
	requisitions := requisitionservice.New(requisitionservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  requisitionRepo,
		Clock: clk,
	})
	if allocationRepo == nil {
		allocationRepo = repository.Provide()
	}
	deliveryRepo := deliveryrepository.Provide()

	svc := New(Params{
		DB:              db,
		Log:             zap.NewNop(),
		GenID:           node,
		Repo:            allocationRepo,
		Requisitions:    requisitions,
		RequisitionRepo: requisitionRepo,
		DeliveryRepo:    deliveryRepo,
		Policy:          config.NewStaticLedgerPolicyHolder(config.DefaultLedgerPolicy()),
		Clock:           clk,
	})
	return &fixture{db: db, node: node, clock: clk, requisitions: requisitions, deliveryRepo: deliveryRepo, svc: svc}
}

func tons(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (f *fixture) requisition(t *testing.T, number string, massKg ...string) requisitiondomain.Requisition {
	t.Helper()
	items := make([]requisitiondomain.CreateLineItemRequest, 0, len(massKg))
	for i, kg := range massKg {
		items = append(items, requisitiondomain.CreateLineItemRequest{Street: "Street " + string(rune('A'+i)), MassKg: decimal.RequireFromString(kg)})
	}
	created, err := f.requisitions.Create(context.Background(), requisitiondomain.CreateRequisitionRequest{Number: number, LineItems: items})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	return created
}

func (f *fixture) commitment(t *testing.T, requisitionID snowflake.ID, status deliverydomain.Status, mass string) deliverydomain.Commitment {
	t.Helper()
	now := f.clock.Now()
	c := deliverydomain.Commitment{
		ID:            f.node.Generate(),
		RequisitionID: requisitionID,
		MassTons:      tons(mass),
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.deliveryRepo.InsertCommitment(context.Background(), f.db, &c))
	return c
}

func (f *fixture) applied(t *testing.T, commitmentID snowflake.ID, sequence int, mass string) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.db.Exec(
		`INSERT INTO application_records (id, commitment_id, sequence, mass_tons, applied_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.node.Generate(), commitmentID, sequence, tons(mass), now, now,
	).Error)
}

func TestComputeProgress(t *testing.T) {
	f := newFixture(t, nil)
	req := f.requisition(t, "REQ-1", "6000", "4000")

	pending := f.commitment(t, req.ID, deliverydomain.StatusPending, "2")
	dispatched := f.commitment(t, req.ID, deliverydomain.StatusDispatched, "2")
	f.applied(t, dispatched.ID, 1, "0.5")
	completed := f.commitment(t, req.ID, deliverydomain.StatusCompleted, "3")
	f.applied(t, completed.ID, 1, "1.75")
	f.applied(t, completed.ID, 2, "1.25")
	f.commitment(t, req.ID, deliverydomain.StatusCancelled, "1")

	snap, err := f.svc.ComputeProgress(context.Background(), req.ID.String())
	require.NoError(t, err)
	assert.Equal(t, req.ID, snap.RequisitionID)
	assert.True(t, snap.Total.Equal(tons("10")), "total %s", snap.Total)
	assert.True(t, snap.Applied.Equal(tons("3.5")), "applied %s", snap.Applied)
	assert.True(t, snap.Programmed.Equal(tons("4")), "programmed %s", snap.Programmed)
	assert.True(t, snap.Available.Equal(tons("2.5")), "available %s", snap.Available)
	assert.Equal(t, 35.0, snap.PctApplied)
	assert.Equal(t, 40.0, snap.PctProgrammed)
	assert.False(t, snap.IsComplete)
	assert.True(t, snap.CanBeScheduled)

	ok, err := f.deliveryRepo.CancelIfEligible(context.Background(), f.db, pending.ID, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	after, err := f.svc.ComputeProgress(context.Background(), req.ID.String())
	require.NoError(t, err)
	assert.True(t, after.Programmed.Equal(tons("2")))
	assert.True(t, after.Available.Equal(tons("4.5")), "cancelled mass returns to the pool")
}

func TestComputeProgressEmptyRequisition(t *testing.T) {
	f := newFixture(t, nil)
	req := f.requisition(t, "REQ-EMPTY", "12500")

	snap, err := f.svc.ComputeProgress(context.Background(), req.ID.String())
	require.NoError(t, err)
	assert.True(t, snap.Available.Equal(tons("12.5")))
	assert.Equal(t, 0.0, snap.PctApplied)
	assert.True(t, snap.CanBeScheduled)
}

func TestComputeProgressUnknownRequisition(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.ComputeProgress(context.Background(), f.node.Generate().String())
	assert.ErrorIs(t, err, domain.ErrRequisitionNotFound)

	_, err = f.svc.ComputeProgress(context.Background(), "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestComputeProgressDoubleCountsPartiallyAppliedDispatch(t *testing.T) {
	f := newFixture(t, nil)
	req := f.requisition(t, "REQ-PARTIAL", "100000")
	ctx := context.Background()

	commitment, err := f.svc.Allocate(ctx, req.ID.String(), domain.AllocateRequest{MassTons: tons("100")})
	require.NoError(t, err)
	ok, err := f.deliveryRepo.TransitionStatus(ctx, f.db, commitment.ID,
		[]deliverydomain.Status{deliverydomain.StatusPending}, deliverydomain.StatusDispatched, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	f.applied(t, commitment.ID, 1, "60")

	snap, err := f.svc.ComputeProgress(ctx, req.ID.String())
	require.NoError(t, err)
	assert.True(t, snap.Applied.Equal(tons("60")), "applied %s", snap.Applied)
	assert.True(t, snap.Programmed.Equal(tons("100")), "programmed %s", snap.Programmed)
	assert.True(t, snap.Available.IsZero(), "available %s", snap.Available)
	assert.True(t, snap.Applied.Add(snap.Programmed).Add(snap.Available).Equal(tons("160")))
	assert.False(t, snap.IsComplete)
	assert.False(t, snap.CanBeScheduled)

	_, err = f.svc.Allocate(ctx, req.ID.String(), domain.AllocateRequest{MassTons: tons("1")})
	assert.ErrorIs(t, err, domain.ErrInsufficientAvailableMass)

	f.applied(t, commitment.ID, 2, "40")
	ok, err = f.deliveryRepo.TransitionStatus(ctx, f.db, commitment.ID,
		[]deliverydomain.Status{deliverydomain.StatusDispatched}, deliverydomain.StatusCompleted, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	done, err := f.svc.ComputeProgress(ctx, req.ID.String())
	require.NoError(t, err)
	assert.True(t, done.Applied.Equal(tons("100")))
	assert.True(t, done.Programmed.IsZero())
	assert.True(t, done.Applied.Add(done.Programmed).Add(done.Available).Equal(done.Total))
	assert.True(t, done.IsComplete)
}

func TestListSchedulable(t *testing.T) {
	f := newFixture(t, nil)

	full := f.requisition(t, "REQ-FULL", "5000")
	f.commitment(t, full.ID, deliverydomain.StatusPending, "5")

	nearlyFull := f.requisition(t, "REQ-TOLERANCE", "5000")
	done := f.commitment(t, nearlyFull.ID, deliverydomain.StatusCompleted, "4.95")
	f.applied(t, done.ID, 1, "4.95")

	older := f.requisition(t, "REQ-OLDER", "8000")
	f.commitment(t, older.ID, deliverydomain.StatusDispatched, "3")

	newer := f.requisition(t, "REQ-NEWER", "2000")
	f.commitment(t, newer.ID, deliverydomain.StatusCancelled, "2")

	items, err := f.svc.ListSchedulable(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "REQ-NEWER", items[0].Number)
	assert.Equal(t, "REQ-OLDER", items[1].Number)
	assert.True(t, items[0].Progress.Available.Equal(tons("2")))
	assert.True(t, items[1].Progress.Available.Equal(tons("5")))

	for _, item := range items {
		single, err := f.svc.ComputeProgress(context.Background(), item.ID.String())
		require.NoError(t, err)
		assert.True(t, single.Available.Equal(item.Progress.Available))
		assert.Equal(t, single.CanBeScheduled, item.Progress.CanBeScheduled)
	}
}

func TestAllocate(t *testing.T) {
	f := newFixture(t, nil)
	req := f.requisition(t, "REQ-ALLOC", "10000")
	ctx := actorcontext.WithUserID(context.Background(), "scheduler-1")
	date := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)

	commitment, err := f.svc.Allocate(ctx, req.ID.String(), domain.AllocateRequest{
		MassTons:     tons("4"),
		TruckRef:     " TRK-9 ",
		CrewRef:      "CREW-2",
		DeliveryDate: &date,
	})
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusPending, commitment.Status)
	assert.Equal(t, "TRK-9", commitment.TruckRef)
	assert.Equal(t, "scheduler-1", commitment.CreatedBy)

	stored, err := f.requisitions.GetByID(context.Background(), req.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.AllocationVersion)

	history, err := f.deliveryRepo.ListHistory(context.Background(), f.db, commitment.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, deliverydomain.StatusPending, history[0].NewStatus)

	_, err = f.svc.Allocate(ctx, req.ID.String(), domain.AllocateRequest{MassTons: tons("6.5")})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientAvailableMass)
	var insufficient *domain.InsufficientMassError
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, insufficient.Available.Equal(tons("6")))
}

func TestAllocateNeverOverCommits(t *testing.T) {
	f := newFixture(t, nil)
	req := f.requisition(t, "REQ-SEQ", "10000")
	ctx := context.Background()

	succeeded := 0
	for i := 0; i < 5; i++ {
		if _, err := f.svc.Allocate(ctx, req.ID.String(), domain.AllocateRequest{MassTons: tons("3")}); err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientAvailableMass)
		}
	}
	assert.Equal(t, 3, succeeded)

	_, err := f.svc.Allocate(ctx, req.ID.String(), domain.AllocateRequest{MassTons: tons("1")})
	require.NoError(t, err)

	snap, err := f.svc.ComputeProgress(ctx, req.ID.String())
	require.NoError(t, err)
	assert.True(t, snap.Programmed.Equal(snap.Total))
	assert.True(t, snap.Available.IsZero())
	assert.False(t, snap.CanBeScheduled)

	_, err = f.svc.Allocate(ctx, req.ID.String(), domain.AllocateRequest{MassTons: tons("0.05")})
	assert.ErrorIs(t, err, domain.ErrInsufficientAvailableMass)
}

func TestAllocateValidation(t *testing.T) {
	f := newFixture(t, nil)
	req := f.requisition(t, "REQ-VAL", "1000")

	_, err := f.svc.Allocate(context.Background(), req.ID.String(), domain.AllocateRequest{MassTons: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidMass)

	_, err = f.svc.Allocate(context.Background(), "x", domain.AllocateRequest{MassTons: tons("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = f.svc.Allocate(context.Background(), f.node.Generate().String(), domain.AllocateRequest{MassTons: tons("1")})
	assert.ErrorIs(t, err, domain.ErrRequisitionNotFound)
}

func TestValidateQuantity(t *testing.T) {
	f := newFixture(t, nil)
	req := f.requisition(t, "REQ-Q", "5000")
	ctx := context.Background()

	assert.NoError(t, f.svc.ValidateQuantity(ctx, req.ID.String(), tons("5")))
	assert.ErrorIs(t, f.svc.ValidateQuantity(ctx, req.ID.String(), tons("5.001")), domain.ErrInsufficientAvailableMass)
	assert.ErrorIs(t, f.svc.ValidateQuantity(ctx, req.ID.String(), tons("-1")), domain.ErrInvalidMass)
}

type conflictingRepo struct {
	domain.Repository
	mock.Mock
}

func (r *conflictingRepo) BumpAllocationVersion(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID, expected int64, at time.Time) (bool, error) {
	args := r.Called(expected)
	if !args.Bool(0) {
		return false, args.Error(1)
	}
	return r.Repository.BumpAllocationVersion(ctx, db, requisitionID, expected, at)
}

func TestAllocateRetriesOnVersionConflict(t *testing.T) {
	repo := &conflictingRepo{Repository: repository.Provide()}
	repo.On("BumpAllocationVersion", int64(0)).Return(false, nil).Once()
	repo.On("BumpAllocationVersion", int64(0)).Return(true, nil)

	f := newFixture(t, repo)
	req := f.requisition(t, "REQ-RACE", "10000")

	_, err := f.svc.Allocate(context.Background(), req.ID.String(), domain.AllocateRequest{MassTons: tons("4")})
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "BumpAllocationVersion", 2)

	commitments, err := f.deliveryRepo.ListByRequisition(context.Background(), f.db, req.ID)
	require.NoError(t, err)
	assert.Len(t, commitments, 1, "the conflicting attempt must roll back its insert")
}

func TestAllocateGivesUpAfterMaxAttempts(t *testing.T) {
	repo := &conflictingRepo{Repository: repository.Provide()}
	repo.On("BumpAllocationVersion", int64(0)).Return(false, nil)

	f := newFixture(t, repo)
	req := f.requisition(t, "REQ-LOST", "10000")

	_, err := f.svc.Allocate(context.Background(), req.ID.String(), domain.AllocateRequest{MassTons: tons("4")})
	assert.ErrorIs(t, err, domain.ErrConcurrentAllocation)
	repo.AssertNumberOfCalls(t, "BumpAllocationVersion", config.DefaultLedgerPolicy().MaxAllocationAttempts)

	commitments, err := f.deliveryRepo.ListByRequisition(context.Background(), f.db, req.ID)
	require.NoError(t, err)
	assert.Empty(t, commitments)
}
