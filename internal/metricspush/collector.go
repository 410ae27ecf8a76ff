package metricspush

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	allocationdomain "github.com/smallbiznis/pavetrack/internal/allocation/domain"
	"github.com/smallbiznis/pavetrack/internal/config"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
	requisitiondomain "github.com/smallbiznis/pavetrack/internal/requisition/domain"
	"gorm.io/gorm"
)

var massKinds = []string{"total", "applied", "programmed", "available"}

// Collector refreshes point-in-time ledger gauges on its own registry.
type Collector struct {
	db       *gorm.DB
	repo     allocationdomain.Repository
	policy   *config.LedgerPolicyHolder
	registry *prometheus.Registry

	requisitions *prometheus.GaugeVec
	commitments  *prometheus.GaugeVec
	massTons     *prometheus.GaugeVec
}

func NewCollector(db *gorm.DB, repo allocationdomain.Repository, policy *config.LedgerPolicyHolder) *Collector {
	c := &Collector{
		db:       db,
		repo:     repo,
		policy:   policy,
		registry: prometheus.NewRegistry(),
		requisitions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pavetrack_requisitions",
			Help: "Requisitions by scheduling state",
		}, []string{"state"}),
		commitments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pavetrack_commitments",
			Help: "Delivery commitments by status",
		}, []string{"status"}),
		massTons: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pavetrack_mass_tons",
			Help: "Mass across all requisitions by ledger bucket",
		}, []string{"kind"}),
	}
	c.registry.MustRegister(c.requisitions, c.commitments, c.massTons)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

type statusCount struct {
	Status string `gorm:"column:status"`
	Count  int64  `gorm:"column:count"`
}

// Refresh recomputes every gauge from the ledger tables.
func (c *Collector) Refresh(ctx context.Context) error {
	rows, err := c.repo.ListTotals(ctx, c.db)
	if err != nil {
		return fmt.Errorf("aggregate requisitions: %w", err)
	}

	tolerance := c.policy.Get().SchedulingTolerance()
	mass := make(map[string]float64, len(massKinds))
	var schedulable, complete, other float64
	for _, row := range rows {
		snap := allocationdomain.NewSnapshot(requisitiondomain.KgToTons(row.TotalKg), row.AppliedTons, row.ProgrammedTons, tolerance)
		mass["total"] += snap.Total.InexactFloat64()
		mass["applied"] += snap.Applied.InexactFloat64()
		mass["programmed"] += snap.Programmed.InexactFloat64()
		mass["available"] += snap.Available.InexactFloat64()
		switch {
		case snap.IsComplete:
			complete++
		case snap.CanBeScheduled:
			schedulable++
		default:
			other++
		}
	}

	var counts []statusCount
	err = c.db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count FROM delivery_commitments GROUP BY status`,
	).Scan(&counts).Error
	if err != nil {
		return fmt.Errorf("count commitments: %w", err)
	}

	c.requisitions.WithLabelValues("schedulable").Set(schedulable)
	c.requisitions.WithLabelValues("complete").Set(complete)
	c.requisitions.WithLabelValues("fully_programmed").Set(other)
	for _, kind := range massKinds {
		c.massTons.WithLabelValues(kind).Set(mass[kind])
	}

	byStatus := make(map[string]int64, len(counts))
	for _, row := range counts {
		byStatus[row.Status] = row.Count
	}
	for _, status := range []deliverydomain.Status{
		deliverydomain.StatusPending,
		deliverydomain.StatusDispatched,
		deliverydomain.StatusCompleted,
		deliverydomain.StatusCancelled,
	} {
		c.commitments.WithLabelValues(string(status)).Set(float64(byStatus[string(status)]))
	}
	return nil
}
