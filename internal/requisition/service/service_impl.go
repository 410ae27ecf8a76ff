package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/internal/actorcontext"
	"github.com/smallbiznis/pavetrack/internal/clock"
	"github.com/smallbiznis/pavetrack/internal/requisition/domain"
	"github.com/smallbiznis/pavetrack/pkg/db"
	"github.com/smallbiznis/pavetrack/pkg/db/option"
	"github.com/smallbiznis/pavetrack/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("requisition.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequisitionRequest) (domain.Requisition, error) {
	number := strings.TrimSpace(req.Number)
	if number == "" {
		return domain.Requisition{}, domain.ErrInvalidNumber
	}
	if len(req.LineItems) == 0 {
		return domain.Requisition{}, domain.ErrInvalidLineItems
	}

	createdBy, _ := actorcontext.UserIDFromContext(ctx)
	now := s.clock.Now()
	requisition := domain.Requisition{
		ID:            s.genID.Generate(),
		Number:        number,
		CostCenterRef: strings.TrimSpace(req.CostCenterRef),
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	items := make([]domain.LineItem, 0, len(req.LineItems))
	totalKg := decimal.Zero
	for _, item := range req.LineItems {
		if item.MassKg.IsNegative() {
			return domain.Requisition{}, domain.ErrInvalidMass
		}
		items = append(items, domain.LineItem{
			ID:            s.genID.Generate(),
			RequisitionID: requisition.ID,
			Street:        strings.TrimSpace(item.Street),
			MassKg:        item.MassKg,
			CreatedAt:     now,
		})
		totalKg = totalKg.Add(item.MassKg)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &requisition); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateNumber
			}
			return err
		}
		return s.repo.InsertLineItems(ctx, tx, items)
	})
	if err != nil {
		return domain.Requisition{}, err
	}

	requisition.LineItems = items
	requisition.TotalMassTons = domain.KgToTons(totalKg)

	s.log.Info("requisition created",
		zap.String("requisition_id", requisition.ID.String()),
		zap.String("number", requisition.Number),
		zap.String("total_mass_tons", requisition.TotalMassTons.String()),
	)
	return requisition, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Requisition, error) {
	requisitionID, err := s.parseID(id)
	if err != nil {
		return domain.Requisition{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, requisitionID)
	if err != nil {
		return domain.Requisition{}, err
	}
	if item == nil {
		return domain.Requisition{}, domain.ErrNotFound
	}

	lineItems, err := s.repo.ListLineItems(ctx, s.db, requisitionID)
	if err != nil {
		return domain.Requisition{}, err
	}

	totalKg := decimal.Zero
	for _, line := range lineItems {
		totalKg = totalKg.Add(line.MassKg)
	}
	item.LineItems = lineItems
	item.TotalMassTons = domain.KgToTons(totalKg)

	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequisitionRequest) (domain.ListRequisitionResponse, error) {
	page := pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  option.PageSize(int(req.PageSize)),
	}
	items, err := s.repo.List(ctx, s.db, page)
	if err != nil {
		return domain.ListRequisitionResponse{}, err
	}

	requisitions, info := pagination.Page(items, page.PageSize, func(r *domain.Requisition) string {
		return pagination.CursorFor(r.ID, r.CreatedAt)
	})
	return domain.ListRequisitionResponse{PageInfo: info, Requisitions: requisitions}, nil
}

func (s *Service) ResolveTotalMass(ctx context.Context, id string) (decimal.Decimal, error) {
	requisitionID, err := s.parseID(id)
	if err != nil {
		return decimal.Zero, err
	}

	item, err := s.repo.FindByID(ctx, s.db, requisitionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("find requisition: %w", err)
	}
	if item == nil {
		return decimal.Zero, domain.ErrNotFound
	}

	totalKg, err := s.repo.SumMassKg(ctx, s.db, requisitionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum line items: %w", err)
	}
	return domain.KgToTons(totalKg), nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
