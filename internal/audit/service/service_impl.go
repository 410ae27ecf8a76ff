package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pavetrack/internal/audit/domain"
	"github.com/smallbiznis/pavetrack/internal/clock"
	obscontext "github.com/smallbiznis/pavetrack/internal/observability/context"
	"github.com/smallbiznis/pavetrack/pkg/db/option"
	"github.com/smallbiznis/pavetrack/pkg/db/pagination"
	"github.com/smallbiznis/pavetrack/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	action := strings.TrimSpace(string(entry.Action))
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}
	actorType, actorID := s.resolveActor(ctx, strings.TrimSpace(entry.ActorType), strings.TrimSpace(entry.ActorID))

	payload := make(map[string]any, len(entry.Metadata)+1)
	for key, value := range entry.Metadata {
		if key != "" {
			payload[key] = value
		}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	_, correlationID := correlation.EnsureCorrelationID(ctx)

	row := auditdomain.AuditLog{
		ID:            s.genID.Generate(),
		ActorType:     actorType,
		ActorID:       optional(actorID),
		Action:        action,
		TargetType:    targetType,
		TargetID:      optional(strings.TrimSpace(entry.TargetID)),
		CorrelationID: correlationID,
		Metadata:      datatypes.JSONMap(payload),
		CreatedAt:     s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &row); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	cursor, err := pagination.ParseCursorID(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
	}
	filter := auditdomain.ListFilter{
		Action:     req.Action,
		ActorID:    req.ActorID,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Limit:      option.PageSize(req.PageSize),
	}
	if cursor != 0 {
		filter.Cursor = &cursor
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	logs, info := pagination.Page(items, filter.Limit, func(item *auditdomain.AuditLog) string {
		return pagination.CursorFor(item.ID, item.CreatedAt)
	})
	return auditdomain.ListAuditLogResponse{PageInfo: info, AuditLogs: logs}, nil
}

// resolveActor falls back to the actor stamped on the request context.
func (s *Service) resolveActor(ctx context.Context, actorType, actorID string) (string, string) {
	if actorType == "" {
		ctxType, ctxID := obscontext.ActorFromContext(ctx)
		actorType = ctxType
		if actorID == "" {
			actorID = ctxID
		}
	}
	if actorType == "" {
		return string(auditdomain.ActorTypeSystem), actorID
	}
	return actorType, actorID
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
