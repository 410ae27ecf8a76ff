package authorization

import (
	"context"
	"strings"

	"github.com/casbin/casbin/v2"
	auditdomain "github.com/smallbiznis/pavetrack/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Roles    RoleProvider
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	roles    RoleProvider
	auditSvc auditdomain.Service
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		roles:    p.Roles,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, userID string, object string, action string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roles, err := s.roles.Roles(ctx, userID)
	if err != nil {
		return err
	}

	subject := userSubject(userID)
	if err := s.ensureGrouping(subject, roles); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, userID, object, action, roles)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) HasAnyRole(ctx context.Context, userID string, wanted []string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, ErrInvalidActor
	}
	roles, err := s.roles.Roles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		for _, candidate := range wanted {
			if strings.EqualFold(strings.TrimSpace(candidate), role) {
				return true, nil
			}
		}
	}
	return false, nil
}

// ensureGrouping makes the user's casbin role links mirror the profile roles.
func (s *ServiceImpl) ensureGrouping(subject string, roles []string) error {
	desired := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		desired[RoleSubject(role)] = struct{}{}
	}

	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if _, ok := desired[rule[1]]; ok {
			delete(desired, rule[1])
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(rule[0], rule[1]); err != nil {
			return err
		}
	}

	for roleName := range desired {
		if _, err := s.enforcer.AddGroupingPolicy(subject, roleName); err != nil {
			return err
		}
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, userID string, object string, action string, roles []string) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType:  "user",
		ActorID:    userID,
		Action:     auditdomain.ActionAuthorizationDenied,
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object":  object,
			"action":  action,
			"subject": userSubject(userID),
			"roles":   strings.Join(roles, ","),
		},
	})
	if err != nil {
		s.log.Warn("failed to audit denied authorization", zap.String("action", action), zap.Error(err))
	}
}

func userSubject(userID string) string {
	return "user:" + userID
}
