package authorization

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultRoleTTL = 5 * time.Minute

// RoleProvider resolves the roles recorded on a user's profile.
type RoleProvider interface {
	Roles(ctx context.Context, userID string) ([]string, error)
	Invalidate(ctx context.Context, userID string) error
}

type roleProvider struct {
	db    *gorm.DB
	log   *zap.Logger
	cache RoleCache
	ttl   time.Duration
}

func NewRoleProvider(db *gorm.DB, log *zap.Logger, cache RoleCache, ttl time.Duration) RoleProvider {
	if ttl <= 0 {
		ttl = defaultRoleTTL
	}
	return &roleProvider{
		db:    db,
		log:   log.Named("authorization.roles"),
		cache: cache,
		ttl:   ttl,
	}
}

// Roles returns an empty slice for users without a profile row.
func (p *roleProvider) Roles(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidActor
	}

	if p.cache != nil {
		roles, ok, err := p.cache.Get(ctx, userID)
		if err != nil {
			p.log.Warn("role cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			return roles, nil
		}
	}

	var stored pq.StringArray
	err := p.db.WithContext(ctx).Raw(
		`SELECT roles FROM profiles WHERE user_id = ? LIMIT 1`,
		userID,
	).Row().Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load profile roles: %w", err)
	}

	roles := make([]string, 0, len(stored))
	for _, role := range stored {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, userID, roles, p.ttl); err != nil {
			p.log.Warn("role cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return roles, nil
}

func (p *roleProvider) Invalidate(ctx context.Context, userID string) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Delete(ctx, strings.TrimSpace(userID))
}
