package option

import (
	"github.com/smallbiznis/pavetrack/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

// QueryOption mutates a GORM statement.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

// PageSize clamps a requested size into [1, MaxPageSize].
func PageSize(requested int) int {
	switch {
	case requested <= 0:
		return DefaultPageSize
	case requested > MaxPageSize:
		return MaxPageSize
	default:
		return requested
	}
}

// ApplyPagination resumes after the cursor id and fetches one look-ahead row.
// An unreadable token restarts from the newest row.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if id, err := pagination.ParseCursorID(page.PageToken); err == nil && id != 0 {
			db = db.Where("id < ?", id)
		}
		return db.Limit(PageSize(page.PageSize) + 1)
	})
}
