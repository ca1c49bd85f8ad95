// Package option provides composable query modifiers for gorm statements.
package option

import (
	"fmt"
	"strings"

	"github.com/stackbay/agora/pkg/db/pagination"
	"gorm.io/gorm"
)

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a simple field comparison to the statement.
func ApplyOperator(cond Condition) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
	})
}

// ApplyPagination applies cursor pagination. One extra row is fetched so the
// caller can detect whether more pages exist.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if p.PageToken != "" {
			if cursor, err := pagination.DecodeCursor(p.PageToken); err == nil && cursor.CreatedAt != "" {
				db = db.Where("created_at < ?", cursor.CreatedAt)
			}
		}
		size := p.PageSize
		if size <= 0 {
			size = 10
		}
		return db.Limit(size + 1)
	})
}

// WithSortBy orders the statement by an allow-listed column.
func WithSortBy(field, direction string, allowed map[string]bool) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if !allowed[field] {
			return db
		}
		dir := "asc"
		if strings.EqualFold(direction, "desc") {
			dir = "desc"
		}
		return db.Order(fmt.Sprintf("%s %s", field, dir))
	})
}
