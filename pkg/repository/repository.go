package repository

import (
	"context"

	"github.com/smallbiznis/storefront/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a typed read/insert store over a gorm table.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	BatchCreate(ctx context.Context, resources []*T) error
}
