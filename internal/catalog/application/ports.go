package application

import (
	"context"

	"github.com/kselivanov/keymarket/internal/catalog/domain"
)

type ProductRepository interface {
	ListEnabled(ctx context.Context) ([]domain.Product, error)
	GetEnabled(ctx context.Context, id int64) (domain.Product, error)
	EnabledByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
}

// ProductCache is a read-through byte cache keyed by product id.
type ProductCache interface {
	Get(ctx context.Context, id int64) ([]byte, error)
	Set(ctx context.Context, id int64, payload []byte) error
}

type KeyCounter interface {
	CountAvailable(ctx context.Context, productIDs []int64) (map[int64]int, error)
}
