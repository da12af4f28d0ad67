package application

import (
	"context"

	catalogdomain "github.com/kselivanov/keymarket/internal/catalog/domain"
	"github.com/kselivanov/keymarket/internal/order/domain"
)

type OrderRepository interface {
	// Create persists the order header, its items, the claimed keys and the
	// OrderCreated outbox event in one transaction, or nothing at all.
	Create(ctx context.Context, o domain.Order, traceparent string) (domain.Order, error)
	Get(ctx context.Context, id int64) (domain.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Order, error)
	ListAll(ctx context.Context) ([]domain.Order, error)
	// UpdateStatus runs the status transition, the key fan-out and the
	// status-change outbox event in one transaction and returns the
	// reloaded order.
	UpdateStatus(ctx context.Context, id int64, target domain.OrderStatus, traceparent string) (domain.Order, error)
}

type CatalogStore interface {
	EnabledByIDs(ctx context.Context, ids []int64) (map[int64]catalogdomain.Product, error)
}
