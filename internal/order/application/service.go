package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kselivanov/keymarket/internal/auth"
	"github.com/kselivanov/keymarket/internal/order/domain"
	"github.com/kselivanov/keymarket/pkg/tracing"
)

type Service struct {
	log     *slog.Logger
	repo    OrderRepository
	catalog CatalogStore
	now     func() time.Time
}

func NewService(log *slog.Logger, repo OrderRepository, catalog CatalogStore) *Service {
	return &Service{log: log, repo: repo, catalog: catalog, now: time.Now}
}

// CreateOrder validates the cart, merges duplicate lines, prices every
// distinct product at its current discount and hands the assembled pending
// order to the repository for the atomic claim.
func (s *Service) CreateOrder(ctx context.Context, userID int64, items []domain.ItemRequest, payment domain.PaymentDetails) (domain.Order, error) {
	if err := validateRequest(items, payment, s.now()); err != nil {
		return domain.Order{}, err
	}

	merged := domain.MergeItems(items)
	ids := make([]int64, 0, len(merged))
	for _, item := range merged {
		ids = append(ids, item.ProductID)
	}

	products, err := s.catalog.EnabledByIDs(ctx, ids)
	if err != nil {
		return domain.Order{}, err
	}

	total := decimal.Zero
	orderItems := make([]domain.OrderItem, 0, len(merged))
	for _, item := range merged {
		product, ok := products[item.ProductID]
		if !ok {
			return domain.Order{}, domain.ErrProductNotFound
		}
		unitPrice := domain.DiscountedUnitPrice(product.Price, product.DiscountPercentage)
		line := domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
		}
		total = total.Add(line.LineTotal())
		orderItems = append(orderItems, line)
	}

	order := domain.Order{
		UserID:      userID,
		TotalAmount: total,
		Status:      domain.StatusPending,
		Items:       orderItems,
	}

	created, err := s.repo.Create(ctx, order, tracing.Traceparent(ctx))
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order created", "order_id", created.ID, "user_id", userID, "total", created.TotalAmount.String())
	return created, nil
}

// Get enforces ownership: customers see their own orders, admins see any.
func (s *Service) Get(ctx context.Context, p auth.Principal, id int64) (domain.Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !p.IsAdmin() && order.UserID != p.UserID {
		return domain.Order{}, auth.ErrForbidden
	}
	return order, nil
}

func (s *Service) ListMine(ctx context.Context, p auth.Principal) ([]domain.Order, error) {
	return s.repo.ListByUser(ctx, p.UserID)
}

func (s *Service) ListAll(ctx context.Context) ([]domain.Order, error) {
	return s.repo.ListAll(ctx)
}

// UpdateStatus drives the state machine. Transition legality is checked
// inside the repository transaction against the locked row; this pre-check
// only rejects targets that can never be valid.
func (s *Service) UpdateStatus(ctx context.Context, id int64, target domain.OrderStatus) (domain.Order, error) {
	if target != domain.StatusCompleted && target != domain.StatusCancelled {
		return domain.Order{}, &domain.ValidationError{Fields: map[string][]string{
			"status": {"Status must be one of: completed, cancelled."},
		}}
	}

	updated, err := s.repo.UpdateStatus(ctx, id, target, tracing.Traceparent(ctx))
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order status updated", "order_id", id, "status", target)
	return updated, nil
}

func validateRequest(items []domain.ItemRequest, payment domain.PaymentDetails, now time.Time) error {
	v := &domain.ValidationError{}
	if len(items) == 0 {
		v.Add("items", "At least one item is required.")
	}
	for i, item := range items {
		if item.ProductID <= 0 {
			v.Add(fmt.Sprintf("items.%d.product_id", i), "Product id must be a positive integer.")
		}
		if item.Quantity < domain.MinQuantity || item.Quantity > domain.MaxQuantity {
			v.Add(fmt.Sprintf("items.%d.quantity", i), "Quantity must be between 1 and 99.")
		}
	}
	payment.Validate(v, now)
	if len(v.Fields) == 0 {
		return nil
	}
	return v
}
