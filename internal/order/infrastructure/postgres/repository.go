package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	invdomain "github.com/kselivanov/keymarket/internal/inventory/domain"
	"github.com/kselivanov/keymarket/internal/order/domain"
)

// KeyStore is the slice of the inventory repository the order transactions
// drive. The tx-scoped methods mutate key state only inside the caller's
// transaction.
type KeyStore interface {
	Claim(ctx context.Context, tx pgx.Tx, productID, orderItemID int64, count int) ([]invdomain.GameKey, error)
	Release(ctx context.Context, tx pgx.Tx, orderItemIDs []int64) (int64, error)
	Finalize(ctx context.Context, tx pgx.Tx, orderItemIDs []int64) (int64, error)
	CountAssigned(ctx context.Context, tx pgx.Tx, orderItemID int64) (int, error)
	ByOrderItems(ctx context.Context, orderItemIDs []int64) (map[int64][]invdomain.GameKey, error)
}

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
	keys KeyStore
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool, keys KeyStore) *Repository {
	return &Repository{log: log, pool: pool, keys: keys}
}

// Create inserts the order header and items, then claims keys for every item.
// Any failure, including ErrInsufficientInventory on a later item after
// earlier items already claimed, rolls the whole transaction back: no header,
// no items, no key state change survive.
func (r *Repository) Create(ctx context.Context, o domain.Order, traceparent string) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, total_amount, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		o.UserID, o.TotalAmount, o.Status).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}

	for i := range o.Items {
		item := &o.Items[i]
		item.OrderID = o.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			o.ID, item.ProductID, item.Quantity, item.UnitPrice).Scan(&item.ID)
		if err != nil {
			return domain.Order{}, err
		}

		keys, err := r.keys.Claim(ctx, tx, item.ProductID, item.ID, item.Quantity)
		if err != nil {
			return domain.Order{}, err
		}
		item.Keys = keys
	}

	if err := r.insertOutbox(ctx, tx, o.ID, domain.EventOrderCreated, createdEvent(o), traceparent); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, o.ID)
}

// UpdateStatus locks the order row, validates the transition, writes the new
// status and fans out to the key pool: completed finalizes, cancelled
// releases. Completion additionally re-checks that every item holds exactly
// its quantity in bound keys before being allowed through.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, target domain.OrderStatus, traceparent string) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var current domain.OrderStatus
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	if !domain.CanTransition(current, target) {
		return domain.Order{}, domain.ErrInvalidTransition
	}
	if current == target {
		// Terminal status re-requested: nothing left to do.
		if err := tx.Commit(ctx); err != nil {
			return domain.Order{}, err
		}
		return r.Get(ctx, id)
	}

	_, err = tx.Exec(ctx, `UPDATE orders SET status = $1, updated_at = now() WHERE id = $2`, target, id)
	if err != nil {
		return domain.Order{}, err
	}

	itemIDs, quantities, err := itemSummaries(ctx, tx, id)
	if err != nil {
		return domain.Order{}, err
	}

	if len(itemIDs) > 0 {
		switch target {
		case domain.StatusCompleted:
			for i, itemID := range itemIDs {
				bound, err := r.keys.CountAssigned(ctx, tx, itemID)
				if err != nil {
					return domain.Order{}, err
				}
				if bound != quantities[i] {
					r.log.Error("allocation mismatch on completion",
						"order_id", id, "order_item_id", itemID,
						"bound", bound, "quantity", quantities[i])
					return domain.Order{}, domain.ErrAllocationMismatch
				}
			}
			if _, err := r.keys.Finalize(ctx, tx, itemIDs); err != nil {
				return domain.Order{}, err
			}
		case domain.StatusCancelled:
			if _, err := r.keys.Release(ctx, tx, itemIDs); err != nil {
				return domain.Order{}, err
			}
		}
	}

	eventType := domain.EventOrderCompleted
	if target == domain.StatusCancelled {
		eventType = domain.EventOrderCancelled
	}
	event := domain.OrderStatusChanged{OrderID: id, Status: string(target)}
	if err := r.insertOutbox(ctx, tx, id, eventType, event, traceparent); err != nil {
		return domain.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, id)
}

func itemSummaries(ctx context.Context, tx pgx.Tx, orderID int64) ([]int64, []int, error) {
	rows, err := tx.Query(ctx, `SELECT id, quantity FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ids []int64
	var quantities []int
	for rows.Next() {
		var id int64
		var quantity int
		if err := rows.Scan(&id, &quantity); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		quantities = append(quantities, quantity)
	}
	return ids, quantities, rows.Err()
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, orderID int64, eventType string, event any, traceparent string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	headers := map[string]string{"source": "keymarket-api"}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ('order', $1, $2, $3, $4, $5, 'pending')`,
		strconv.FormatInt(orderID, 10), eventType, payload, headers, traceparent)
	return err
}

func createdEvent(o domain.Order) domain.OrderCreated {
	items := make([]domain.OrderCreatedItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, domain.OrderCreatedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
		})
	}
	return domain.OrderCreated{
		OrderID:     o.ID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Items:       items,
	}
}
