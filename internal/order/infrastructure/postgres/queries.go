package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	invdomain "github.com/kselivanov/keymarket/internal/inventory/domain"
	"github.com/kselivanov/keymarket/internal/order/domain"
)

func (r *Repository) Get(ctx context.Context, id int64) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, total_amount, status, created_at, updated_at
		FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	orders := []domain.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT id, user_id, total_amount, status, created_at, updated_at
		FROM orders WHERE user_id = $1 ORDER BY id DESC`, userID)
}

func (r *Repository) ListAll(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT id, user_id, total_amount, status, created_at, updated_at
		FROM orders ORDER BY id DESC`)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems eager-loads items and their bound keys for the given orders.
func (r *Repository) attachItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	orderIDs := make([]int64, 0, len(orders))
	at := make(map[int64]int, len(orders))
	for i := range orders {
		orders[i].Items = []domain.OrderItem{}
		orderIDs = append(orderIDs, orders[i].ID)
		at[orders[i].ID] = i
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`, orderIDs)
	if err != nil {
		return err
	}
	defer rows.Close()

	var itemIDs []int64
	itemAt := make(map[int64][2]int)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return err
		}
		item.Keys = []invdomain.GameKey{}
		i := at[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
		itemAt[item.ID] = [2]int{i, len(orders[i].Items) - 1}
		itemIDs = append(itemIDs, item.ID)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(itemIDs) == 0 {
		return nil
	}

	keys, err := r.keys.ByOrderItems(ctx, itemIDs)
	if err != nil {
		return err
	}
	for itemID, bound := range keys {
		pos, ok := itemAt[itemID]
		if !ok {
			continue
		}
		orders[pos[0]].Items[pos[1]].Keys = bound
	}
	return nil
}
