package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kselivanov/keymarket/internal/inventory/domain"
)

// Repository owns the game_keys pool. Claim, Release and Finalize take the
// caller's transaction: key state only ever changes together with the order
// state that justifies it.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// Claim locks the count lowest-id available keys for the product and assigns
// them to the order item. The FOR UPDATE lock is taken before the count check,
// so two concurrent checkouts can never select overlapping rows. If fewer than
// count rows exist behind the lock, nothing is mutated and
// domain.ErrInsufficientInventory is returned to abort the enclosing tx.
func (r *Repository) Claim(ctx context.Context, tx pgx.Tx, productID, orderItemID int64, count int) ([]domain.GameKey, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, product_id, key_value
		FROM game_keys
		WHERE product_id = $1 AND status = 'available'
		ORDER BY id
		LIMIT $2
		FOR UPDATE`, productID, count)
	if err != nil {
		return nil, err
	}

	var keys []domain.GameKey
	for rows.Next() {
		var k domain.GameKey
		if err := rows.Scan(&k.ID, &k.ProductID, &k.KeyValue); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(keys) < count {
		return nil, domain.ErrInsufficientInventory
	}

	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.ID)
	}
	_, err = tx.Exec(ctx, `
		UPDATE game_keys
		SET status = 'assigned', order_item_id = $1, assigned_at = now(), updated_at = now()
		WHERE id = ANY($2)`, orderItemID, ids)
	if err != nil {
		return nil, err
	}

	for i := range keys {
		keys[i].Status = domain.StatusAssigned
		itemID := orderItemID
		keys[i].OrderItemID = &itemID
	}
	return keys, nil
}

// Release returns every still-assigned key of the given order items to the
// available pool. No-op for keys in any other status.
func (r *Repository) Release(ctx context.Context, tx pgx.Tx, orderItemIDs []int64) (int64, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE game_keys
		SET status = 'available', order_item_id = NULL, assigned_at = NULL, used_at = NULL, updated_at = now()
		WHERE order_item_id = ANY($1) AND status = 'assigned'`, orderItemIDs)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// Finalize marks every still-assigned key of the given order items as used.
func (r *Repository) Finalize(ctx context.Context, tx pgx.Tx, orderItemIDs []int64) (int64, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE game_keys
		SET status = 'used', used_at = now(), updated_at = now()
		WHERE order_item_id = ANY($1) AND status = 'assigned'`, orderItemIDs)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// CountAssigned reports how many keys are currently bound to the order item in
// a non-available state. Used by the completion check.
func (r *Repository) CountAssigned(ctx context.Context, tx pgx.Tx, orderItemID int64) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM game_keys
		WHERE order_item_id = $1 AND status IN ('assigned', 'used')`, orderItemID).Scan(&n)
	return n, err
}

// CountAvailable returns available-key counts per product for catalog views.
func (r *Repository) CountAvailable(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, count(*)
		FROM game_keys
		WHERE product_id = ANY($1) AND status = 'available'
		GROUP BY product_id`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int, len(productIDs))
	for rows.Next() {
		var productID int64
		var n int
		if err := rows.Scan(&productID, &n); err != nil {
			return nil, err
		}
		counts[productID] = n
	}
	return counts, rows.Err()
}

// ByOrderItems loads all keys bound to the given order items, oldest first.
func (r *Repository) ByOrderItems(ctx context.Context, orderItemIDs []int64) (map[int64][]domain.GameKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, order_item_id, key_value, status, assigned_at, used_at
		FROM game_keys
		WHERE order_item_id = ANY($1)
		ORDER BY id`, orderItemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[int64][]domain.GameKey)
	for rows.Next() {
		var k domain.GameKey
		if err := rows.Scan(&k.ID, &k.ProductID, &k.OrderItemID, &k.KeyValue, &k.Status, &k.AssignedAt, &k.UsedAt); err != nil {
			return nil, err
		}
		if k.OrderItemID != nil {
			keys[*k.OrderItemID] = append(keys[*k.OrderItemID], k)
		}
	}
	return keys, rows.Err()
}
