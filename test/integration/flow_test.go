package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kselivanov/keymarket/internal/auth"
	catalogpg "github.com/kselivanov/keymarket/internal/catalog/infrastructure/postgres"
	invdomain "github.com/kselivanov/keymarket/internal/inventory/domain"
	invpg "github.com/kselivanov/keymarket/internal/inventory/infrastructure/postgres"
	"github.com/kselivanov/keymarket/internal/order/application"
	"github.com/kselivanov/keymarket/internal/order/domain"
	orderpg "github.com/kselivanov/keymarket/internal/order/infrastructure/postgres"
	platformpg "github.com/kselivanov/keymarket/internal/platform/postgres"
	"github.com/kselivanov/keymarket/migrations"
	"github.com/kselivanov/keymarket/pkg/logging"
)

type fixture struct {
	pool    *pgxpool.Pool
	service *application.Service
	keys    *invpg.Repository
}

func setup(t *testing.T) *fixture {
	t.Helper()
	if os.Getenv("KEYMARKET_INTEGRATION") == "" {
		t.Skip("set KEYMARKET_INTEGRATION to run container tests")
	}

	ctx := context.Background()
	env, err := Setup(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { env.Teardown(context.Background()) })

	pool, err := platformpg.Connect(ctx, env.PGURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, platformpg.Migrate(ctx, pool, migrations.FS))

	log := logging.New()
	keyRepo := invpg.NewRepository(log, pool)
	orderRepo := orderpg.NewRepository(log, pool, keyRepo)
	productRepo := catalogpg.NewRepository(log, pool)
	return &fixture{
		pool:    pool,
		service: application.NewService(log, orderRepo, productRepo),
		keys:    keyRepo,
	}
}

func (f *fixture) addProduct(t *testing.T, name, price string, discount int, keyCount int) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := f.pool.QueryRow(ctx, `
		INSERT INTO products (name, price, discount_percentage, is_enabled)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id`, name, price, discount).Scan(&id)
	require.NoError(t, err)
	for i := 0; i < keyCount; i++ {
		_, err := f.pool.Exec(ctx, `
			INSERT INTO game_keys (product_id, key_value)
			VALUES ($1, $2)`, id, fmt.Sprintf("%s-KEY-%d", name, i))
		require.NoError(t, err)
	}
	return id
}

func (f *fixture) keyStates(t *testing.T, productID int64) map[string]int {
	t.Helper()
	rows, err := f.pool.Query(context.Background(),
		`SELECT status, count(*) FROM game_keys WHERE product_id = $1 GROUP BY status`, productID)
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		require.NoError(t, rows.Scan(&status, &n))
		out[status] = n
	}
	require.NoError(t, rows.Err())
	return out
}

func payment() domain.PaymentDetails {
	return domain.PaymentDetails{
		FullName:   "Ada Lovelace",
		CardNumber: "4242424242424242",
		Expiration: "12/99",
		CVC:        "123",
	}
}

func TestCheckoutAssignsKeysAndPrices(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.addProduct(t, "NEON", "19.99", 25, 3)

	order, err := f.service.CreateOrder(ctx, 7,
		[]domain.ItemRequest{{ProductID: productID, Quantity: 2}}, payment())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, order.Status)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("29.98")),
		"total %s", order.TotalAmount)
	require.Len(t, order.Items, 1)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.RequireFromString("14.99")))
	require.Len(t, order.Items[0].Keys, 2)
	for _, k := range order.Items[0].Keys {
		assert.Equal(t, invdomain.StatusAssigned, k.Status)
		require.NotNil(t, k.OrderItemID)
		assert.Equal(t, order.Items[0].ID, *k.OrderItemID)
		assert.NotNil(t, k.AssignedAt)
	}

	states := f.keyStates(t, productID)
	assert.Equal(t, 1, states["available"])
	assert.Equal(t, 2, states["assigned"])
}

func TestCheckoutMergesDuplicateLines(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.addProduct(t, "MERGE", "10.00", 0, 5)

	order, err := f.service.CreateOrder(ctx, 7, []domain.ItemRequest{
		{ProductID: productID, Quantity: 1},
		{ProductID: productID, Quantity: 2},
	}, payment())
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Len(t, order.Items[0].Keys, 3)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("30.00")))
}

func TestCheckoutRollsBackOnPartialShortage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	plenty := f.addProduct(t, "PLENTY", "5.00", 0, 5)
	scarce := f.addProduct(t, "SCARCE", "5.00", 0, 1)

	_, err := f.service.CreateOrder(ctx, 7, []domain.ItemRequest{
		{ProductID: plenty, Quantity: 2},
		{ProductID: scarce, Quantity: 2},
	}, payment())
	require.ErrorIs(t, err, invdomain.ErrInsufficientInventory)

	// Nothing persisted: no order rows and no keys left assigned.
	var orders int
	require.NoError(t, f.pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&orders))
	assert.Zero(t, orders)
	assert.Equal(t, map[string]int{"available": 5}, f.keyStates(t, plenty))
	assert.Equal(t, map[string]int{"available": 1}, f.keyStates(t, scarce))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.addProduct(t, "RACE", "9.99", 0, 1)

	const attempts = 2
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.CreateOrder(ctx, int64(100+i),
				[]domain.ItemRequest{{ProductID: productID, Quantity: 1}}, payment())
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, invdomain.ErrInsufficientInventory):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, map[string]int{"assigned": 1}, f.keyStates(t, productID))
}

func TestConcurrentCheckoutsConserveKeys(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	const keyCount, workers = 10, 6
	productID := f.addProduct(t, "POOL", "1.00", 0, keyCount)

	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.CreateOrder(ctx, int64(200+i),
				[]domain.ItemRequest{{ProductID: productID, Quantity: 3}}, payment())
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, invdomain.ErrInsufficientInventory)
		}
	}
	assert.Equal(t, 3, won, "10 keys serve exactly three orders of quantity 3")

	states := f.keyStates(t, productID)
	assert.Equal(t, 9, states["assigned"])
	assert.Equal(t, 1, states["available"])
}

func TestCancelReleasesKeys(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.addProduct(t, "CANCEL", "9.99", 0, 2)

	order, err := f.service.CreateOrder(ctx, 7,
		[]domain.ItemRequest{{ProductID: productID, Quantity: 2}}, payment())
	require.NoError(t, err)

	cancelled, err := f.service.UpdateStatus(ctx, order.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	rows, err := f.pool.Query(ctx,
		`SELECT status, order_item_id, assigned_at, used_at FROM game_keys WHERE product_id = $1`, productID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var status string
		var itemID *int64
		var assignedAt, usedAt *string
		require.NoError(t, rows.Scan(&status, &itemID, &assignedAt, &usedAt))
		assert.Equal(t, "available", status)
		assert.Nil(t, itemID)
		assert.Nil(t, assignedAt)
		assert.Nil(t, usedAt)
	}
	require.NoError(t, rows.Err())

	// Released keys are claimable again.
	again, err := f.service.CreateOrder(ctx, 8,
		[]domain.ItemRequest{{ProductID: productID, Quantity: 2}}, payment())
	require.NoError(t, err)
	assert.Len(t, again.Items[0].Keys, 2)
}

func TestCompleteFinalizesKeys(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.addProduct(t, "DONE", "9.99", 0, 2)

	order, err := f.service.CreateOrder(ctx, 7,
		[]domain.ItemRequest{{ProductID: productID, Quantity: 2}}, payment())
	require.NoError(t, err)

	completed, err := f.service.UpdateStatus(ctx, order.ID, domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	require.Len(t, completed.Items, 1)
	for _, k := range completed.Items[0].Keys {
		assert.Equal(t, invdomain.StatusUsed, k.Status)
		assert.NotNil(t, k.UsedAt)
	}

	// A completed order rejects a different target but tolerates a repeat.
	_, err = f.service.UpdateStatus(ctx, order.ID, domain.StatusCancelled)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	repeat, err := f.service.UpdateStatus(ctx, order.ID, domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, repeat.Status)
	assert.Equal(t, map[string]int{"used": 2}, f.keyStates(t, productID))
}

func TestOutboxRowsWrittenWithOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.addProduct(t, "EVENTS", "9.99", 0, 1)

	order, err := f.service.CreateOrder(ctx, 7,
		[]domain.ItemRequest{{ProductID: productID, Quantity: 1}}, payment())
	require.NoError(t, err)
	_, err = f.service.UpdateStatus(ctx, order.ID, domain.StatusCompleted)
	require.NoError(t, err)

	rows, err := f.pool.Query(ctx,
		`SELECT type FROM outbox WHERE aggregate_id = $1 ORDER BY id`, fmt.Sprint(order.ID))
	require.NoError(t, err)
	defer rows.Close()
	var types []string
	for rows.Next() {
		var typ string
		require.NoError(t, rows.Scan(&typ))
		types = append(types, typ)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{domain.EventOrderCreated, domain.EventOrderCompleted}, types)
}

func TestCheckoutStoresMergedQuantityAboveLineCap(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.addProduct(t, "STACK", "1.00", 0, 0)
	_, err := f.pool.Exec(ctx, `
		INSERT INTO game_keys (product_id, key_value)
		SELECT $1, 'STACK-BULK-' || g FROM generate_series(1, $2) g`,
		productID, 2*domain.MaxQuantity)
	require.NoError(t, err)

	// Two lines at the per-line cap merge past it; the stored row must
	// accept the merged quantity.
	order, err := f.service.CreateOrder(ctx, 7, []domain.ItemRequest{
		{ProductID: productID, Quantity: domain.MaxQuantity},
		{ProductID: productID, Quantity: domain.MaxQuantity},
	}, payment())
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	assert.Equal(t, 2*domain.MaxQuantity, order.Items[0].Quantity)
	assert.Len(t, order.Items[0].Keys, 2*domain.MaxQuantity)
	assert.Equal(t, map[string]int{"assigned": 2 * domain.MaxQuantity}, f.keyStates(t, productID))
}

func TestCompleteRejectsAllocationMismatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.addProduct(t, "DRIFT", "9.99", 0, 2)

	order, err := f.service.CreateOrder(ctx, 7,
		[]domain.ItemRequest{{ProductID: productID, Quantity: 2}}, payment())
	require.NoError(t, err)

	// Unbind one key behind the pending order to simulate state drift.
	ct, err := f.pool.Exec(ctx, `
		UPDATE game_keys SET status = 'available', order_item_id = NULL, assigned_at = NULL
		WHERE id = (SELECT id FROM game_keys WHERE product_id = $1 AND status = 'assigned' LIMIT 1)`,
		productID)
	require.NoError(t, err)
	require.EqualValues(t, 1, ct.RowsAffected())

	_, err = f.service.UpdateStatus(ctx, order.ID, domain.StatusCompleted)
	require.ErrorIs(t, err, domain.ErrAllocationMismatch)

	// The rollback leaves the order pending and the surviving key assigned.
	reloaded, err := f.service.Get(ctx, auth.Principal{UserID: 7, Role: auth.RoleCustomer}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, reloaded.Status)
	assert.Equal(t, map[string]int{"available": 1, "assigned": 1}, f.keyStates(t, productID))
}

func TestLockBatchReclaimsExpiredLeases(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.addProduct(t, "LEASE", "9.99", 0, 1)

	_, err := f.service.CreateOrder(ctx, 7,
		[]domain.ItemRequest{{ProductID: productID, Quantity: 1}}, payment())
	require.NoError(t, err)

	// A relay that died mid-batch leaves its rows in_progress with a lease
	// in the past. A later pass must pick them up again.
	ct, err := f.pool.Exec(ctx, `
		UPDATE outbox SET status = 'in_progress', relay_id = 'dead-relay',
		lease_until = now() - interval '1 minute'`)
	require.NoError(t, err)
	require.EqualValues(t, 1, ct.RowsAffected())

	store := orderpg.NewOutboxStore(logging.New(), f.pool)
	events, err := store.LockBatch(ctx, "live-relay", 10, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderCreated, events[0].Type)

	// An unexpired foreign lease stays locked out.
	events, err = store.LockBatch(ctx, "another-relay", 10, 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, events)
}
