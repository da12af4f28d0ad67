package domain

import (
	"time"

	"github.com/shopspring/decimal"

	invdomain "github.com/kselivanov/keymarket/internal/inventory/domain"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusCancelled
}

// Terminal reports whether no further transition leaves s.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition validates the state machine: only a pending order moves, and
// only to completed or cancelled. Re-requesting the current terminal status is
// allowed as a no-op so admin retries stay idempotent.
func CanTransition(current, target OrderStatus) bool {
	if target != StatusCompleted && target != StatusCancelled {
		return false
	}
	return current == StatusPending || current == target
}

type Order struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	Items       []OrderItem     `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderItem is one line of an order. UnitPrice is the discounted price locked
// in at purchase time, decoupled from later catalog changes.
type OrderItem struct {
	ID        int64               `json:"id"`
	OrderID   int64               `json:"order_id"`
	ProductID int64               `json:"product_id"`
	Quantity  int                 `json:"quantity"`
	UnitPrice decimal.Decimal     `json:"unit_price"`
	Keys      []invdomain.GameKey `json:"game_keys"`
}

// LineTotal rounds at the line level before summing, per the pricing contract.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(2)
}

// MinQuantity and MaxQuantity bound each submitted cart line. Merged
// quantities are not capped: two lines of 99 for one product store as 198.
const (
	MinQuantity = 1
	MaxQuantity = 99
)

// ItemRequest is one requested cart line; duplicates by product are merged
// before pricing.
type ItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// MergeItems sums quantities per product, preserving first-seen order. Unit
// price is computed once per distinct product and applied to the merged
// quantity.
func MergeItems(items []ItemRequest) []ItemRequest {
	merged := make([]ItemRequest, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, item := range items {
		if at, ok := index[item.ProductID]; ok {
			merged[at].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}
