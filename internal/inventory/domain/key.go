package domain

import (
	"errors"
	"time"
)

type KeyStatus string

const (
	StatusAvailable KeyStatus = "available"
	StatusAssigned  KeyStatus = "assigned"
	StatusUsed      KeyStatus = "used"
)

// ErrInsufficientInventory is the only expected claim failure. It must abort
// the whole enclosing checkout transaction; partial allocation is forbidden.
var ErrInsufficientInventory = errors.New("not enough keys available")

// GameKey is one unique redemption code. key_value never changes and is never
// reissued; the status lifecycle is available -> assigned -> used, with
// assigned -> available on order cancellation.
type GameKey struct {
	ID          int64      `json:"id"`
	ProductID   int64      `json:"product_id"`
	OrderItemID *int64     `json:"order_item_id"`
	KeyValue    string     `json:"key_value"`
	Status      KeyStatus  `json:"status"`
	AssignedAt  *time.Time `json:"assigned_at"`
	UsedAt      *time.Time `json:"used_at"`
}
