package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrProductNotFound = errors.New("product not found")

// Product is read-mostly from the core's point of view: price, discount and
// the enabled flag feed checkout; writes happen through seeding/back-office
// paths outside this API.
type Product struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	Price              decimal.Decimal `json:"price"`
	DiscountPercentage int             `json:"discount_percentage"`
	IsEnabled          bool            `json:"is_enabled"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
