package domain

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderCompleted = "OrderCompleted"
	EventOrderCancelled = "OrderCancelled"
)

type OrderCreated struct {
	OrderID     int64              `json:"order_id"`
	UserID      int64              `json:"user_id"`
	TotalAmount string             `json:"total_amount"`
	Items       []OrderCreatedItem `json:"items"`
}

type OrderCreatedItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type OrderStatusChanged struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}
