package application

import "context"

type KeyCounter interface {
	CountAvailable(ctx context.Context, productIDs []int64) (map[int64]int, error)
}
