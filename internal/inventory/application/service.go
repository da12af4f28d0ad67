package application

import "context"

// Service exposes pool-level inventory reads. Claim, release and finalize are
// transactional and live on the postgres repository, invoked from inside the
// order transactions.
type Service struct {
	counter KeyCounter
}

func NewService(counter KeyCounter) *Service {
	return &Service{counter: counter}
}

func (s *Service) CountAvailable(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	if len(productIDs) == 0 {
		return map[int64]int{}, nil
	}
	return s.counter.CountAvailable(ctx, productIDs)
}
