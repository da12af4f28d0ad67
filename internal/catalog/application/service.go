package application

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/kselivanov/keymarket/internal/catalog/domain"
	orderdomain "github.com/kselivanov/keymarket/internal/order/domain"
)

// ProductView is a catalog product enriched with the price the customer will
// actually pay and how many keys are left to sell.
type ProductView struct {
	domain.Product
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	AvailableKeys   int             `json:"available_keys"`
}

type Service struct {
	log      *slog.Logger
	products ProductRepository
	cache    ProductCache
	keys     KeyCounter
}

func NewService(log *slog.Logger, products ProductRepository, cache ProductCache, keys KeyCounter) *Service {
	return &Service{log: log, products: products, cache: cache, keys: keys}
}

func (s *Service) List(ctx context.Context) ([]ProductView, error) {
	products, err := s.products.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	counts, err := s.keys.CountAvailable(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, view(p, counts[p.ID]))
	}
	return views, nil
}

// Get serves single-product reads through the cache. Availability counts are
// always read live: a stale count here would show sold keys as purchasable.
func (s *Service) Get(ctx context.Context, id int64) (ProductView, error) {
	p, ok := s.cachedProduct(ctx, id)
	if !ok {
		var err error
		p, err = s.products.GetEnabled(ctx, id)
		if err != nil {
			return ProductView{}, err
		}
		s.cacheProduct(ctx, p)
	}

	counts, err := s.keys.CountAvailable(ctx, []int64{id})
	if err != nil {
		return ProductView{}, err
	}
	return view(p, counts[id]), nil
}

func (s *Service) cachedProduct(ctx context.Context, id int64) (domain.Product, bool) {
	if s.cache == nil {
		return domain.Product{}, false
	}
	payload, err := s.cache.Get(ctx, id)
	if err != nil || len(payload) == 0 {
		return domain.Product{}, false
	}
	var p domain.Product
	if err := json.Unmarshal(payload, &p); err != nil {
		s.log.Warn("product cache decode failed", "product_id", id, "err", err)
		return domain.Product{}, false
	}
	return p, true
}

func (s *Service) cacheProduct(ctx context.Context, p domain.Product) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, p.ID, payload); err != nil {
		s.log.Warn("product cache write failed", "product_id", p.ID, "err", err)
	}
}

func view(p domain.Product, available int) ProductView {
	return ProductView{
		Product:         p,
		DiscountedPrice: orderdomain.DiscountedUnitPrice(p.Price, p.DiscountPercentage),
		AvailableKeys:   available,
	}
}
