package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"poliux/internal/domain"
)

// DefaultTTL: срок жизни карточки в кэше.
const DefaultTTL = 15 * time.Minute

// Cached кэширует карточки законопроектов и законодателей поверх каталога.
// Поиск всегда идёт в исходный каталог. Ошибки кэша не мешают чтению.
type Cached struct {
	next  domain.CatalogRepo
	cache domain.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

var _ domain.CatalogRepo = (*Cached)(nil)

// NewCached оборачивает каталог кэшем.
func NewCached(next domain.CatalogRepo, cache domain.Cache, ttl time.Duration, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cached{
		next:  next,
		cache: cache,
		ttl:   ttl,
		log:   logger.With().Str("component", "catalog_cache").Logger(),
	}
}

// GetBill реализует domain.CatalogRepo.
func (c *Cached) GetBill(ctx context.Context, id string) (domain.Bill, error) {
	return readThrough(ctx, c, "catalog:bill:"+id, func() (domain.Bill, error) {
		return c.next.GetBill(ctx, id)
	})
}

// GetLegislator реализует domain.CatalogRepo.
func (c *Cached) GetLegislator(ctx context.Context, id string) (domain.Legislator, error) {
	return readThrough(ctx, c, "catalog:people:"+id, func() (domain.Legislator, error) {
		return c.next.GetLegislator(ctx, id)
	})
}

// SearchBills реализует domain.CatalogRepo.
func (c *Cached) SearchBills(ctx context.Context, query string, limit int) ([]domain.Bill, error) {
	return c.next.SearchBills(ctx, query, limit)
}

// SearchLegislators реализует domain.CatalogRepo.
func (c *Cached) SearchLegislators(ctx context.Context, query string, limit int) ([]domain.Legislator, error) {
	return c.next.SearchLegislators(ctx, query, limit)
}

func readThrough[T any](ctx context.Context, c *Cached, key string, load func() (T, error)) (T, error) {
	raw, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.log.Warn().Str("key", key).Msg("повреждённая запись кэша, читаем каталог")
	case !errors.Is(err, domain.ErrCacheMiss):
		c.log.Warn().Err(err).Str("key", key).Msg("кэш каталога недоступен")
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("не удалось сериализовать запись каталога")
		return v, nil
	}
	if err := c.cache.Set(ctx, key, payload, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("не удалось сохранить запись каталога в кэш")
	}
	return v, nil
}
