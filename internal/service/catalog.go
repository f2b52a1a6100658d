package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/svirmi/coursepay/internal/model"
)

// CachedCatalog keeps recently read course prices for a short TTL.
// Enrollment calls always go to the underlying store.
type CachedCatalog struct {
	next    CourseCatalog
	pricing *expirable.LRU[string, model.CoursePricing]
}

func NewCachedCatalog(next CourseCatalog, size int, ttl time.Duration) *CachedCatalog {
	if size <= 0 {
		size = 1024
	}
	return &CachedCatalog{
		next:    next,
		pricing: expirable.NewLRU[string, model.CoursePricing](size, nil, ttl),
	}
}

func (c *CachedCatalog) GetCoursePricing(ctx context.Context, courseID string) (*model.CoursePricing, error) {
	if p, ok := c.pricing.Get(courseID); ok {
		return &p, nil
	}
	p, err := c.next.GetCoursePricing(ctx, courseID)
	if err != nil {
		return nil, err
	}
	c.pricing.Add(courseID, *p)
	return p, nil
}

func (c *CachedCatalog) IsEnrolled(ctx context.Context, buyerID, courseID string) (bool, error) {
	return c.next.IsEnrolled(ctx, buyerID, courseID)
}

func (c *CachedCatalog) Enroll(ctx context.Context, buyerID, courseID string) error {
	return c.next.Enroll(ctx, buyerID, courseID)
}
