package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
)

type cachedAllocation struct {
	alloc     domain.TargetAllocation
	fetchedAt time.Time
}

// CachedSource remembers the last good allocation per user and serves it while the
// upstream source is failing, as long as it is no older than maxAge.
type CachedSource struct {
	source domain.AllocationSource
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedAllocation
}

func NewCachedSource(source domain.AllocationSource, maxAge time.Duration) *CachedSource {
	return &CachedSource{
		source:  source,
		maxAge:  maxAge,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]cachedAllocation),
	}
}

func (c *CachedSource) SetClock(now func() time.Time) { c.now = now }

func (c *CachedSource) GetTargetAllocation(ctx context.Context, userID string) (domain.TargetAllocation, error) {
	alloc, err := c.source.GetTargetAllocation(ctx, userID)
	if err == nil {
		c.mu.Lock()
		c.entries[userID] = cachedAllocation{alloc: alloc, fetchedAt: c.now()}
		c.mu.Unlock()
		return alloc, nil
	}

	c.mu.Lock()
	entry, ok := c.entries[userID]
	c.mu.Unlock()

	if ok {
		age := c.now().Sub(entry.fetchedAt)
		if age <= c.maxAge {
			log.WithFields(log.Fields{
				"user_id": userID,
				"age":     age.String(),
				"error":   err,
			}).Warn("allocation source failed, using cached allocation")
			return entry.alloc, nil
		}
	}
	return domain.TargetAllocation{}, fmt.Errorf("%w: %v", domain.ErrAllocationUnavailable, err)
}
