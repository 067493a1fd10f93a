// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"strings"
	"sync"
	"time"

	"sentryvolt/sidecar/shared/logger"
)

// pricingTTL is how long a loaded rate card stays fresh before the next
// lookup reloads it from the store.
const pricingTTL = 5 * time.Minute

// PricingCache serves rate lookups from an in-memory copy of the
// pricing table, reloaded at most once per TTL. Rate-card edits call
// Invalidate so the next lookup sees them immediately.
type PricingCache struct {
	repo *Repository
	log  *logger.Logger

	mu        sync.RWMutex
	entries   map[string]Pricing // "{provider}/{model}"
	fetchedAt time.Time
}

// NewPricingCache creates a cache over the repository's pricing table.
func NewPricingCache(repo *Repository) *PricingCache {
	return &PricingCache{
		repo: repo,
		log:  logger.New("pricing-cache"),
	}
}

// Lookup resolves the rate for a provider + canonical model. Exact
// "{provider}/{model}" keys win; otherwise any key whose model segment
// matches is accepted, so a model priced under one provider still
// resolves when reached through an aggregator.
func (c *PricingCache) Lookup(ctx context.Context, provider, model string) (Pricing, bool) {
	if err := c.ensureFresh(ctx); err != nil {
		c.log.Error("", "", "Failed to refresh pricing cache", map[string]interface{}{"error": err.Error()})
		// serve the stale copy if we have one
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.entries[provider+"/"+model]; ok {
		return p, true
	}
	suffix := "/" + model
	for key, p := range c.entries {
		if strings.HasSuffix(key, suffix) {
			return p, true
		}
	}
	return Pricing{}, false
}

// Invalidate forces the next lookup to reload from the store.
func (c *PricingCache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

func (c *PricingCache) ensureFresh(ctx context.Context) error {
	c.mu.RLock()
	fresh := time.Since(c.fetchedAt) < pricingTTL && c.entries != nil
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.fetchedAt) < pricingTTL && c.entries != nil {
		return nil
	}

	rows, err := c.repo.ListPricing(ctx)
	if err != nil {
		return err
	}
	entries := make(map[string]Pricing, len(rows))
	for _, p := range rows {
		entries[p.Provider+"/"+p.Model] = p
	}
	c.entries = entries
	c.fetchedAt = time.Now()
	return nil
}
