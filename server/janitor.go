// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"time"
)

// janitorInterval is how often expired events are pruned.
const janitorInterval = time.Hour

// runJanitor prunes events older than the configured retention window
// until ctx is cancelled. One pass runs immediately at startup.
func (s *Server) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	s.pruneExpired(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneExpired(ctx)
		}
	}
}

func (s *Server) pruneExpired(ctx context.Context) {
	row, err := s.settings.Get(ctx)
	if err != nil {
		s.log.Errorf("", "", "Janitor could not read retention settings", err, nil)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -row.RetentionDays)
	deleted, err := s.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Errorf("", "", "Janitor prune failed", err, nil)
		return
	}
	if deleted > 0 {
		s.log.Info("", "", "Pruned expired events", map[string]interface{}{
			"deleted":        deleted,
			"retention_days": row.RetentionDays,
		})
	}
}
