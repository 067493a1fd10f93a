// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"sentryvolt/sidecar/shared/logger"
)

// matchConfidence is the fixed confidence assigned to a pattern match.
const matchConfidence = 0.8

// compiledPattern is one entry of the flat compiled set. Matches refer
// back to their rule by id; display metadata rides along so matching
// never touches the repository.
type compiledPattern struct {
	re        *regexp.Regexp
	pattern   string
	ruleID    string
	ruleName  string
	category  string
	severity  Severity
	riskScore int
	source    RuleSource
}

// snapshot is an immutable compiled rule set. Reload builds a fresh one
// and swaps the pointer; in-flight Analyze calls keep their reference.
type snapshot struct {
	patterns []compiledPattern
}

// Analyzer scores text against the compiled set of enabled rules.
// Safe for concurrent use; reloads are serialized.
type Analyzer struct {
	repo     *RulesRepository
	loader   *Loader
	rulesDir string
	log      *logger.Logger

	mu      sync.RWMutex // guards snap and loaded
	snap    *snapshot
	loaded  bool
	reload  sync.Mutex // serializes Reload/EnsureLoaded bootstrap
	warned  map[string]bool
	warnedM sync.Mutex
}

// New creates an Analyzer over the rules repository. rulesDir is the
// bundled community rule directory, loaded into the cache on first use;
// pass "" to skip first-run seeding (tests create rules directly).
func New(repo *RulesRepository, rulesDir string) *Analyzer {
	return &Analyzer{
		repo:     repo,
		loader:   NewLoader(repo),
		rulesDir: rulesDir,
		log:      logger.New("analyzer"),
		warned:   make(map[string]bool),
	}
}

// EnsureLoaded bootstraps the community rule cache on first call and
// compiles the initial snapshot. Idempotent and safe to call on every
// analyze.
func (a *Analyzer) EnsureLoaded(ctx context.Context) error {
	a.mu.RLock()
	loaded := a.loaded
	a.mu.RUnlock()
	if loaded {
		return nil
	}

	a.reload.Lock()
	defer a.reload.Unlock()
	a.mu.RLock()
	loaded = a.loaded
	a.mu.RUnlock()
	if loaded {
		return nil
	}

	if a.rulesDir != "" {
		seeded, err := a.repo.HasCommunityRules(ctx)
		if err != nil {
			return fmt.Errorf("failed to check rule cache: %w", err)
		}
		if !seeded {
			n, err := a.loader.LoadDirectory(ctx, a.rulesDir)
			if err != nil {
				return fmt.Errorf("failed to load community rules: %w", err)
			}
			a.log.Info("", "", "community rules cached", map[string]interface{}{"count": n})
		}
	}
	return a.compileLocked(ctx)
}

// Reload rebuilds the compiled snapshot from the repository. Called
// after any rule or override CRUD. Concurrent Analyze calls see either
// the old snapshot in full or the new one in full.
func (a *Analyzer) Reload(ctx context.Context) error {
	a.reload.Lock()
	defer a.reload.Unlock()
	return a.compileLocked(ctx)
}

// compileLocked builds a fresh snapshot and swaps it in. Caller holds
// a.reload.
func (a *Analyzer) compileLocked(ctx context.Context) error {
	rules, err := a.repo.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled rules: %w", err)
	}

	var patterns []compiledPattern
	for _, rule := range rules {
		for _, p := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				a.warnOnce(rule.ID, p, err)
				continue
			}
			patterns = append(patterns, compiledPattern{
				re:        re,
				pattern:   p,
				ruleID:    rule.ID,
				ruleName:  rule.Name,
				category:  rule.Category,
				severity:  rule.Severity,
				riskScore: rule.Severity.RiskScore(),
				source:    rule.Source,
			})
		}
	}

	a.mu.Lock()
	a.snap = &snapshot{patterns: patterns}
	a.loaded = true
	a.mu.Unlock()

	a.log.Info("", "", "rule set compiled", map[string]interface{}{
		"rules":    len(rules),
		"patterns": len(patterns),
	})
	return nil
}

// warnOnce logs a bad pattern at most once per (rule, pattern).
func (a *Analyzer) warnOnce(ruleID, pattern string, err error) {
	key := ruleID + "\x00" + pattern
	a.warnedM.Lock()
	seen := a.warned[key]
	if !seen {
		a.warned[key] = true
	}
	a.warnedM.Unlock()
	if !seen {
		a.log.Warn("", "", "skipping uncompilable pattern", map[string]interface{}{
			"rule_id": ruleID,
			"pattern": pattern,
			"error":   err.Error(),
		})
	}
}

// Analyze scores text against the current snapshot and returns the
// verdict. Deterministic for a fixed rule set and input.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*Analysis, error) {
	start := time.Now()

	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}

	a.mu.RLock()
	snap := a.snap
	a.mu.RUnlock()

	result := &Analysis{
		ThreatType:   "none",
		MatchedRules: []MatchedRule{},
	}

	maxRisk := 0
	maxConfidence := 0.0
	for _, cp := range snap.patterns {
		if !cp.re.MatchString(text) {
			continue
		}
		result.MatchedRules = append(result.MatchedRules, MatchedRule{
			RuleID:   cp.ruleID,
			Name:     cp.ruleName,
			Category: cp.category,
			Severity: cp.severity,
			Source:   cp.source,
			Pattern:  cp.pattern,
		})
		if cp.riskScore > maxRisk {
			maxRisk = cp.riskScore
			result.ThreatType = cp.category
		}
		if matchConfidence > maxConfidence {
			maxConfidence = matchConfidence
		}
	}

	result.IsThreat = len(result.MatchedRules) > 0
	result.RiskScore = maxRisk
	result.Confidence = maxConfidence
	result.ProcessingMS = float64(time.Since(start).Microseconds()) / 1000.0
	return result, nil
}

// PatternCount reports the size of the current compiled set, for health
// reporting.
func (a *Analyzer) PatternCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.snap == nil {
		return 0
	}
	return len(a.snap.patterns)
}

// Loaded reports whether a snapshot has been compiled.
func (a *Analyzer) Loaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loaded
}
