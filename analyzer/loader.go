// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"sentryvolt/sidecar/shared/logger"
)

// ruleFileExtensions is the recognized extension set for community rule
// documents. JSON parses as YAML, so one decoder covers both.
var ruleFileExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// patternList accepts a pattern field that is either a scalar or a list.
type patternList []string

func (p *patternList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*p = patternList{s}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*p = patternList(list)
	return nil
}

// ruleDocument is the superset of on-disk shapes we recognize. Unknown
// keys are ignored by the decoder.
type ruleDocument struct {
	Rules []ruleEntry `yaml:"rules"`

	// Legacy shape: a flat patterns list, one synthetic rule per pattern.
	Patterns patternList `yaml:"patterns"`

	Category string `yaml:"category"`
	Severity string `yaml:"severity"`
}

type ruleEntry struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Category    string      `yaml:"category"`
	Description string      `yaml:"description"`
	Severity    string      `yaml:"severity"`
	Patterns    patternList `yaml:"patterns"`

	Pattern struct {
		Value string `yaml:"value"`
	} `yaml:"pattern"`

	Rule struct {
		Detection []struct {
			Match patternList `yaml:"match"`
		} `yaml:"detection"`
	} `yaml:"rule"`
}

// collectPatterns merges the pattern carriers an entry may use.
func (e *ruleEntry) collectPatterns() []string {
	var patterns []string
	patterns = append(patterns, e.Patterns...)
	if e.Pattern.Value != "" {
		patterns = append(patterns, e.Pattern.Value)
	}
	for _, d := range e.Rule.Detection {
		patterns = append(patterns, d.Match...)
	}
	return patterns
}

// Loader ingests community rule files into the rules cache.
type Loader struct {
	repo *RulesRepository
	log  *logger.Logger
}

// NewLoader creates a loader writing through the given repository.
func NewLoader(repo *RulesRepository) *Loader {
	return &Loader{repo: repo, log: logger.New("rule-loader")}
}

// LoadDirectory walks dir, parses every recognized rule file, and caches
// the resulting rules as community rules. A parse failure in one file is
// logged and never aborts the others. Returns the number of rules cached.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read rules directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !ruleFileExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rules, err := l.parseFile(path)
		if err != nil {
			l.log.Warn("", "", "skipping unparseable rule file", map[string]interface{}{
				"file":  entry.Name(),
				"error": err.Error(),
			})
			continue
		}
		for i := range rules {
			if err := l.repo.CreateRule(ctx, &rules[i]); err != nil {
				if err == ErrRuleExists {
					continue
				}
				l.log.Errorf("", "", "failed to cache rule", err, map[string]interface{}{
					"rule_id": rules[i].ID,
					"file":    entry.Name(),
				})
				continue
			}
			loaded++
		}
	}
	return loaded, nil
}

// parseFile decodes one rule document into rule records. Patterns are
// carried through verbatim; compile failures are handled at match-set
// build time, not here.
func (l *Loader) parseFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc ruleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var rules []Rule
	for _, entry := range doc.Rules {
		patterns := entry.collectPatterns()
		if len(patterns) == 0 {
			continue
		}
		rule := Rule{
			ID:          entry.ID,
			Name:        entry.Name,
			Category:    entry.Category,
			Description: entry.Description,
			Severity:    Severity(entry.Severity),
			Patterns:    patterns,
			Enabled:     true,
			Source:      SourceCommunity,
			OriginFile:  filepath.Base(path),
		}
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("%s-%s", stem, slugify(entry.Name))
		}
		if rule.Name == "" {
			rule.Name = rule.ID
		}
		if rule.Category == "" {
			rule.Category = stem
		}
		if !rule.Severity.Valid() {
			rule.Severity = SeverityMedium
		}
		rules = append(rules, rule)
	}

	// Legacy flat-patterns documents: one rule per pattern with a
	// synthetic identifier derived from the file stem.
	for i, pattern := range doc.Patterns {
		severity := Severity(doc.Severity)
		if !severity.Valid() {
			severity = SeverityMedium
		}
		category := doc.Category
		if category == "" {
			category = stem
		}
		rules = append(rules, Rule{
			ID:         fmt.Sprintf("%s-%03d", stem, i+1),
			Name:       fmt.Sprintf("%s #%d", stem, i+1),
			Category:   category,
			Severity:   severity,
			Patterns:   []string{pattern},
			Enabled:    true,
			Source:     SourceCommunity,
			OriginFile: filepath.Base(path),
		})
	}

	return rules, nil
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "rule"
	}
	return b.String()
}
