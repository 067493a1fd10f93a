// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxPatternLength caps user-supplied regex pattern length.
	MaxPatternLength = 1000
)

// Pattern validation errors
var (
	ErrPatternEmpty   = errors.New("pattern cannot be empty")
	ErrPatternTooLong = errors.New("pattern exceeds maximum length")
	ErrPatternInvalid = errors.New("pattern has invalid RE2 syntax")
)

// ValidatePattern checks that a user-supplied pattern is acceptable for
// a custom rule: non-empty, within length bounds, and compilable as RE2.
// RE2 guarantees linear-time matching, so no backtracking checks are
// needed beyond a successful compile.
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return ErrPatternEmpty
	}
	if len(pattern) > MaxPatternLength {
		return ErrPatternTooLong
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("%w: %v", ErrPatternInvalid, err)
	}
	return nil
}

// ValidatePatterns validates every pattern, returning the first failure
// with its index for the caller's error message.
func ValidatePatterns(patterns []string) error {
	if len(patterns) == 0 {
		return errors.New("at least one pattern is required")
	}
	for i, p := range patterns {
		if err := ValidatePattern(p); err != nil {
			return fmt.Errorf("pattern %d: %w", i, err)
		}
	}
	return nil
}
