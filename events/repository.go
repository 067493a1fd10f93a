// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentryvolt/sidecar/analyzer"
	"sentryvolt/sidecar/shared/redact"
	"sentryvolt/sidecar/store"
)

// Repository errors
var (
	ErrEventNotFound = errors.New("event not found")
	ErrBadPagination = errors.New("invalid pagination parameters")
	ErrBadSortField  = errors.New("sort field is not an indexed column")
)

// MaxPageSize caps a single listing page.
const MaxPageSize = 100

// sortColumns whitelists the sortable (indexed) columns.
var sortColumns = map[string]bool{
	"created_at":  true,
	"risk_score":  true,
	"threat_type": true,
	"source":      true,
	"is_threat":   true,
}

// Repository is the typed accessor for analyzed events.
type Repository struct {
	store *store.Store
}

// NewRepository creates a repository backed by the shared store.
func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// Insert persists one analyzed event. A zero ID and CreatedAt are
// filled in.
func (r *Repository) Insert(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ThreatType == "" {
		e.ThreatType = "none"
	}
	if e.MatchedRules == nil {
		e.MatchedRules = []analyzer.MatchedRule{}
	}
	// Analyzed text can contain keys and tokens; they never reach disk.
	if e.Content != "" {
		e.Content = redact.Scrub(e.Content)
	}
	e.Metadata = redact.ScrubMap(e.Metadata)

	matched, err := json.Marshal(e.MatchedRules)
	if err != nil {
		return fmt.Errorf("failed to marshal matched rules: %w", err)
	}
	var metadata interface{}
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(b)
	}
	var review interface{}
	if e.Review != nil {
		b, err := json.Marshal(e.Review)
		if err != nil {
			return fmt.Errorf("failed to marshal review: %w", err)
		}
		review = string(b)
	}

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO events (id, request_id, content, content_hash, content_length,
				is_threat, threat_type, risk_score, confidence, matched_rules,
				source, session_id, processing_ms, metadata, review, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, nullable(e.RequestID), nullable(e.Content), e.ContentHash, e.ContentLength,
			e.IsThreat, e.ThreatType, e.RiskScore, e.Confidence, string(matched),
			nullable(e.Source), nullable(e.SessionID), e.ProcessingMS, metadata, review,
			e.CreatedAt,
		)
		return err
	})
}

// Get fetches one event by id.
func (r *Repository) Get(ctx context.Context, id string) (*Event, error) {
	row := r.store.DB.QueryRowContext(ctx, selectColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return e, err
}

// List returns a filtered, sorted page of events.
func (r *Repository) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page_size exceeds %d", ErrBadPagination, MaxPageSize)
	}
	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	if !sortColumns[sortBy] {
		return nil, fmt.Errorf("%w: %s", ErrBadSortField, sortBy)
	}
	order := strings.ToUpper(f.Order)
	if order == "" {
		order = "DESC"
	}
	if order != "ASC" && order != "DESC" {
		return nil, fmt.Errorf("%w: order must be asc or desc", ErrBadPagination)
	}

	where, args := buildWhere(f)

	var total int
	if err := r.store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	query := fmt.Sprintf("%s FROM events%s ORDER BY %s %s LIMIT ? OFFSET ?",
		selectColumns, where, sortBy, order)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := r.store.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	items := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := (total + f.PageSize - 1) / f.PageSize
	return &Page{
		Items:      items,
		Total:      total,
		PageNum:    f.Page,
		PageSize:   f.PageSize,
		TotalPages: totalPages,
	}, nil
}

// SetReview attaches or replaces the review record on an event.
func (r *Repository) SetReview(ctx context.Context, id string, review *Review) error {
	b, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("failed to marshal review: %w", err)
	}
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE events SET review = ? WHERE id = ?`, string(b), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrEventNotFound
		}
		return nil
	})
}

// DeleteOlderThan prunes events created before the cutoff, returning
// the number removed. Used by the retention janitor.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM events WHERE created_at < ?`, cutoff.UTC())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

const selectColumns = `
	SELECT id, request_id, content, content_hash, content_length, is_threat,
	       threat_type, risk_score, confidence, matched_rules, source,
	       session_id, processing_ms, metadata, review, created_at`

func buildWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.IsThreat != nil {
		clauses = append(clauses, "is_threat = ?")
		args = append(args, *f.IsThreat)
	}
	if f.ThreatType != "" {
		clauses = append(clauses, "threat_type = ?")
		args = append(args, f.ThreatType)
	}
	if f.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, f.Source)
	}
	if f.Start != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Start.UTC())
	}
	if f.End != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.End.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var requestID, content, source, sessionID, metadata, review sql.NullString
	var matched string
	err := row.Scan(&e.ID, &requestID, &content, &e.ContentHash, &e.ContentLength,
		&e.IsThreat, &e.ThreatType, &e.RiskScore, &e.Confidence, &matched,
		&source, &sessionID, &e.ProcessingMS, &metadata, &review, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.RequestID = requestID.String
	e.Content = content.String
	e.Source = source.String
	e.SessionID = sessionID.String
	if err := json.Unmarshal([]byte(matched), &e.MatchedRules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal matched rules for %s: %w", e.ID, err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", e.ID, err)
		}
	}
	if review.Valid && review.String != "" {
		var rv Review
		if err := json.Unmarshal([]byte(review.String), &rv); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review for %s: %w", e.ID, err)
		}
		e.Review = &rv
	}
	return &e, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
