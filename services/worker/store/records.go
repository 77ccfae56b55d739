// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ListOptions narrows and pages the record listing queries. Listings are
// newest first; AfterID, when set, returns only rows strictly older than
// that id so a client can walk backward through history.
type ListOptions struct {
	Project string
	AfterID int64
	Limit   int
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return 50
	}
	if o.Limit > 200 {
		return 200
	}
	return o.Limit
}

// InsertObservation persists one observation, assigning its id and,
// unless preset, its created-at timestamp.
func (s *Store) InsertObservation(ctx context.Context, o *Observation) error {
	if o.SessionID == "" {
		return fmt.Errorf("observation requires a session id")
	}
	if o.CreatedAtEpoch == 0 {
		o.CreatedAtEpoch = epochNow()
	}
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// InsertSummary persists one session summary, assigning its id and,
// unless preset, its created-at timestamp.
func (s *Store) InsertSummary(ctx context.Context, sum *Summary) error {
	if sum.SessionID == "" {
		return fmt.Errorf("summary requires a session id")
	}
	if sum.CreatedAtEpoch == 0 {
		sum.CreatedAtEpoch = epochNow()
	}
	if err := s.db.WithContext(ctx).Create(sum).Error; err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// InsertPrompt persists one user prompt, assigning its id and, unless
// preset, its created-at timestamp.
func (s *Store) InsertPrompt(ctx context.Context, p *UserPrompt) error {
	if p.SessionID == "" {
		return fmt.Errorf("prompt requires a session id")
	}
	if p.CreatedAtEpoch == 0 {
		p.CreatedAtEpoch = epochNow()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	return nil
}

// ListObservations returns observations newest first.
func (s *Store) ListObservations(ctx context.Context, opts ListOptions) ([]Observation, error) {
	q := s.db.WithContext(ctx).Order("id DESC").Limit(opts.limit())
	if opts.Project != "" {
		q = q.Where("project = ?", opts.Project)
	}
	if opts.AfterID > 0 {
		q = q.Where("id < ?", opts.AfterID)
	}
	var out []Observation
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	return out, nil
}

// ListSummaries returns summaries newest first.
func (s *Store) ListSummaries(ctx context.Context, opts ListOptions) ([]Summary, error) {
	q := s.db.WithContext(ctx).Order("id DESC").Limit(opts.limit())
	if opts.Project != "" {
		q = q.Where("project = ?", opts.Project)
	}
	if opts.AfterID > 0 {
		q = q.Where("id < ?", opts.AfterID)
	}
	var out []Summary
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return out, nil
}

// ListPrompts returns user prompts newest first.
func (s *Store) ListPrompts(ctx context.Context, opts ListOptions) ([]UserPrompt, error) {
	q := s.db.WithContext(ctx).Order("id DESC").Limit(opts.limit())
	if opts.Project != "" {
		q = q.Where("project = ?", opts.Project)
	}
	if opts.AfterID > 0 {
		q = q.Where("id < ?", opts.AfterID)
	}
	var out []UserPrompt
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return out, nil
}

// StreamObservations walks observations in id order, invoking fn for each
// row. Rows are fetched in batches so arbitrarily large stores never load
// into memory at once. A non-nil error from fn stops the walk.
func (s *Store) StreamObservations(ctx context.Context, project string, sinceEpoch int64, fn func(*Observation) error) error {
	q := s.db.WithContext(ctx).Model(&Observation{})
	if project != "" {
		q = q.Where("project = ?", project)
	}
	if sinceEpoch > 0 {
		q = q.Where("created_at_epoch >= ?", sinceEpoch)
	}

	var batch []Observation
	res := q.FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if res.Error != nil {
		return fmt.Errorf("stream observations: %w", res.Error)
	}
	return nil
}

// RecentObservations returns the newest observations for a project,
// newest first.
func (s *Store) RecentObservations(ctx context.Context, project string, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if project != "" {
		q = q.Where("project = ?", project)
	}
	var out []Observation
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("recent observations: %w", err)
	}
	return out, nil
}

// CountObservations reports the total number of stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Observation{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}
