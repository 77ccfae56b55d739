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
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// CreateSession inserts a new session row for an assistant-side id.
func (s *Store) CreateSession(ctx context.Context, sessionID, project, userPrompt string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID is required")
	}
	sess := &Session{
		SessionID:        sessionID,
		Project:          project,
		UserPrompt:       userPrompt,
		LastPromptNumber: 1,
		StartedAtEpoch:   epochNow(),
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return sess, nil
}

// FindSession looks a session up by its assistant-side id. A missing
// session is not an error: both return values are nil.
func (s *Store) FindSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	res := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&sess)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find session %s: %w", sessionID, res.Error)
	}
	return &sess, nil
}

// TouchSessionPrompt advances a session to a new prompt cycle. It also
// clears completed-at, so a summarized session that receives fresh
// events is reopened rather than left in a terminal state.
func (s *Store) TouchSessionPrompt(ctx context.Context, id int64, promptNumber int, userPrompt string) error {
	updates := map[string]any{
		"last_prompt_number": promptNumber,
		"completed_at_epoch": nil,
	}
	if userPrompt != "" {
		updates["user_prompt"] = userPrompt
	}
	res := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("touch session %d: %w", id, res.Error)
	}
	return nil
}

// SetAnalyzerSessionID records the analyzer-side conversation id once
// the subprocess has announced it.
func (s *Store) SetAnalyzerSessionID(ctx context.Context, id int64, analyzerID string) error {
	res := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).
		Update("analyzer_session_id", analyzerID)
	if res.Error != nil {
		return fmt.Errorf("set analyzer session id on %d: %w", id, res.Error)
	}
	return nil
}

// MarkSessionCompleted stamps completed-at on a cleanly finished session.
func (s *Store) MarkSessionCompleted(ctx context.Context, id int64) error {
	now := epochNow()
	res := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).
		Update("completed_at_epoch", &now)
	if res.Error != nil {
		return fmt.Errorf("mark session %d completed: %w", id, res.Error)
	}
	return nil
}

// ListSessions returns sessions newest first, optionally filtered to one
// project.
func (s *Store) ListSessions(ctx context.Context, project string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if project != "" {
		q = q.Where("project = ?", project)
	}
	var sessions []Session
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
