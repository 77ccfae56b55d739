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
	"log/slog"
)

// Enqueue appends a message to a session's pending queue and wakes any
// blocked iterator. The message id and created-at timestamp are assigned
// here.
func (s *Store) Enqueue(ctx context.Context, msg *PendingMessage) error {
	if msg.SessionID == 0 {
		return fmt.Errorf("enqueue requires a session id")
	}
	if msg.Kind != KindObservation && msg.Kind != KindSummarize {
		return fmt.Errorf("enqueue: unknown message kind %q", msg.Kind)
	}
	msg.State = StatePending
	msg.CreatedAtEpoch = epochNow()
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	s.notifyPending(msg.SessionID)
	return nil
}

// MarkProcessed flips the given messages out of the pending state. An
// empty id list is a no-op.
func (s *Store) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&PendingMessage{}).
		Where("id IN ?", ids).
		Update("state", StateProcessed)
	if res.Error != nil {
		return fmt.Errorf("mark processed: %w", res.Error)
	}
	return nil
}

// CleanupProcessed deletes processed messages beyond the newest keepLast,
// counted across all sessions. Pending rows are never touched.
func (s *Store) CleanupProcessed(ctx context.Context, keepLast int) error {
	if keepLast < 0 {
		keepLast = 0
	}
	newest := s.db.Model(&PendingMessage{}).
		Select("id").
		Where("state = ?", StateProcessed).
		Order("id DESC").
		Limit(keepLast)
	res := s.db.WithContext(ctx).
		Where("state = ? AND id NOT IN (?)", StateProcessed, newest).
		Delete(&PendingMessage{})
	if res.Error != nil {
		return fmt.Errorf("cleanup processed: %w", res.Error)
	}
	return nil
}

// CountPending returns the number of undelivered messages for a session.
func (s *Store) CountPending(ctx context.Context, sessionID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&PendingMessage{}).
		Where("session_id = ? AND state = ?", sessionID, StatePending).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// pendingAfter fetches pending messages with ids above afterID, oldest
// first.
func (s *Store) pendingAfter(ctx context.Context, sessionID, afterID int64) ([]PendingMessage, error) {
	var out []PendingMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND state = ? AND id > ?", sessionID, StatePending, afterID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Iterate yields a session's pending messages in insertion order,
// blocking when the queue is empty until a new message arrives or ctx is
// cancelled. The returned channel closes on cancellation.
//
// Messages are delivered at-least-once: a message yielded here stays in
// the pending state until MarkProcessed, so a consumer that dies before
// marking sees the same message again from a fresh iterator. Within one
// Iterate call each message is yielded at most once.
func (s *Store) Iterate(ctx context.Context, sessionID int64) <-chan PendingMessage {
	out := make(chan PendingMessage)
	notify := s.subscribePending(sessionID)

	go func() {
		defer close(out)
		defer s.unsubscribePending(sessionID, notify)

		var lastID int64
		for {
			batch, err := s.pendingAfter(ctx, sessionID, lastID)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Error("pending queue fetch failed",
						"session_db_id", sessionID, "error", err)
				}
				return
			}
			for _, m := range batch {
				select {
				case out <- m:
					lastID = m.ID
				case <-ctx.Done():
					return
				}
			}
			if len(batch) == 0 {
				select {
				case <-notify:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
