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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "engram.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	st := newTestStore(t)
	require.NotNil(t, st)
}

func TestCreateAndFindSession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.CreateSession(ctx, "sess-1", "engram", "fix the parser")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, 1, created.LastPromptNumber)
	assert.NotZero(t, created.StartedAtEpoch)
	assert.Nil(t, created.CompletedAtEpoch)

	found, err := st.FindSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "engram", found.Project)
	assert.Equal(t, "fix the parser", found.UserPrompt)
}

func TestFindSessionMissingIsNotAnError(t *testing.T) {
	st := newTestStore(t)

	found, err := st.FindSession(context.Background(), "no-such-session")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestTouchSessionPromptReopensCompleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "sess-2", "engram", "first")
	require.NoError(t, err)

	require.NoError(t, st.MarkSessionCompleted(ctx, sess.ID))
	found, err := st.FindSession(ctx, "sess-2")
	require.NoError(t, err)
	require.NotNil(t, found.CompletedAtEpoch)

	require.NoError(t, st.TouchSessionPrompt(ctx, sess.ID, 2, "second"))
	found, err = st.FindSession(ctx, "sess-2")
	require.NoError(t, err)
	assert.Nil(t, found.CompletedAtEpoch)
	assert.Equal(t, 2, found.LastPromptNumber)
	assert.Equal(t, "second", found.UserPrompt)

	// An empty prompt advances the counter but keeps the last text.
	require.NoError(t, st.TouchSessionPrompt(ctx, sess.ID, 3, ""))
	found, err = st.FindSession(ctx, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, 3, found.LastPromptNumber)
	assert.Equal(t, "second", found.UserPrompt)
}

func TestSetAnalyzerSessionID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "sess-3", "engram", "")
	require.NoError(t, err)

	require.NoError(t, st.SetAnalyzerSessionID(ctx, sess.ID, "anl-abc"))
	found, err := st.FindSession(ctx, "sess-3")
	require.NoError(t, err)
	assert.Equal(t, "anl-abc", found.AnalyzerSessionID)
}

func TestInsertAndListObservations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, proj := range []string{"alpha", "alpha", "beta"} {
		o := &Observation{
			SessionID:       "sess-4",
			Project:         proj,
			Type:            "discovery",
			Title:           "finding",
			Facts:           `["a"]`,
			Concepts:        `[]`,
			FilesRead:       `[]`,
			FilesModified:   `[]`,
			PromptNumber:    i + 1,
			DiscoveryTokens: int64(10 * (i + 1)),
		}
		require.NoError(t, st.InsertObservation(ctx, o))
		assert.NotZero(t, o.ID)
		assert.NotZero(t, o.CreatedAtEpoch)
	}

	all, err := st.ListObservations(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Greater(t, all[0].ID, all[1].ID)
	assert.Greater(t, all[1].ID, all[2].ID)

	alpha, err := st.ListObservations(ctx, ListOptions{Project: "alpha"})
	require.NoError(t, err)
	assert.Len(t, alpha, 2)

	// AfterID pages strictly backward from the given id.
	page, err := st.ListObservations(ctx, ListOptions{AfterID: all[0].ID})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[1].ID, page[0].ID)
}

func TestListObservationsLimitClamped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, st.InsertObservation(ctx, &Observation{SessionID: "s", Title: "t"}))
	}
	out, err := st.ListObservations(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestStreamObservationsWalksInIDOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var inserted []int64
	for i := 0; i < 7; i++ {
		o := &Observation{SessionID: "s", Project: "alpha", Title: "t"}
		require.NoError(t, st.InsertObservation(ctx, o))
		inserted = append(inserted, o.ID)
	}

	var walked []int64
	err := st.StreamObservations(ctx, "alpha", 0, func(o *Observation) error {
		walked = append(walked, o.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, inserted, walked)
}

func TestStreamObservationsSinceFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertObservation(ctx, &Observation{SessionID: "s", Title: "old"}))
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now().UnixMilli()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, st.InsertObservation(ctx, &Observation{SessionID: "s", Title: "new"}))

	var titles []string
	err := st.StreamObservations(ctx, "", cutoff, func(o *Observation) error {
		titles = append(titles, o.Title)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, titles)
}

func TestRecentObservationsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, st.InsertObservation(ctx, &Observation{SessionID: "s", Project: "p", Title: "t"}))
	}
	recent, err := st.RecentObservations(ctx, "p", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Greater(t, recent[0].ID, recent[1].ID)
}

func TestSummariesAndPrompts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sum := &Summary{
		SessionID: "sess-5",
		Project:   "engram",
		Request:   "add retries",
		Learned:   "the client never retried",
	}
	require.NoError(t, st.InsertSummary(ctx, sum))
	assert.NotZero(t, sum.ID)

	p := &UserPrompt{SessionID: "sess-5", Project: "engram", PromptNumber: 1, Text: "add retries"}
	require.NoError(t, st.InsertPrompt(ctx, p))
	assert.NotZero(t, p.ID)

	sums, err := st.ListSummaries(ctx, ListOptions{Project: "engram"})
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, "add retries", sums[0].Request)

	prompts, err := st.ListPrompts(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, 1, prompts[0].PromptNumber)
}

func TestCountObservations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.CountObservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, st.InsertObservation(ctx, &Observation{SessionID: "s", Title: "t"}))
	n, err = st.CountObservations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
