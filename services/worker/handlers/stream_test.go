// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/services/worker/store"
)

func dialStream(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestStreamInitialLoad(t *testing.T) {
	f := newFixture(t)
	seedObservation(t, f, "engram", "ok", 40)

	ws := dialStream(t, f)
	frame := readFrame(t, ws)

	assert.Equal(t, "initial_load", frame["type"])
	obs, ok := frame["observations"].([]any)
	require.True(t, ok)
	assert.Len(t, obs, 1)
	assert.NotNil(t, frame["summaries"])
	assert.NotNil(t, frame["prompts"])

	tokens, ok := frame["tokens"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, tokens["totalObservations"])
	assert.EqualValues(t, 40, tokens["totalDiscoveryTokens"])

	processing, ok := frame["processing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, processing["isProcessing"])
}

func TestStreamForwardsLiveEvents(t *testing.T) {
	f := newFixture(t)
	ws := dialStream(t, f)

	// Drain the snapshot first.
	frame := readFrame(t, ws)
	require.Equal(t, "initial_load", frame["type"])

	f.publisher.ObservationCreated(&store.Observation{
		ID: 7, SessionID: "sess-1", Project: "engram",
		Type: "discovery", Title: "found the cache path",
	})

	frame = readFrame(t, ws)
	assert.Equal(t, "new_observation", frame["type"])
	obs, ok := frame["observation"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 7, obs["id"])
	assert.Equal(t, "found the cache path", obs["title"])
}
