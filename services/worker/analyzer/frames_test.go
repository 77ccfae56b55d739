// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitFrameBody(t *testing.T) {
	f := Frame{Kind: FrameInit, Project: "engram", UserPrompt: "fix the importer"}
	body := f.Body()

	assert.Contains(t, body, "<session-start>")
	assert.Contains(t, body, "<project>engram</project>")
	assert.Contains(t, body, "<user-prompt>fix the importer</user-prompt>")
	// Role instructions ride along with the opening frame.
	assert.Contains(t, body, "<observation>")
	assert.Contains(t, body, "<summary>")
}

func TestContinuationFrameBody(t *testing.T) {
	f := Frame{Kind: FrameContinuation, Project: "engram", PromptNumber: 4, UserPrompt: "now add tests"}
	body := f.Body()

	assert.Contains(t, body, "<session-continue>")
	assert.Contains(t, body, "<prompt-number>4</prompt-number>")
	assert.NotContains(t, body, "<session-start>")
}

func TestObservationFrameBody(t *testing.T) {
	f := Frame{
		Kind:         FrameObservation,
		ToolName:     "Read",
		ToolInput:    `{"file_path":"main.go"}`,
		ToolResponse: `{"content":"package main"}`,
		Cwd:          "/work/engram",
	}
	body := f.Body()

	assert.True(t, strings.HasPrefix(body, "<tool-call>"))
	assert.Contains(t, body, "<tool>Read</tool>")
	assert.Contains(t, body, `<input>{"file_path":"main.go"}</input>`)
	assert.Contains(t, body, `<response>{"content":"package main"}</response>`)
	assert.Contains(t, body, "<cwd>/work/engram</cwd>")
	// Per-call frames must not repeat the instructions.
	assert.NotContains(t, body, "memory analyzer")
}

func TestSummarizeFrameBody(t *testing.T) {
	f := Frame{
		Kind:                 FrameSummarize,
		LastUserMessage:      "ship it",
		LastAssistantMessage: "done, tests green",
	}
	body := f.Body()

	assert.Contains(t, body, "<session-end>")
	assert.Contains(t, body, "<last-user-message>ship it</last-user-message>")
	assert.Contains(t, body, "<last-assistant-message>done, tests green</last-assistant-message>")
}

func TestEmptyFieldsOmitted(t *testing.T) {
	f := Frame{Kind: FrameObservation, ToolName: "Bash"}
	body := f.Body()

	assert.Contains(t, body, "<tool>Bash</tool>")
	assert.NotContains(t, body, "<input>")
	assert.NotContains(t, body, "<cwd>")
}

func TestEncodeFrameIsOneUserMessage(t *testing.T) {
	line, err := encodeFrame(Frame{Kind: FrameObservation, ToolName: "Grep"})
	require.NoError(t, err)
	assert.NotContains(t, string(line), "\n", "NDJSON lines must be single-line")

	var msg map[string]any
	require.NoError(t, json.Unmarshal(line, &msg))
	assert.Equal(t, "user", msg["type"])

	inner := msg["message"].(map[string]any)
	assert.Equal(t, "user", inner["role"])
	content := inner["content"].([]any)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Contains(t, block["text"], "<tool>Grep</tool>")
}

func TestDecodeInitReply(t *testing.T) {
	line := []byte(`{"type":"system","subtype":"init","session_id":"anl-123"}`)
	r, ok := decodeReply(line)
	require.True(t, ok)
	assert.Equal(t, ReplyInit, r.Kind)
	assert.Equal(t, "anl-123", r.SessionID)
}

func TestDecodeSystemNonInitSkipped(t *testing.T) {
	_, ok := decodeReply([]byte(`{"type":"system","subtype":"status"}`))
	assert.False(t, ok)
}

func TestDecodeAssistantReply(t *testing.T) {
	line := []byte(`{
		"type": "assistant",
		"session_id": "anl-123",
		"message": {
			"content": [
				{"type": "text", "text": "<observation>"},
				{"type": "text", "text": "<title>split</title></observation>"}
			],
			"usage": {
				"input_tokens": 100,
				"output_tokens": 40,
				"cache_creation_input_tokens": 25,
				"cache_read_input_tokens": 900
			}
		}
	}`)
	r, ok := decodeReply(line)
	require.True(t, ok)
	assert.Equal(t, ReplyAssistant, r.Kind)
	assert.Equal(t, "<observation><title>split</title></observation>", r.Text,
		"text blocks concatenate in order")
	assert.EqualValues(t, 100, r.Usage.InputTokens)
	assert.EqualValues(t, 40, r.Usage.OutputTokens)
	assert.EqualValues(t, 25, r.Usage.CacheCreationInputTokens)
	assert.EqualValues(t, 900, r.Usage.CacheReadInputTokens)
}

func TestDecodeAssistantWithoutUsage(t *testing.T) {
	line := []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`)
	r, ok := decodeReply(line)
	require.True(t, ok)
	assert.True(t, r.Usage.IsZero())
}

func TestDecodeResultReply(t *testing.T) {
	r, ok := decodeReply([]byte(`{"type":"result","subtype":"success","session_id":"anl-123"}`))
	require.True(t, ok)
	assert.Equal(t, ReplyResult, r.Kind)
}

func TestDecodeNoiseSkipped(t *testing.T) {
	for _, line := range []string{
		`{"type":"user","message":{}}`,
		`{"type":"something_else"}`,
		`not json at all`,
		``,
	} {
		if _, ok := decodeReply([]byte(line)); ok {
			t.Errorf("line %q should be skipped", line)
		}
	}
}

func TestConfigArgs(t *testing.T) {
	cfg := Config{Model: "haiku", ExtraArgs: []string{"--dangerously-skip-permissions"}}
	args := cfg.args()

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--input-format stream-json")
	assert.Contains(t, joined, "--output-format stream-json")
	assert.Contains(t, joined, "--model haiku")
	assert.Equal(t, "--dangerously-skip-permissions", args[len(args)-1])
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "claude", cfg.Command)
	assert.Equal(t, 16, cfg.ReplyBuffer)
}
