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
	"fmt"
	"strings"
)

// FrameKind selects which prompt template a Frame renders to.
type FrameKind int

const (
	// FrameInit opens a brand new analyzer conversation: role
	// instructions plus the project and the user's first prompt.
	FrameInit FrameKind = iota

	// FrameContinuation opens an analyzer conversation for a session
	// that already has history in the store.
	FrameContinuation

	// FrameObservation forwards one tool call for analysis.
	FrameObservation

	// FrameSummarize asks the analyzer to wrap the session up.
	FrameSummarize
)

// Frame is one logical message to the analyzer. Which fields are
// meaningful depends on Kind; unused fields are ignored by the template.
type Frame struct {
	Kind FrameKind

	Project      string
	UserPrompt   string
	PromptNumber int

	// Observation frames. ToolInput and ToolResponse are opaque JSON
	// blobs forwarded verbatim.
	ToolName     string
	ToolInput    string
	ToolResponse string
	Cwd          string

	// Summarize frames.
	LastUserMessage      string
	LastAssistantMessage string
}

// instructions is sent with init and continuation frames. It defines the
// reply envelope the parser understands.
const instructions = `You are a silent memory analyzer for a coding session. You receive tool
calls made by a coding agent and extract durable knowledge from them.

For each tool call that reveals something worth remembering, reply with
one or more blocks in this exact envelope:

<observation>
  <type>decision|bugfix|feature|refactor|discovery|change</type>
  <title>one line</title>
  <subtitle>optional qualifier</subtitle>
  <narrative>what was learned, a short paragraph</narrative>
  <facts><fact>atomic fact</fact></facts>
  <concepts><concept>keyword</concept></concepts>
  <files_read><file>path</file></files_read>
  <files_modified><file>path</file></files_modified>
</observation>

If a tool call reveals nothing new, reply with nothing. Never add prose
outside the envelope. When the session ends you will receive a
<session-end> message; reply once with:

<summary>
  <request>what the user asked for</request>
  <investigated>what was examined</investigated>
  <learned>what was discovered</learned>
  <completed>what was finished</completed>
  <next_steps>what remains</next_steps>
  <notes>anything else worth keeping</notes>
</summary>`

// Body renders the frame's prompt text.
func (f Frame) Body() string {
	var b strings.Builder
	switch f.Kind {
	case FrameInit:
		b.WriteString(instructions)
		b.WriteString("\n\n<session-start>\n")
		tag(&b, "project", f.Project)
		tag(&b, "user-prompt", f.UserPrompt)
		b.WriteString("</session-start>")
	case FrameContinuation:
		b.WriteString(instructions)
		b.WriteString("\n\n<session-continue>\n")
		tag(&b, "project", f.Project)
		tag(&b, "prompt-number", fmt.Sprintf("%d", f.PromptNumber))
		tag(&b, "user-prompt", f.UserPrompt)
		b.WriteString("</session-continue>")
	case FrameObservation:
		b.WriteString("<tool-call>\n")
		tag(&b, "tool", f.ToolName)
		tag(&b, "input", f.ToolInput)
		tag(&b, "response", f.ToolResponse)
		tag(&b, "cwd", f.Cwd)
		b.WriteString("</tool-call>")
	case FrameSummarize:
		b.WriteString("<session-end>\n")
		tag(&b, "last-user-message", f.LastUserMessage)
		tag(&b, "last-assistant-message", f.LastAssistantMessage)
		b.WriteString("</session-end>")
	}
	return b.String()
}

func tag(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteString("  <")
	b.WriteString(name)
	b.WriteString(">")
	b.WriteString(value)
	b.WriteString("</")
	b.WriteString(name)
	b.WriteString(">\n")
}

// Wire structures for the analyzer's NDJSON stream protocol. Outbound
// lines are user messages; inbound lines are system, assistant or
// result envelopes.

type outboundMessage struct {
	Type    string      `json:"type"`
	Message messageBody `json:"message"`
}

type messageBody struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inboundEnvelope struct {
	Type      string            `json:"type"`
	Subtype   string            `json:"subtype,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Message   *assistantMessage `json:"message,omitempty"`
}

type assistantMessage struct {
	Content []contentBlock `json:"content"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// Usage is the token accounting block attached to assistant replies.
// Cache reads are reported but deliberately excluded from the worker's
// cumulative counters; see the session package.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// IsZero reports whether the reply carried no usage block.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// ReplyKind classifies inbound analyzer lines the worker cares about.
type ReplyKind int

const (
	// ReplyInit is the analyzer announcing its conversation id.
	ReplyInit ReplyKind = iota

	// ReplyAssistant is analyzer output text plus token usage.
	ReplyAssistant

	// ReplyResult closes one analyzer turn.
	ReplyResult
)

// Reply is one decoded inbound line.
type Reply struct {
	Kind      ReplyKind
	SessionID string
	Text      string
	Usage     Usage
}

// encodeFrame renders a frame as one NDJSON line, without the trailing
// newline.
func encodeFrame(f Frame) ([]byte, error) {
	msg := outboundMessage{
		Type: "user",
		Message: messageBody{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: f.Body()}},
		},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}

// decodeReply parses one inbound line. Lines the worker does not act on
// (user echoes, unknown types, malformed JSON) return ok=false and are
// skipped by the reader.
func decodeReply(line []byte) (Reply, bool) {
	var env inboundEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Reply{}, false
	}

	switch env.Type {
	case "system":
		if env.Subtype != "init" {
			return Reply{}, false
		}
		return Reply{Kind: ReplyInit, SessionID: env.SessionID}, true
	case "assistant":
		r := Reply{Kind: ReplyAssistant, SessionID: env.SessionID}
		if env.Message != nil {
			var text strings.Builder
			for _, c := range env.Message.Content {
				if c.Type == "text" {
					text.WriteString(c.Text)
				}
			}
			r.Text = text.String()
			if env.Message.Usage != nil {
				r.Usage = *env.Message.Usage
			}
		}
		return r, true
	case "result":
		return Reply{Kind: ReplyResult, SessionID: env.SessionID}, true
	default:
		return Reply{}, false
	}
}
