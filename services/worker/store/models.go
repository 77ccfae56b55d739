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

// Pending message lifecycle states.
const (
	StatePending   = "pending"
	StateProcessed = "processed"
)

// Pending message kinds. Observation messages carry one tool call;
// summarize messages ask the analyzer to wrap the session up.
const (
	KindObservation = "observation"
	KindSummarize   = "summarize"
)

// Session is one assistant conversation as seen by the worker.
//
// The assistant-side id is the stable key: events arriving after a crash
// or restart find their session row by it and pick up the prompt counter
// where it left off. CompletedAtEpoch is set only when the session was
// summarized and shut down cleanly.
type Session struct {
	ID                int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID         string `gorm:"uniqueIndex;not null" json:"sessionId"`
	AnalyzerSessionID string `json:"analyzerSessionId"`
	Project           string `gorm:"index" json:"project"`
	UserPrompt        string `json:"userPrompt"`
	LastPromptNumber  int    `gorm:"default:1" json:"lastPromptNumber"`
	StartedAtEpoch    int64  `json:"startedAtEpoch"`
	CompletedAtEpoch  *int64 `json:"completedAtEpoch,omitempty"`
}

// PendingMessage is one durable queue entry awaiting analysis.
//
// Tool input and response are stored as opaque JSON blobs: the worker
// forwards them to the analyzer verbatim and never interprets them.
// Rows stay in state "pending" until the analyzer's reply for them has
// been fully persisted, so an interrupted session redelivers them.
type PendingMessage struct {
	ID                   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID            int64  `gorm:"index;not null" json:"sessionId"`
	Kind                 string `gorm:"not null" json:"kind"`
	ToolName             string `json:"toolName"`
	ToolInput            string `json:"toolInput"`
	ToolResponse         string `json:"toolResponse"`
	Cwd                  string `json:"cwd"`
	LastUserMessage      string `json:"lastUserMessage"`
	LastAssistantMessage string `json:"lastAssistantMessage"`
	PromptNumber         int    `json:"promptNumber"`
	State                string `gorm:"index;default:pending" json:"state"`
	CreatedAtEpoch       int64  `json:"createdAtEpoch"`
}

// Observation is one unit of extracted memory.
//
// Facts, Concepts, FilesRead and FilesModified hold JSON array strings
// exactly as assembled from the analyzer's reply. DiscoveryTokens is the
// token delta of the reply that produced this observation; when one reply
// produced several observations they all carry the same delta.
type Observation struct {
	ID              int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID       string `gorm:"index;not null" json:"sessionId"`
	Project         string `gorm:"index" json:"project"`
	Type            string `gorm:"index" json:"type"`
	Title           string `json:"title"`
	Subtitle        string `json:"subtitle"`
	Narrative       string `json:"narrative"`
	Text            string `json:"text"`
	Facts           string `json:"facts"`
	Concepts        string `json:"concepts"`
	FilesRead       string `json:"filesRead"`
	FilesModified   string `json:"filesModified"`
	PromptNumber    int    `json:"promptNumber"`
	DiscoveryTokens int64  `json:"discoveryTokens"`
	CreatedAtEpoch  int64  `gorm:"index" json:"createdAtEpoch"`
}

// Summary is the analyzer's wrap-up of a whole session.
type Summary struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string `gorm:"index;not null" json:"sessionId"`
	Project        string `gorm:"index" json:"project"`
	Request        string `json:"request"`
	Investigated   string `json:"investigated"`
	Learned        string `json:"learned"`
	Completed      string `json:"completed"`
	NextSteps      string `json:"nextSteps"`
	Notes          string `json:"notes"`
	PromptNumber   int    `json:"promptNumber"`
	CreatedAtEpoch int64  `gorm:"index" json:"createdAtEpoch"`
}

// UserPrompt records the text the user typed to start each prompt cycle.
type UserPrompt struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string `gorm:"index;not null" json:"sessionId"`
	Project        string `gorm:"index" json:"project"`
	PromptNumber   int    `json:"promptNumber"`
	Text           string `json:"text"`
	CreatedAtEpoch int64  `gorm:"index" json:"createdAtEpoch"`
}
