// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package parse extracts structured observations and summaries from
// analyzer reply text.
//
// The analyzer is prompted to wrap its findings in a lightweight tag
// envelope, but it is a language model and the envelope arrives inside
// free-form prose, markdown fences, or not at all. Parsing is therefore
// total: any input yields a well-formed Result, malformed blocks are
// dropped, and missing fields get empty defaults. No error is ever
// returned and nothing here panics on hostile input.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// DefaultType is assigned to observations whose type tag is missing or
// unrecognized.
const DefaultType = "discovery"

var knownTypes = map[string]bool{
	"decision":  true,
	"bugfix":    true,
	"feature":   true,
	"refactor":  true,
	"discovery": true,
	"change":    true,
}

var (
	observationBlockRe = regexp.MustCompile(`(?s)<observation>(.*?)</observation>`)
	summaryBlockRe     = regexp.MustCompile(`(?s)<summary>(.*?)</summary>`)

	fieldRes = map[string]*regexp.Regexp{}
	itemRes  = map[string]*regexp.Regexp{}
)

func init() {
	fields := []string{
		"type", "title", "subtitle", "narrative",
		"facts", "concepts", "files_read", "files_modified",
		"request", "investigated", "learned", "completed", "next_steps", "notes",
	}
	for _, tag := range fields {
		fieldRes[tag] = regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
	}
	for _, tag := range []string{"fact", "concept", "file"} {
		itemRes[tag] = regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
	}
}

// Observation is one extracted memory record, prior to persistence.
// The list fields are JSON array strings and never empty: a missing or
// empty list encodes as "[]".
type Observation struct {
	Type          string
	Title         string
	Subtitle      string
	Narrative     string
	Text          string
	Facts         string
	Concepts      string
	FilesRead     string
	FilesModified string
}

// Summary is the analyzer's session wrap-up. Missing sections are empty
// strings.
type Summary struct {
	Request      string
	Investigated string
	Learned      string
	Completed    string
	NextSteps    string
	Notes        string
}

// Result is what one reply parsed into. Both fields may be empty: a
// reply with no recognizable envelope yields the zero Result.
type Result struct {
	Observations []Observation
	Summary      *Summary
}

// Empty reports whether the reply produced no records at all.
func (r Result) Empty() bool {
	return len(r.Observations) == 0 && r.Summary == nil
}

// Response parses one analyzer reply.
//
// Observation blocks missing both a title and a narrative carry no
// usable content and are dropped. When a reply contains more than one
// summary block, the first wins.
func Response(text string) Result {
	var res Result

	for _, m := range observationBlockRe.FindAllStringSubmatch(text, -1) {
		o := parseObservation(m[1])
		if o.Title == "" && o.Narrative == "" {
			continue
		}
		res.Observations = append(res.Observations, o)
	}

	if m := summaryBlockRe.FindStringSubmatch(text); m != nil {
		res.Summary = parseSummary(m[1])
	}

	return res
}

func parseObservation(block string) Observation {
	o := Observation{
		Type:          normalizeType(field(block, "type")),
		Title:         field(block, "title"),
		Subtitle:      field(block, "subtitle"),
		Narrative:     field(block, "narrative"),
		Facts:         itemList(block, "facts", "fact"),
		Concepts:      itemList(block, "concepts", "concept"),
		FilesRead:     itemList(block, "files_read", "file"),
		FilesModified: itemList(block, "files_modified", "file"),
	}
	o.Text = shortText(o.Title, o.Narrative)
	return o
}

func parseSummary(block string) *Summary {
	return &Summary{
		Request:      field(block, "request"),
		Investigated: field(block, "investigated"),
		Learned:      field(block, "learned"),
		Completed:    field(block, "completed"),
		NextSteps:    field(block, "next_steps"),
		Notes:        field(block, "notes"),
	}
}

// field returns the trimmed content of the first occurrence of a tag
// inside block, or "".
func field(block, tag string) string {
	re, ok := fieldRes[tag]
	if !ok {
		return ""
	}
	m := re.FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// itemList collects the inner items of a list tag into a JSON array
// string. Absent or empty lists encode as "[]".
func itemList(block, outer, inner string) string {
	const empty = "[]"
	section := field(block, outer)
	if section == "" {
		return empty
	}
	var items []string
	for _, m := range itemRes[inner].FindAllStringSubmatch(section, -1) {
		if v := strings.TrimSpace(m[1]); v != "" {
			items = append(items, v)
		}
	}
	if len(items) == 0 {
		return empty
	}
	b, err := json.Marshal(items)
	if err != nil {
		return empty
	}
	return string(b)
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if knownTypes[t] {
		return t
	}
	return DefaultType
}

// shortText derives the one-line display text for an observation: the
// title when present, otherwise the first line of the narrative.
func shortText(title, narrative string) string {
	if title != "" {
		return title
	}
	line := narrative
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}
