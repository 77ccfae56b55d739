// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector mirrors persisted records into a Weaviate index and
// serves the search endpoint over it.
//
// The mirror is strictly best-effort: writes run in background
// goroutines, failures are logged and counted, and a missing or
// unreachable Weaviate degrades the worker to store-only operation.
// Object ids are derived deterministically from the store row, so
// re-syncing after a crash overwrites instead of duplicating.
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Weaviate class names for the two mirrored record kinds.
const (
	ObservationClassName = "EngramObservation"
	SummaryClassName     = "EngramSummary"
)

// DefaultConnectTimeout bounds the readiness probe at startup.
const DefaultConnectTimeout = 15 * time.Second

// syncTimeout bounds one background index write.
const syncTimeout = 10 * time.Second

// ErrDisabled is returned by query methods when no index is configured.
var ErrDisabled = errors.New("vector index disabled")

// idNamespace seeds the deterministic object ids.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://engramlabs.io/index"))

// Config describes the Weaviate instance to mirror into.
type Config struct {
	// Scheme is "http" or "https". Defaults to "http".
	Scheme string

	// Host is host:port. Empty disables the index entirely.
	Host string

	// Vectorizer names the module the classes are created with. Empty
	// means "none": objects carry no vectors and search runs BM25.
	Vectorizer string

	// ConnectTimeout bounds the readiness probe. Defaults to
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// Index is the Weaviate mirror. The zero value and Disabled() are safe
// no-op indexes.
//
// Thread Safety: all methods are safe for concurrent use.
type Index struct {
	client     *weaviate.Client
	vectorizer string
	wg         sync.WaitGroup
}

// Disabled returns an index whose sync methods do nothing and whose
// Search returns ErrDisabled.
func Disabled() *Index {
	return &Index{}
}

// Enabled reports whether the index has a live client behind it.
func (ix *Index) Enabled() bool {
	return ix != nil && ix.client != nil
}

// Connect builds a client for cfg, waits for the instance to report
// ready, and ensures the two classes exist.
//
// # Outputs
//
//   - *Index: live index, or a disabled one when cfg.Host is empty.
//   - error: client construction failed, the instance did not become
//     ready within the timeout, or schema creation failed.
func Connect(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.Host == "" {
		return Disabled(), nil
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Scheme: cfg.Scheme,
		Host:   cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(readyCtx, client); err != nil {
		return nil, fmt.Errorf("weaviate at %s://%s not ready: %w", cfg.Scheme, cfg.Host, err)
	}

	ix := &Index{client: client, vectorizer: cfg.Vectorizer}
	if err := ix.ensureSchema(readyCtx); err != nil {
		return nil, err
	}

	slog.Info("vector index connected", "host", cfg.Host, "vectorizer", displayVectorizer(cfg.Vectorizer))
	return ix, nil
}

func displayVectorizer(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

// waitForReady polls the readiness endpoint until it answers or ctx
// expires.
func waitForReady(ctx context.Context, client *weaviate.Client) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		ready, err := client.Misc().ReadyChecker().Do(ctx)
		if err == nil && ready {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("%w (last probe: %v)", ctx.Err(), err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close waits for in-flight background writes, up to ctx's deadline.
func (ix *Index) Close(ctx context.Context) error {
	if !ix.Enabled() {
		return nil
	}
	done := make(chan struct{})
	go func() {
		ix.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("vector syncs still in flight: %w", ctx.Err())
	}
}

// ensureSchema creates the observation and summary classes when they do
// not exist yet. Idempotent.
func (ix *Index) ensureSchema(ctx context.Context) error {
	for _, class := range []*models.Class{
		ix.observationClass(),
		ix.summaryClass(),
	} {
		if _, err := ix.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
			continue
		}
		if err := ix.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("create class %s: %w", class.Class, err)
		}
		slog.Info("created vector class", "class", class.Class)
	}
	return nil
}

func (ix *Index) observationClass() *models.Class {
	return &models.Class{
		Class:       ObservationClassName,
		Description: "Distilled observations mirrored from the worker's store",
		Vectorizer:  ix.schemaVectorizer(),
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			textProp("recordId", "Store row id, as text for exact lookup", "field"),
			textProp("sessionId", "Assistant session id", "field"),
			textProp("project", "Project name", "field"),
			textProp("kind", "Observation type tag", "field"),
			textProp("title", "One-line finding", "word"),
			textProp("subtitle", "Optional qualifier", "word"),
			textProp("narrative", "Long-form finding", "word"),
			textProp("facts", "Atomic facts, JSON array text", "word"),
			textProp("concepts", "Keywords, JSON array text", "word"),
			textProp("filesRead", "Paths read, JSON array text", "word"),
			textProp("filesModified", "Paths modified, JSON array text", "word"),
			intProp("promptNumber", "Prompt cycle the finding came from"),
			intProp("createdAtEpoch", "Insert time, epoch milliseconds"),
			intProp("discoveryTokens", "Analyzer tokens behind the finding"),
		},
	}
}

func (ix *Index) summaryClass() *models.Class {
	return &models.Class{
		Class:       SummaryClassName,
		Description: "Session wrap-ups mirrored from the worker's store",
		Vectorizer:  ix.schemaVectorizer(),
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			textProp("recordId", "Store row id, as text for exact lookup", "field"),
			textProp("sessionId", "Assistant session id", "field"),
			textProp("project", "Project name", "field"),
			textProp("request", "What the user asked for", "word"),
			textProp("investigated", "What was examined", "word"),
			textProp("learned", "What was discovered", "word"),
			textProp("completed", "What was finished", "word"),
			textProp("nextSteps", "What remains", "word"),
			textProp("notes", "Anything else worth keeping", "word"),
			intProp("promptNumber", "Prompt cycle the session ended on"),
			intProp("createdAtEpoch", "Insert time, epoch milliseconds"),
		},
	}
}

func (ix *Index) schemaVectorizer() string {
	if ix.vectorizer == "" {
		return "none"
	}
	return ix.vectorizer
}

func textProp(name, description, tokenization string) *models.Property {
	return &models.Property{
		Name:         name,
		DataType:     []string{"text"},
		Description:  description,
		Tokenization: tokenization,
	}
}

func intProp(name, description string) *models.Property {
	return &models.Property{
		Name:        name,
		DataType:    []string{"int"},
		Description: description,
	}
}

// observationID derives the stable object id for a store row.
func observationID(rowID int64) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("observation/%d", rowID))).String()
}

// summaryID derives the stable object id for a store row.
func summaryID(rowID int64) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("summary/%d", rowID))).String()
}
