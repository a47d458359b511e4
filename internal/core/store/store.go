// Package store is the single source of truth for locally known
// documents. It validates everything that enters the replica, resolves
// conflicts by last-writer-wins, and feeds the outbound sync backlog.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openchw/meshdoc/internal/core/authorize"
	"github.com/openchw/meshdoc/internal/identity"
	"github.com/openchw/meshdoc/internal/metrics"
	"github.com/openchw/meshdoc/pkg/model"
)

// Config tunes store behavior.
type Config struct {
	// ClockSkew is how far into the future a document timestamp may lie
	// before it is rejected.
	ClockSkew time.Duration `yaml:"clock_skew"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{ClockSkew: 5 * time.Minute}
}

// Filter selects documents for Query. Zero values mean "any". Before and
// After are exclusive microsecond bounds.
type Filter struct {
	PathGlob string
	Author   string
	Share    string
	After    int64
	Before   int64
}

// Store owns the document table. All mutation goes through Ingest, which
// fully serializes its validate-then-write step; Query reads a
// consistent snapshot and never blocks ingestion for long.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]model.Document
	backlog []model.Document

	authz    *authorize.Engine
	cfg      Config
	logger   *slog.Logger
	onAccept func(model.Document)

	// nowMicros is swappable for tests.
	nowMicros func() int64
}

// New builds an empty store gated by the given authorization engine.
func New(cfg Config, authz *authorize.Engine, logger *slog.Logger) *Store {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultConfig().ClockSkew
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		docs:      make(map[string]model.Document),
		authz:     authz,
		cfg:       cfg,
		logger:    logger.With("component", "store"),
		nowMicros: func() int64 { return time.Now().UnixMicro() },
	}
}

// OnAccept registers an observer invoked after every accepted ingestion,
// outside the store lock. Used to trigger emergency escalation. Must be
// called during wiring, before the first concurrent Ingest; the field is
// read without synchronization afterwards.
func (s *Store) OnAccept(fn func(model.Document)) {
	s.onAccept = fn
}

// Ingest validates a document and, if it wins its (author, path)
// register, makes it live and queues it for sync. All failures are
// outcome values; Ingest never returns an error.
func (s *Store) Ingest(doc model.Document) model.IngestOutcome {
	outcome := s.ingest(doc)
	metrics.DocumentsIngested.WithLabelValues(string(outcome.Status)).Inc()
	if outcome.Accepted() {
		s.logger.Debug("document accepted", "path", doc.Path, "author", doc.Author, "timestamp", doc.Timestamp)
		if s.onAccept != nil {
			s.onAccept(doc)
		}
	} else {
		s.logger.Debug("document not stored", "path", doc.Path, "status", outcome.Status, "reason", outcome.Reason)
	}
	return outcome
}

func (s *Store) ingest(doc model.Document) model.IngestOutcome {
	now := s.nowMicros()

	// Validation order is fixed; the first failure wins.
	if doc.Format != model.FormatVersion {
		return model.Reject(model.ReasonBadFormat)
	}
	if !s.authz.Authorize(doc.Path, doc.Author) {
		return model.Reject(model.ReasonForbidden)
	}
	if doc.Timestamp > now+s.cfg.ClockSkew.Microseconds() {
		return model.Reject(model.ReasonFutureTimestamp)
	}
	if doc.Expired(now) {
		return model.Reject(model.ReasonExpired)
	}
	if doc.IsEphemeral() && doc.Expiry == 0 {
		return model.Reject(model.ReasonMissingExpiry)
	}
	if !identity.VerifyDocument(doc) {
		return model.Reject(model.ReasonBadSignature)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := doc.Key()
	if existing, ok := s.docs[key]; ok && existing.Timestamp >= doc.Timestamp {
		// Re-ingesting the same or an older document never mutates state.
		return model.Ignore(model.ReasonObsolete)
	}
	s.docs[key] = doc
	s.backlog = append(s.backlog, doc)
	return model.Accept()
}

// Query returns live documents matching the filter, newest first, ties
// broken by path for determinism. Tombstoned documents are excluded.
func (s *Store) Query(f Filter) []model.Document {
	glob, err := compileGlob(f.PathGlob)
	if err != nil {
		return nil
	}
	now := s.nowMicros()

	s.mu.RLock()
	results := make([]model.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if doc.Expired(now) {
			continue
		}
		if glob != nil && !glob.MatchString(doc.Path) {
			continue
		}
		if f.Author != "" && doc.Author != f.Author {
			continue
		}
		if f.Share != "" && doc.Share != f.Share {
			continue
		}
		if f.After != 0 && doc.Timestamp <= f.After {
			continue
		}
		if f.Before != 0 && doc.Timestamp >= f.Before {
			continue
		}
		results = append(results, doc)
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Timestamp != results[j].Timestamp {
			return results[i].Timestamp > results[j].Timestamp
		}
		return results[i].Path < results[j].Path
	})
	return results
}

// Backlog returns a copy of the outbound backlog. The caller owns the
// snapshot; concurrent ingestion cannot race with it.
func (s *Store) Backlog() []model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Document, len(s.backlog))
	copy(out, s.backlog)
	return out
}

// BacklogLen reports the number of documents awaiting sync.
func (s *Store) BacklogLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.backlog)
}

// MarkSynced removes the given transmitted documents from the backlog.
// Only an explicit call clears backlog entries; nothing is dropped
// implicitly.
func (s *Store) MarkSynced(docs []model.Document) {
	if len(docs) == 0 {
		return
	}
	sent := make(map[string]int64, len(docs))
	for _, d := range docs {
		sent[d.Key()] = d.Timestamp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.backlog[:0]
	for _, d := range s.backlog {
		if ts, ok := sent[d.Key()]; ok && ts == d.Timestamp {
			continue
		}
		kept = append(kept, d)
	}
	s.backlog = kept
}

// All returns every live document, for export and persistence.
func (s *Store) All() []model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	return out
}

// Len reports the number of live documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
