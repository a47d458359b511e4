// Package persist is the pebble-backed durable layer beneath the
// in-memory replica: it snapshots the live document table across
// restarts and holds pending emergency records until a retry delivers
// them.
package persist

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/openchw/meshdoc/pkg/model"
)

const (
	prefixDoc     = "doc/"
	prefixPending = "pending/"
)

// Config configures the durable store.
type Config struct {
	// Path is the pebble database directory.
	Path string `yaml:"path"`
}

// DefaultConfig returns the default data location.
func DefaultConfig() Config {
	return Config{Path: "data/meshdoc.db"}
}

// Store wraps a single pebble database holding both key spaces.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
}

// Open opens (or creates) the durable store.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := pebble.Open(cfg.Path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "persist")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func docKey(doc model.Document) []byte {
	return []byte(prefixDoc + doc.Key())
}

// PutDocument durably stores a live document, replacing any prior
// version at the same (author, path).
func (s *Store) PutDocument(doc model.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return s.db.Set(docKey(doc), data, pebble.Sync)
}

// PutDocuments stores a batch of documents atomically.
func (s *Store) PutDocuments(docs []model.Document) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}
		if err := batch.Set(docKey(doc), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Documents loads every persisted document, for replica warm-up.
func (s *Store) Documents() ([]model.Document, error) {
	return scan[model.Document](s, prefixDoc)
}

// PendingRecord is the durable remnant of a failed emergency escalation:
// the essential fields extracted for manual or offline handling, plus a
// retry counter.
type PendingRecord struct {
	ID         string `json:"id"`
	Author     string `json:"author"`
	Path       string `json:"path"`
	Timestamp  int64  `json:"timestamp"`
	PatientRef string `json:"patient_ref,omitempty"`
	Urgency    string `json:"urgency,omitempty"`
	Location   string `json:"location,omitempty"`
	Contact    string `json:"contact,omitempty"`
	RetryCount int    `json:"retry_count"`
	CreatedAt  int64  `json:"created_at"`
}

// NewPendingRecord condenses a document into its offline-handling form.
// The key derives from the document timestamp so retries are idempotent.
func NewPendingRecord(doc model.Document) PendingRecord {
	rec := PendingRecord{
		ID:        fmt.Sprintf("emergency-%d", doc.Timestamp),
		Author:    doc.Author,
		Path:      doc.Path,
		Timestamp: doc.Timestamp,
		CreatedAt: time.Now().UnixMicro(),
	}
	if m := doc.Decode(); m != nil {
		rec.PatientRef, _ = m["patient_ref"].(string)
		rec.Urgency, _ = m["urgency_level"].(string)
		rec.Location, _ = m["location"].(string)
		rec.Contact, _ = m["contact"].(string)
	}
	return rec
}

// PutPending durably stores a pending emergency record.
func (s *Store) PutPending(rec PendingRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode pending record: %w", err)
	}
	return s.db.Set([]byte(prefixPending+rec.ID), data, pebble.Sync)
}

// GetPending loads one pending record.
func (s *Store) GetPending(id string) (PendingRecord, error) {
	value, closer, err := s.db.Get([]byte(prefixPending + id))
	if err == pebble.ErrNotFound {
		return PendingRecord{}, model.ErrNotFound
	}
	if err != nil {
		return PendingRecord{}, err
	}
	defer closer.Close()
	var rec PendingRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return PendingRecord{}, fmt.Errorf("failed to decode pending record: %w", err)
	}
	return rec, nil
}

// DeletePending removes a pending record once a retry has delivered it.
func (s *Store) DeletePending(id string) error {
	return s.db.Delete([]byte(prefixPending+id), pebble.Sync)
}

// Pendings lists all pending emergency records, for resuming retry
// loops after a restart.
func (s *Store) Pendings() ([]PendingRecord, error) {
	return scan[PendingRecord](s, prefixPending)
}

func scan[T any](s *Store, prefix string) ([]T, error) {
	lower := []byte(prefix)
	upper := make([]byte, len(lower))
	copy(upper, lower)
	upper[len(upper)-1]++

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			s.logger.Error("skipping corrupt record", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, v)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return out, nil
}
