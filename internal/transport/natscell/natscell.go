// Package natscell implements the cellular sync channel over NATS. Each
// document is published to a share-scoped subject; peers subscribed to
// the same subjects ingest what arrives.
package natscell

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/openchw/meshdoc/internal/transport"
	"github.com/openchw/meshdoc/pkg/model"
)

// Config configures the NATS connection.
type Config struct {
	URL string `yaml:"url"`
	// SubjectPrefix namespaces this deployment's sync traffic.
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig returns the local development defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "meshdoc.sync",
	}
}

// Transport is the cellular channel. Uncapped: cellular sessions send
// the whole backlog.
type Transport struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect dials NATS and wraps the connection. The connection retries
// in the background, so a temporarily unreachable broker is not fatal.
func Connect(cfg Config, logger *slog.Logger) (*Transport, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return NewTransport(conn, cfg.SubjectPrefix, logger), nil
}

// NewTransport wraps an existing connection.
func NewTransport(conn *nats.Conn, prefix string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		conn:   conn,
		prefix: prefix,
		logger: logger.With("component", "natscell"),
	}
}

func (t *Transport) Kind() transport.Kind { return transport.KindCellular }
func (t *Transport) Cap() int             { return 0 }

// Reachable reflects the live connection state.
func (t *Transport) Reachable() bool {
	return t.conn != nil && t.conn.IsConnected()
}

// subjectFor maps a document's share to a publish subject. NATS subject
// tokens cannot contain the address separator characters.
func (t *Transport) subjectFor(doc model.Document) string {
	share := strings.NewReplacer("+", "", ".", "_").Replace(doc.Share)
	return t.prefix + "." + share
}

// Send publishes each document and flushes within the caller's deadline.
func (t *Transport) Send(ctx context.Context, docs []model.Document) (transport.Result, error) {
	if !t.Reachable() {
		return transport.Result{}, model.ErrUnreachable
	}
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return transport.Result{}, fmt.Errorf("failed to encode document: %w", err)
		}
		if err := t.conn.Publish(t.subjectFor(doc), data); err != nil {
			return transport.Result{}, fmt.Errorf("publish failed: %w", err)
		}
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return transport.Result{}, fmt.Errorf("flush failed: %w", err)
	}
	return transport.Result{Delivered: len(docs)}, nil
}

// Close drains the connection.
func (t *Transport) Close() {
	if t.conn != nil {
		t.conn.Close()
	}
}
