package proximity

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/openchw/meshdoc/pkg/model"
)

// IngestFunc hands an inbound document to the local replica.
type IngestFunc func(model.Document) model.IngestOutcome

// Server accepts inbound peer sessions: one batch per connection,
// acknowledged with the number of documents processed. Invalid documents
// count as processed; the sender must not retry them.
type Server struct {
	ingest   IngestFunc
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer builds the inbound half of the peer link.
func NewServer(ingest IngestFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ingest: ingest,
		logger: logger.With("component", "proximity"),
	}
}

// ServeHTTP upgrades the connection, ingests the batch, and acks.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("peer upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	var docs []model.Document
	if err := conn.ReadJSON(&docs); err != nil {
		s.logger.Warn("bad peer batch", "remote", r.RemoteAddr, "error", err)
		return
	}

	accepted := 0
	for _, doc := range docs {
		if s.ingest(doc).Accepted() {
			accepted++
		}
	}
	s.logger.Info("peer batch received", "remote", r.RemoteAddr, "documents", len(docs), "accepted", accepted)

	if err := conn.WriteJSON(ack{Delivered: len(docs)}); err != nil {
		s.logger.Warn("ack failed", "remote", r.RemoteAddr, "error", err)
	}
}
