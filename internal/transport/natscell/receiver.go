package natscell

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/openchw/meshdoc/pkg/model"
)

// IngestFunc hands an inbound document to the local replica.
type IngestFunc func(model.Document) model.IngestOutcome

// Subscribe consumes peer sync traffic beneath the subject prefix and
// ingests every decodable document. Rejections are counted by the store,
// never fatal. The subscription lives until ctx is cancelled.
func (t *Transport) Subscribe(ctx context.Context, ingest IngestFunc) error {
	sub, err := t.conn.Subscribe(t.prefix+".>", func(msg *nats.Msg) {
		var doc model.Document
		if err := json.Unmarshal(msg.Data, &doc); err != nil {
			t.logger.Warn("dropping undecodable sync message", "subject", msg.Subject, "error", err)
			return
		}
		outcome := ingest(doc)
		t.logger.Debug("peer document ingested",
			"path", doc.Path, "status", outcome.Status, "reason", outcome.Reason)
	})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}
