// Package transport abstracts the channels a replica can sync over.
// Proximity radio, cellular, and SMS are interchangeable implementations
// of one contract; the coordinator treats them uniformly.
package transport

import (
	"context"

	"github.com/openchw/meshdoc/pkg/model"
)

// Kind identifies a transport class. One sync session may run per kind
// at a time.
type Kind string

const (
	KindProximity Kind = "proximity"
	KindCellular  Kind = "cellular"
	KindSMS       Kind = "sms"
	KindManual    Kind = "manual"
)

// Result reports what a send delivered.
type Result struct {
	Delivered int
}

// Transport is one sync channel. Send either delivers the batch or
// fails as a unit; partial delivery is reported through Result.
type Transport interface {
	// Kind returns the transport class.
	Kind() Kind

	// Cap returns the per-session document limit, 0 for uncapped.
	Cap() int

	// Reachable reports whether the channel currently has connectivity.
	Reachable() bool

	// Send transmits documents to peers. It must honor ctx cancellation
	// and return within the caller's deadline.
	Send(ctx context.Context, docs []model.Document) (Result, error)
}

// Limit applies a transport's document cap to an ordered batch.
func Limit(t Transport, docs []model.Document) []model.Document {
	if c := t.Cap(); c > 0 && len(docs) > c {
		return docs[:c]
	}
	return docs
}
