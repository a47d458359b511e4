// Package proximity implements the short-range peer channel over a
// websocket link to a nearby device. Bandwidth is limited, so sessions
// are capped to a small batch.
package proximity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/openchw/meshdoc/internal/transport"
	"github.com/openchw/meshdoc/pkg/model"
)

// DefaultCap limits one proximity session's batch.
const DefaultCap = 10

// Config configures the peer link.
type Config struct {
	// PeerURL is the ws:// endpoint of the nearby replica.
	PeerURL string `yaml:"peer_url"`
	// ListenAddr, when set, accepts inbound peer sessions.
	ListenAddr string `yaml:"listen_addr"`
	// Cap overrides the per-session document limit.
	Cap int `yaml:"cap"`
}

// DefaultConfig returns an unconfigured (unreachable) peer link.
func DefaultConfig() Config {
	return Config{Cap: DefaultCap}
}

type ack struct {
	Delivered int `json:"delivered"`
}

// Transport dials the peer per session, pushes the batch, and waits for
// a delivery acknowledgment.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// New builds the proximity channel.
func New(cfg Config, logger *slog.Logger) *Transport {
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "proximity"),
	}
}

func (t *Transport) Kind() transport.Kind { return transport.KindProximity }
func (t *Transport) Cap() int             { return t.cfg.Cap }

// Reachable reports whether a peer endpoint is configured. Actual link
// state is only known when dialing.
func (t *Transport) Reachable() bool {
	return t.cfg.PeerURL != ""
}

// Send dials the peer, writes the batch as one JSON message, and reads
// back the delivered count.
func (t *Transport) Send(ctx context.Context, docs []model.Document) (transport.Result, error) {
	if !t.Reachable() {
		return transport.Result{}, model.ErrUnreachable
	}
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.PeerURL, nil)
	if err != nil {
		return transport.Result{}, fmt.Errorf("failed to dial peer: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}

	if err := conn.WriteJSON(docs); err != nil {
		return transport.Result{}, fmt.Errorf("failed to send batch: %w", err)
	}
	var a ack
	if err := conn.ReadJSON(&a); err != nil {
		return transport.Result{}, fmt.Errorf("no acknowledgment from peer: %w", err)
	}
	t.logger.Debug("proximity batch delivered", "sent", len(docs), "acked", a.Delivered)
	return transport.Result{Delivered: a.Delivered}, nil
}
