// Package sms is the last-resort channel: emergency documents are
// condensed into a short text message and handed to an external SMS
// gateway. Non-emergency documents are declined outright.
package sms

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/openchw/meshdoc/internal/transport"
	"github.com/openchw/meshdoc/pkg/model"
)

// Gateway is the external SMS hardware/provider boundary.
type Gateway interface {
	SendText(ctx context.Context, to, body string) error
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, to, body string) error

func (f GatewayFunc) SendText(ctx context.Context, to, body string) error {
	return f(ctx, to, body)
}

// Config configures the SMS channel.
type Config struct {
	// Recipient is the destination number, typically the block facility.
	Recipient string `yaml:"recipient"`
}

// condensed is the compact emergency form that fits an SMS payload.
type condensed struct {
	Type     string `json:"type"`
	Patient  string `json:"patient"`
	Location string `json:"location"`
	Urgency  string `json:"urgency"`
	Contact  string `json:"contact"`
}

// Transport condenses and sends emergency documents one at a time.
type Transport struct {
	cfg     Config
	gateway Gateway
	logger  *slog.Logger
}

// New builds the SMS channel around an external gateway.
func New(cfg Config, gw Gateway, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{cfg: cfg, gateway: gw, logger: logger.With("component", "sms")}
}

func (t *Transport) Kind() transport.Kind { return transport.KindSMS }

// Cap is 1: an SMS carries a single condensed document.
func (t *Transport) Cap() int { return 1 }

func (t *Transport) Reachable() bool {
	return t.gateway != nil && t.cfg.Recipient != ""
}

// Condense extracts the essential emergency fields. Returns false for
// documents outside the emergency path class.
func Condense(doc model.Document) (string, bool) {
	if !doc.IsEmergency() {
		return "", false
	}
	c := condensed{Type: "EMERGENCY"}
	if m := doc.Decode(); m != nil {
		c.Patient, _ = m["patient_ref"].(string)
		c.Location, _ = m["location"].(string)
		c.Urgency, _ = m["urgency_level"].(string)
		c.Contact, _ = m["contact"].(string)
	}
	body, err := json.Marshal(c)
	if err != nil {
		return "", false
	}
	return string(body), true
}

// Send delivers the emergency documents in the batch. If none qualify,
// the channel declines so the escalation race can fall through.
func (t *Transport) Send(ctx context.Context, docs []model.Document) (transport.Result, error) {
	if !t.Reachable() {
		return transport.Result{}, model.ErrUnreachable
	}
	delivered := 0
	for _, doc := range docs {
		body, ok := Condense(doc)
		if !ok {
			continue
		}
		if err := t.gateway.SendText(ctx, t.cfg.Recipient, body); err != nil {
			return transport.Result{Delivered: delivered}, err
		}
		t.logger.Info("emergency SMS sent", "path", doc.Path)
		delivered++
	}
	if delivered == 0 {
		return transport.Result{}, model.ErrDeclined
	}
	return transport.Result{Delivered: delivered}, nil
}
