package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/openchw/meshdoc/internal/core/store/persist"
	"github.com/openchw/meshdoc/internal/metrics"
	"github.com/openchw/meshdoc/internal/transport"
	"github.com/openchw/meshdoc/pkg/model"
)

// Escalator pushes urgent documents out over every channel at once and
// keeps retrying while the node is offline. It never blocks ingestion:
// escalation runs on its own goroutines.
type Escalator struct {
	coord   *Coordinator
	sms     transport.Transport
	records *persist.Store
	cfg     Config
	logger  *slog.Logger

	mu      gosync.Mutex
	retries map[string]context.CancelFunc

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      gosync.WaitGroup
}

// NewEscalator builds an escalator. The sms transport may be nil when
// no gateway is configured; records must be non-nil so offline
// emergencies survive a restart.
func NewEscalator(cfg Config, coord *Coordinator, sms transport.Transport, records *persist.Store, logger *slog.Logger) *Escalator {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig().RetryInterval
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultConfig().SessionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Escalator{
		coord:   coord,
		sms:     sms,
		records: records,
		cfg:     cfg,
		logger:  logger.With("component", "escalate"),
		retries: make(map[string]context.CancelFunc),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// IsUrgent reports whether a document warrants escalation.
func IsUrgent(doc model.Document) bool {
	if doc.IsEmergency() {
		return true
	}
	switch doc.Urgency() {
	case "high", "emergency":
		return true
	}
	return false
}

// HandleAccepted is the store acceptance hook. Urgent documents start an
// escalation in the background; everything else is left to the normal
// sync cadence.
func (e *Escalator) HandleAccepted(doc model.Document) {
	if !IsUrgent(doc) {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.Escalate(e.baseCtx, doc); err != nil {
			e.logger.Warn("escalation deferred", "path", doc.Path, "error", err)
		}
	}()
}

// Escalate attempts every available channel concurrently and returns
// the kind of the first one to succeed. When all channels fail the
// document is recorded durably and a retry loop takes over; the
// returned error is the last channel failure.
func (e *Escalator) Escalate(ctx context.Context, doc model.Document) (transport.Kind, error) {
	type attempt struct {
		kind transport.Kind
		err  error
	}

	// Buffered to the number of attempts so losers never block after the
	// winner returns. Stragglers run to completion; a duplicate delivery
	// is harmless, a cancelled half-sent batch is not.
	results := make(chan attempt, 3)
	launched := 0

	run := func(kind transport.Kind, fn func(context.Context) error) {
		launched++
		go func() {
			results <- attempt{kind: kind, err: fn(ctx)}
		}()
	}

	run(transport.KindProximity, func(ctx context.Context) error {
		_, err := e.coord.RunSession(ctx, transport.KindProximity)
		return err
	})
	run(transport.KindCellular, func(ctx context.Context) error {
		_, err := e.coord.RunSession(ctx, transport.KindCellular)
		return err
	})
	if e.sms != nil {
		run(transport.KindSMS, func(ctx context.Context) error {
			smsCtx, cancel := context.WithTimeout(ctx, e.cfg.SessionTimeout)
			defer cancel()
			_, err := e.sms.Send(smsCtx, []model.Document{doc})
			return err
		})
	}

	var lastErr error
	for i := 0; i < launched; i++ {
		res := <-results
		if res.err == nil {
			metrics.Escalations.WithLabelValues("delivered").Inc()
			e.logger.Info("emergency delivered", "path", doc.Path, "transport", res.kind)
			return res.kind, nil
		}
		lastErr = res.err
	}

	metrics.Escalations.WithLabelValues("exhausted").Inc()
	e.logger.Warn("all escalation channels failed", "path", doc.Path, "error", lastErr)

	rec := persist.NewPendingRecord(doc)
	if err := e.records.PutPending(rec); err != nil {
		return "", fmt.Errorf("failed to record pending emergency: %w", err)
	}
	metrics.PendingEmergencies.Inc()
	e.startRetry(rec)
	return "", lastErr
}

// ResumePending restarts retry loops for emergencies recorded before a
// restart. Call once after the store is open.
func (e *Escalator) ResumePending() error {
	recs, err := e.records.Pendings()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		metrics.PendingEmergencies.Inc()
		e.startRetry(rec)
	}
	if len(recs) > 0 {
		e.logger.Info("resumed pending emergencies", "count", len(recs))
	}
	return nil
}

// StopRetry cancels the retry loop for one record, for manual handling.
func (e *Escalator) StopRetry(id string) {
	e.mu.Lock()
	cancel, ok := e.retries[id]
	delete(e.retries, id)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Escalator) startRetry(rec persist.PendingRecord) {
	e.mu.Lock()
	if _, exists := e.retries[rec.ID]; exists {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.retries[rec.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.StopRetry(rec.ID)
		ticker := time.NewTicker(e.cfg.RetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.coord.RunSession(ctx, transport.KindCellular); err != nil {
					rec.RetryCount++
					if perr := e.records.PutPending(rec); perr != nil {
						e.logger.Error("failed to update pending record", "id", rec.ID, "error", perr)
					}
					e.logger.Debug("emergency retry failed", "id", rec.ID, "attempt", rec.RetryCount, "error", err)
					continue
				}
				if err := e.records.DeletePending(rec.ID); err != nil {
					e.logger.Error("failed to clear pending record", "id", rec.ID, "error", err)
				}
				metrics.PendingEmergencies.Dec()
				metrics.Escalations.WithLabelValues("retried").Inc()
				e.logger.Info("pending emergency delivered", "id", rec.ID, "attempts", rec.RetryCount+1)
				return
			}
		}
	}()
}

// Close cancels all retry loops and waits for escalation goroutines.
func (e *Escalator) Close() {
	e.cancel()
	e.wg.Wait()
}
