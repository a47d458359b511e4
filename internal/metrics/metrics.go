package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DocumentsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshdoc_documents_ingested_total",
		Help: "The total number of ingestion attempts by outcome",
	}, []string{"outcome"})

	SyncSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshdoc_sync_sessions_total",
		Help: "The total number of sync sessions by transport and result",
	}, []string{"transport", "result"})

	DocumentsTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshdoc_documents_transferred_total",
		Help: "The total number of documents transferred to peers",
	}, []string{"transport"})

	Escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshdoc_escalations_total",
		Help: "The total number of emergency escalations by result",
	}, []string{"result"})

	PendingEmergencies = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshdoc_pending_emergencies",
		Help: "The current number of undelivered emergency records",
	})
)

func init() {
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(SyncSessions)
	prometheus.MustRegister(DocumentsTransferred)
	prometheus.MustRegister(Escalations)
	prometheus.MustRegister(PendingEmergencies)
}
