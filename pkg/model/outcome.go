package model

// OutcomeStatus classifies the result of an ingestion attempt.
type OutcomeStatus string

const (
	// Accepted means the document is now live and queued for sync.
	Accepted OutcomeStatus = "accepted"
	// Ignored means the document was valid but changed nothing (staleness
	// is not an error).
	Ignored OutcomeStatus = "ignored"
	// Rejected means the document failed validation and was discarded.
	Rejected OutcomeStatus = "rejected"
)

// Rejection and ignore reasons, in validation order.
const (
	ReasonBadFormat       = "bad-format"
	ReasonForbidden       = "forbidden"
	ReasonFutureTimestamp = "future-timestamp"
	ReasonExpired         = "expired"
	ReasonMissingExpiry   = "missing-expiry"
	ReasonBadSignature    = "bad-signature"
	ReasonObsolete        = "obsolete"
)

// IngestOutcome is the structured result of Store.Ingest. Rejections are
// reported here rather than as errors so a sync session can count them
// without aborting.
type IngestOutcome struct {
	Status OutcomeStatus
	Reason string
}

func Accept() IngestOutcome {
	return IngestOutcome{Status: Accepted}
}

func Ignore(reason string) IngestOutcome {
	return IngestOutcome{Status: Ignored, Reason: reason}
}

func Reject(reason string) IngestOutcome {
	return IngestOutcome{Status: Rejected, Reason: reason}
}

// Accepted reports whether the document became live.
func (o IngestOutcome) Accepted() bool {
	return o.Status == Accepted
}
