package sync

import (
	"time"

	"github.com/openchw/meshdoc/internal/transport"
)

// maxRecentErrors bounds the status error log; the oldest entry is
// dropped when full.
const maxRecentErrors = 5

// Status is the process-wide sync state. One instance lives inside the
// Coordinator, which is the only writer; observers get copies.
type Status struct {
	LastSync     time.Time
	Transport    transport.Kind
	Transferred  int
	RecentErrors []string
	Reachable    bool
}

func (s *Status) appendError(msg string) {
	s.RecentErrors = append(s.RecentErrors, msg)
	if len(s.RecentErrors) > maxRecentErrors {
		s.RecentErrors = s.RecentErrors[len(s.RecentErrors)-maxRecentErrors:]
	}
}

func (s Status) clone() Status {
	errs := make([]string, len(s.RecentErrors))
	copy(errs, s.RecentErrors)
	s.RecentErrors = errs
	return s
}
