package sync

import (
	"sort"
	"strings"
	"time"

	"github.com/openchw/meshdoc/pkg/model"
)

// DefaultRecencyWindow is how far back a document still counts as
// "recent" for priority purposes.
const DefaultRecencyWindow = 24 * time.Hour

// Priority tiers, lower sorts first.
const (
	tierEmergency = iota
	tierRecent
	tierPendingReferral
	tierRest
)

// Prioritize orders a backlog snapshot for transmission: emergency
// documents first regardless of age, then documents inside the recency
// window, then referrals still pending, then everything else; each tier
// newest-first. The sort is stable and pure — the input is copied, the
// store is untouched.
func Prioritize(docs []model.Document, window time.Duration, now time.Time) []model.Document {
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	cutoff := now.Add(-window).UnixMicro()

	out := make([]model.Document, len(docs))
	copy(out, docs)

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := tierOf(out[i], cutoff), tierOf(out[j], cutoff)
		if ti != tj {
			return ti < tj
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

func tierOf(d model.Document, cutoff int64) int {
	switch {
	case d.IsEmergency():
		return tierEmergency
	case d.Timestamp > cutoff:
		return tierRecent
	case isPendingReferral(d):
		return tierPendingReferral
	default:
		return tierRest
	}
}

func isPendingReferral(d model.Document) bool {
	return strings.Contains(d.Path, "/referrals/") && d.ReferralStatus() == "pending"
}
