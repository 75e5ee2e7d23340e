// Package access decides which transmissions a subscriber may see and how far
// back in history they may look.
package access

import (
	"time"

	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// Policy is a pure decision function over a cached subscriber identity and a
// transmission. It holds no per-request state; identities are resolved once at
// connect time so the hot path stays allocation-free.
type Policy struct {
	// Restrict enables talkgroup-set enforcement for authenticated
	// subscribers. Anonymous subscribers are limited to public talkgroups
	// regardless of this flag.
	Restrict bool

	// AnonymousHistory bounds look-back for anonymous or planless
	// subscribers. Zero means no history for them at all.
	AnonymousHistory time.Duration
}

// Permits reports whether the subscriber may see the transmission.
func (p Policy) Permits(id schema.Identity, tx schema.Transmission) bool {
	return p.PermitsTalkgroup(id, tx.TalkgroupSlug, tx.TalkgroupPublic)
}

// PermitsTalkgroup reports whether the subscriber may see traffic on the
// talkgroup.
func (p Policy) PermitsTalkgroup(id schema.Identity, slug string, public bool) bool {
	if id.Anonymous {
		return public
	}
	if !p.Restrict || id.Unrestricted {
		return true
	}
	return id.Talkgroups.Contains(slug)
}

// MaxHistoryAge returns the look-back window for the subscriber and whether it
// is bounded. Unbounded plans report bounded=false.
func (p Policy) MaxHistoryAge(id schema.Identity) (maxAge time.Duration, bounded bool) {
	if id.Anonymous || id.Plan == nil {
		return p.AnonymousHistory, true
	}
	if id.Plan.Unbounded() {
		return 0, false
	}
	return id.Plan.HistoryLimit, true
}

// HistoryCutoff returns the oldest permitted start time relative to now, or the
// zero time when look-back is unbounded.
func (p Policy) HistoryCutoff(id schema.Identity, now time.Time) time.Time {
	maxAge, bounded := p.MaxHistoryAge(id)
	if !bounded {
		return time.Time{}
	}
	return now.Add(-maxAge)
}
