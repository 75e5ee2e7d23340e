package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// MemoryArchive is an in-memory Archive. It backs tests and the
// database-free development mode; production deployments use the postgres
// store.
type MemoryArchive struct {
	mu             sync.RWMutex
	items          []schema.Transmission
	index          map[uuid.UUID]int
	transcriptions map[uuid.UUID]schema.Transcription
	scanlists      map[string]schema.TalkgroupSet
	incidents      map[string]map[uuid.UUID]struct{}
}

// NewMemoryArchive returns an empty archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		index:          make(map[uuid.UUID]int),
		transcriptions: make(map[uuid.UUID]schema.Transcription),
		scanlists:      make(map[string]schema.TalkgroupSet),
		incidents:      make(map[string]map[uuid.UUID]struct{}),
	}
}

// SetScanlist registers the talkgroups a scanlist covers so scanlist scopes
// can be resolved against the archive.
func (a *MemoryArchive) SetScanlist(slug string, talkgroupSlugs ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanlists[slug] = schema.NewTalkgroupSet(talkgroupSlugs...)
}

// SetIncident registers the transmissions tagged into an incident.
func (a *MemoryArchive) SetIncident(slug string, ids ...uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	a.incidents[slug] = set
}

// Append stores the transmission, keeping the archive ordered by start time.
// Duplicate IDs are ignored.
func (a *MemoryArchive) Append(_ context.Context, tx schema.Transmission) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.index[tx.ID]; exists {
		return false, nil
	}
	at := sort.Search(len(a.items), func(i int) bool {
		return a.items[i].StartTime.After(tx.StartTime)
	})
	a.items = append(a.items, schema.Transmission{})
	copy(a.items[at+1:], a.items[at:])
	a.items[at] = tx
	for i := at; i < len(a.items); i++ {
		a.index[a.items[i].ID] = i
	}
	return true, nil
}

// AttachTranscription records a transcription once; later attempts for the
// same transmission are ignored.
func (a *MemoryArchive) AttachTranscription(_ context.Context, tr schema.Transcription) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.index[tr.TransmissionID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := a.transcriptions[tr.TransmissionID]; exists {
		return nil
	}
	a.transcriptions[tr.TransmissionID] = tr
	a.items[i].Transcription = tr.Text
	return nil
}

// FetchRecent returns up to limit matching transmissions that started at or
// after cutoff, oldest first.
func (a *MemoryArchive) FetchRecent(_ context.Context, scope schema.ScopeKey, cutoff time.Time, limit int) ([]schema.Transmission, error) {
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	var matched []schema.Transmission
	for _, tx := range a.items {
		if !cutoff.IsZero() && tx.StartTime.Before(cutoff) {
			continue
		}
		if a.matchesLocked(scope, tx) {
			matched = append(matched, tx)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]schema.Transmission, len(matched))
	copy(out, matched)
	return out, nil
}

func (a *MemoryArchive) matchesLocked(scope schema.ScopeKey, tx schema.Transmission) bool {
	switch scope.Kind {
	case schema.ScopeGlobal:
		return true
	case schema.ScopeTalkgroup:
		return tx.TalkgroupSlug == scope.ID
	case schema.ScopeScanlist:
		return a.scanlists[scope.ID].Contains(tx.TalkgroupSlug)
	case schema.ScopeUnit:
		for _, slug := range tx.UnitSlugs {
			if slug == scope.ID {
				return true
			}
		}
		return false
	case schema.ScopeIncident:
		_, ok := a.incidents[scope.ID][tx.ID]
		return ok
	default:
		return false
	}
}
