package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// StaticDirectory is a Directory backed by in-memory maps. It serves the
// database-free development mode and tests; production uses the postgres
// directory cache.
type StaticDirectory struct {
	mu        sync.RWMutex
	scanlists map[string]schema.TalkgroupSet
	incidents map[string]map[uuid.UUID]struct{}
}

// NewStaticDirectory returns an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		scanlists: make(map[string]schema.TalkgroupSet),
		incidents: make(map[string]map[uuid.UUID]struct{}),
	}
}

// SetScanlist registers or replaces a scanlist's talkgroup membership.
func (d *StaticDirectory) SetScanlist(slug string, talkgroupSlugs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanlists[slug] = schema.NewTalkgroupSet(talkgroupSlugs...)
}

// SetIncident registers or replaces an incident's transmission membership.
func (d *StaticDirectory) SetIncident(slug string, ids ...uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	d.incidents[slug] = set
}

// ScanlistsWith returns the scanlists containing the talkgroup.
func (d *StaticDirectory) ScanlistsWith(talkgroupSlug string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for slug, set := range d.scanlists {
		if set.Contains(talkgroupSlug) {
			out = append(out, slug)
		}
	}
	return out
}

// IncidentsWith returns the incidents the transmission is tagged into.
func (d *StaticDirectory) IncidentsWith(txID uuid.UUID) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for slug, set := range d.incidents {
		if _, ok := set[txID]; ok {
			out = append(out, slug)
		}
	}
	return out
}
