package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trunkwatch/trunkwatch/internal/observability"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// Directory answers scanlist and incident membership lookups from an
// in-memory view of the database, refreshed on an interval. Publish calls it
// on the fanout hot path, so lookups never touch the pool.
type Directory struct {
	store *Store

	mu        sync.RWMutex
	scanlists map[string]schema.TalkgroupSet
	incidents map[uuid.UUID][]string
}

// NewDirectory builds a directory over the store. Call Refresh before first
// use, then run Watch to keep the view current.
func NewDirectory(store *Store) *Directory {
	return &Directory{
		store:     store,
		scanlists: make(map[string]schema.TalkgroupSet),
		incidents: make(map[uuid.UUID][]string),
	}
}

// Refresh reloads the scanlist and incident membership view.
func (d *Directory) Refresh(ctx context.Context) error {
	scanlists := make(map[string]schema.TalkgroupSet)
	rows, err := d.store.pool.Query(ctx,
		`SELECT scanlist_slug, talkgroup_slug FROM scanlist_talkgroups`)
	if err != nil {
		return fmt.Errorf("load scanlist membership: %w", err)
	}
	for rows.Next() {
		var scanlist, talkgroup string
		if err := rows.Scan(&scanlist, &talkgroup); err != nil {
			rows.Close()
			return fmt.Errorf("scan scanlist membership: %w", err)
		}
		set, ok := scanlists[scanlist]
		if !ok {
			set = schema.NewTalkgroupSet()
			scanlists[scanlist] = set
		}
		set[talkgroup] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate scanlist membership: %w", err)
	}

	incidents := make(map[uuid.UUID][]string)
	rows, err = d.store.pool.Query(ctx,
		`SELECT incident_slug, transmission_id FROM incident_transmissions`)
	if err != nil {
		return fmt.Errorf("load incident membership: %w", err)
	}
	for rows.Next() {
		var incident string
		var txID uuid.UUID
		if err := rows.Scan(&incident, &txID); err != nil {
			rows.Close()
			return fmt.Errorf("scan incident membership: %w", err)
		}
		incidents[txID] = append(incidents[txID], incident)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate incident membership: %w", err)
	}

	d.mu.Lock()
	d.scanlists = scanlists
	d.incidents = incidents
	d.mu.Unlock()
	return nil
}

// Watch refreshes the view on the given interval until the context ends.
func (d *Directory) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
				observability.Log().Error("directory refresh failed",
					observability.Field{Key: "error", Value: err.Error()})
			}
		}
	}
}

// ScanlistsWith returns the scanlists containing the talkgroup.
func (d *Directory) ScanlistsWith(talkgroupSlug string) []string {
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
func (d *Directory) IncidentsWith(txID uuid.UUID) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.incidents[txID]
}
