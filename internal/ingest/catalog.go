package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// MemoryCatalog is an in-memory Catalog for tests and the database-free
// development mode.
type MemoryCatalog struct {
	mu         sync.Mutex
	talkgroups map[string]schema.Talkgroup
	units      map[string]schema.Unit
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		talkgroups: make(map[string]schema.Talkgroup),
		units:      make(map[string]schema.Unit),
	}
}

// PutTalkgroup pre-seeds a talkgroup, overriding auto-create defaults.
func (c *MemoryCatalog) PutTalkgroup(tg schema.Talkgroup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.talkgroups[catalogKey(tg.System, tg.DecimalID)] = tg
}

// EnsureTalkgroup returns the talkgroup, creating a public placeholder with
// a generated alpha tag on first sight.
func (c *MemoryCatalog) EnsureTalkgroup(_ context.Context, system string, decID int) (schema.Talkgroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := catalogKey(system, decID)
	if tg, ok := c.talkgroups[key]; ok {
		return tg, nil
	}
	tg := schema.Talkgroup{
		System:    system,
		DecimalID: decID,
		Slug:      Slugify(fmt.Sprintf("%s-tg-%d", system, decID)),
		AlphaTag:  fmt.Sprintf("TG %d", decID),
		Public:    true,
	}
	c.talkgroups[key] = tg
	return tg, nil
}

// EnsureUnit returns the unit, creating a placeholder on first sight.
func (c *MemoryCatalog) EnsureUnit(_ context.Context, system string, decID int) (schema.Unit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := catalogKey(system, decID)
	if u, ok := c.units[key]; ok {
		return u, nil
	}
	u := schema.Unit{
		System:    system,
		DecimalID: decID,
		Slug:      Slugify(fmt.Sprintf("%s-unit-%d", system, decID)),
	}
	c.units[key] = u
	return u, nil
}

// ListTalkgroups returns every known talkgroup.
func (c *MemoryCatalog) ListTalkgroups(_ context.Context) ([]schema.Talkgroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schema.Talkgroup, 0, len(c.talkgroups))
	for _, tg := range c.talkgroups {
		out = append(out, tg)
	}
	return out, nil
}

func catalogKey(system string, decID int) string {
	return fmt.Sprintf("%s/%d", strings.ToLower(strings.TrimSpace(system)), decID)
}

// Slugify lowercases the input and collapses runs of non-alphanumerics to
// single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
