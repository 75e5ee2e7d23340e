// Package schema defines the canonical domain types shared across the engine.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScopeKind enumerates the broadcast scopes a subscriber may attach to.
type ScopeKind string

const (
	// ScopeGlobal is the firehose scope covering every transmission.
	ScopeGlobal ScopeKind = "global"
	// ScopeTalkgroup addresses a single talkgroup feed.
	ScopeTalkgroup ScopeKind = "talkgroup"
	// ScopeScanlist addresses a user-curated set of talkgroups.
	ScopeScanlist ScopeKind = "scanlist"
	// ScopeUnit addresses transmissions involving one radio unit.
	ScopeUnit ScopeKind = "unit"
	// ScopeIncident addresses transmissions tagged into one incident.
	ScopeIncident ScopeKind = "incident"
)

// ScopeKey identifies one broadcast topic: a scope kind plus its identifier.
// The global scope carries an empty identifier.
type ScopeKey struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// GlobalScope returns the key of the firehose topic.
func GlobalScope() ScopeKey {
	return ScopeKey{Kind: ScopeGlobal}
}

// TalkgroupScope returns the topic key for a talkgroup slug.
func TalkgroupScope(slug string) ScopeKey {
	return ScopeKey{Kind: ScopeTalkgroup, ID: slug}
}

// ScanlistScope returns the topic key for a scanlist slug.
func ScanlistScope(slug string) ScopeKey {
	return ScopeKey{Kind: ScopeScanlist, ID: slug}
}

// UnitScope returns the topic key for a unit slug.
func UnitScope(slug string) ScopeKey {
	return ScopeKey{Kind: ScopeUnit, ID: slug}
}

// IncidentScope returns the topic key for an incident slug.
func IncidentScope(slug string) ScopeKey {
	return ScopeKey{Kind: ScopeIncident, ID: slug}
}

// ParseScopeKey parses "global", "talkgroup:<slug>", "scanlist:<slug>",
// "unit:<slug>", or "incident:<slug>".
func ParseScopeKey(raw string) (ScopeKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == string(ScopeGlobal) {
		return GlobalScope(), nil
	}
	kind, id, found := strings.Cut(trimmed, ":")
	if !found {
		return ScopeKey{}, fmt.Errorf("scope %q: missing identifier", raw)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ScopeKey{}, fmt.Errorf("scope %q: empty identifier", raw)
	}
	switch ScopeKind(kind) {
	case ScopeTalkgroup, ScopeScanlist, ScopeUnit, ScopeIncident:
		return ScopeKey{Kind: ScopeKind(kind), ID: id}, nil
	case ScopeGlobal:
		return ScopeKey{}, fmt.Errorf("scope %q: global takes no identifier", raw)
	default:
		return ScopeKey{}, fmt.Errorf("scope %q: unknown kind", raw)
	}
}

// String renders the key in the form accepted by ParseScopeKey.
func (k ScopeKey) String() string {
	if k.Kind == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return string(k.Kind) + ":" + k.ID
}

// Valid reports whether the key names a known scope kind with a usable identifier.
func (k ScopeKey) Valid() bool {
	switch k.Kind {
	case ScopeGlobal:
		return k.ID == ""
	case ScopeTalkgroup, ScopeScanlist, ScopeUnit, ScopeIncident:
		return k.ID != ""
	default:
		return false
	}
}

// Transmission is one recorded radio transmission. Immutable once persisted;
// a transcription may be attached later as a separate append-only record.
type Transmission struct {
	ID              uuid.UUID `json:"id"`
	System          string    `json:"system"`
	TalkgroupID     int       `json:"talkgroup_id"`
	TalkgroupSlug   string    `json:"talkgroup_slug"`
	TalkgroupPublic bool      `json:"talkgroup_public"`
	UnitSlugs       []string  `json:"unit_slugs,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	PlayLength      float64   `json:"play_length"`
	AudioFile       string    `json:"audio_file"`
	AudioURLPath    string    `json:"audio_url_path,omitempty"`
	AudioType       string    `json:"audio_type,omitempty"`
	HasAudio        bool      `json:"has_audio"`
	Emergency       bool      `json:"emergency,omitempty"`
	Frequency       int64     `json:"freq,omitempty"`
	Transcription   string    `json:"transcription,omitempty"`
}

// Talkgroup is a named channel within a radio system.
type Talkgroup struct {
	System      string `json:"system"`
	DecimalID   int    `json:"dec_id"`
	Slug        string `json:"slug"`
	AlphaTag    string `json:"alpha_tag,omitempty"`
	CommonName  string `json:"common_name,omitempty"`
	Description string `json:"description,omitempty"`
	Public      bool   `json:"public"`
}

// DisplayName returns the best available human-readable name.
func (t Talkgroup) DisplayName() string {
	if t.CommonName != "" {
		return t.CommonName
	}
	if t.AlphaTag != "" {
		return t.AlphaTag
	}
	return fmt.Sprintf("TG %d", t.DecimalID)
}

// Unit is one radio (mobile, portable, base, or dispatch position).
type Unit struct {
	System      string `json:"system"`
	DecimalID   int    `json:"dec_id"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
}

// Scanlist is a curated set of talkgroups monitored together.
type Scanlist struct {
	Slug           string   `json:"slug"`
	Name           string   `json:"name"`
	TalkgroupSlugs []string `json:"talkgroups"`
	Public         bool     `json:"public"`
}

// Incident groups transmissions related to one operator-defined event.
type Incident struct {
	Slug            string   `json:"slug"`
	Name            string   `json:"name"`
	TransmissionIDs []string `json:"transmissions,omitempty"`
	Public          bool     `json:"public"`
}

// Plan bounds how far back in history a subscriber may look.
// A zero HistoryLimit means unlimited look-back.
type Plan struct {
	Name         string        `json:"name"`
	HistoryLimit time.Duration `json:"history_limit"`
}

// Unbounded reports whether the plan places no limit on look-back.
func (p Plan) Unbounded() bool { return p.HistoryLimit <= 0 }

// TalkgroupSet is a shared, named set of talkgroup slugs a subscriber may see
// when restriction is enabled. Treated as read-only after construction.
type TalkgroupSet map[string]struct{}

// NewTalkgroupSet builds a set from talkgroup slugs.
func NewTalkgroupSet(slugs ...string) TalkgroupSet {
	set := make(TalkgroupSet, len(slugs))
	for _, s := range slugs {
		if s == "" {
			continue
		}
		set[s] = struct{}{}
	}
	return set
}

// Contains reports membership of a talkgroup slug.
func (s TalkgroupSet) Contains(slug string) bool {
	_, ok := s[slug]
	return ok
}

// Identity is a subscriber identity resolved once at connect time and cached
// for the lifetime of the connection.
type Identity struct {
	UserID       string
	Anonymous    bool
	Unrestricted bool
	Plan         *Plan
	Talkgroups   TalkgroupSet
}

// AnonymousIdentity returns the identity used for unauthenticated subscribers.
func AnonymousIdentity() Identity {
	return Identity{Anonymous: true}
}

// Transcription is the append-only text record attached to a transmission.
type Transcription struct {
	TransmissionID uuid.UUID `json:"transmission_id"`
	Text           string    `json:"text"`
	Automated      bool      `json:"automated"`
	Confidence     float64   `json:"confidence,omitempty"`
	Language       string    `json:"language,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
