// Package history defines the transmission archive used for connect-time
// backfill and the read API.
package history

import (
	"context"
	"time"

	"github.com/trunkwatch/trunkwatch/errs"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// ErrNotFound reports an operation against a transmission the archive does
// not hold.
var ErrNotFound = errs.New("history", errs.CodeNotFound,
	errs.WithMessage("transmission not found"))

// DefaultBackfillLimit bounds a single backfill when the caller does not
// specify one.
const DefaultBackfillLimit = 50

// Store is the read side of the archive. FetchRecent returns the most recent
// transmissions for a scope, up to limit, ordered oldest first so callers can
// replay them in arrival order. A zero cutoff disables the age bound;
// otherwise transmissions that started before cutoff are excluded.
type Store interface {
	FetchRecent(ctx context.Context, scope schema.ScopeKey, cutoff time.Time, limit int) ([]schema.Transmission, error)
}

// Archive is the full persistence surface for transmissions.
type Archive interface {
	Store

	// Append persists a transmission. Appending an ID that already exists is
	// a no-op reported through created=false; the stored record is never
	// overwritten.
	Append(ctx context.Context, tx schema.Transmission) (created bool, err error)

	// AttachTranscription records a transcription for an existing
	// transmission. Transcriptions are append-only; re-attaching for the
	// same transmission does not replace the original text.
	AttachTranscription(ctx context.Context, tr schema.Transcription) error
}
