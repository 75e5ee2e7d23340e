package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trunkwatch/trunkwatch/internal/history"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

const fkViolation = "23503"

// Append persists a transmission and its unit links in one transaction.
// A duplicate ID leaves the stored record untouched and reports created=false.
func (s *Store) Append(ctx context.Context, tx schema.Transmission) (bool, error) {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = dbtx.Rollback(ctx) }()

	tag, err := dbtx.Exec(ctx, `
		INSERT INTO transmissions (
			id, system, talkgroup_dec_id, talkgroup_slug, talkgroup_public,
			start_time, end_time, play_length, audio_file, audio_url_path,
			audio_type, has_audio, emergency, freq
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO NOTHING`,
		tx.ID, tx.System, tx.TalkgroupID, tx.TalkgroupSlug, tx.TalkgroupPublic,
		tx.StartTime, tx.EndTime, tx.PlayLength, tx.AudioFile, tx.AudioURLPath,
		tx.AudioType, tx.HasAudio, tx.Emergency, tx.Frequency)
	if err != nil {
		return false, fmt.Errorf("insert transmission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for i, slug := range tx.UnitSlugs {
		if _, err := dbtx.Exec(ctx, `
			INSERT INTO transmission_units (transmission_id, unit_slug, position)
			VALUES ($1,$2,$3)
			ON CONFLICT DO NOTHING`,
			tx.ID, slug, i); err != nil {
			return false, fmt.Errorf("insert transmission unit: %w", err)
		}
	}

	if err := dbtx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit append: %w", err)
	}
	return true, nil
}

// AttachTranscription records a transcription once; re-attaching for the
// same transmission is a no-op.
func (s *Store) AttachTranscription(ctx context.Context, tr schema.Transcription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcriptions (transmission_id, body, automated, confidence, language, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (transmission_id) DO NOTHING`,
		tr.TransmissionID, tr.Text, tr.Automated, tr.Confidence, tr.Language, createdAt(tr.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == fkViolation {
			return history.ErrNotFound
		}
		return fmt.Errorf("insert transcription: %w", err)
	}
	return nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// FetchRecent returns up to limit matching transmissions that started at or
// after cutoff, oldest first. A zero cutoff disables the age bound.
func (s *Store) FetchRecent(ctx context.Context, scope schema.ScopeKey, cutoff time.Time, limit int) ([]schema.Transmission, error) {
	if limit <= 0 {
		limit = history.DefaultBackfillLimit
	}
	filter, filterArg := scopeFilter(scope)

	args := []any{limit}
	var cutoffArg any
	if !cutoff.IsZero() {
		cutoffArg = cutoff
	}
	args = append(args, cutoffArg)
	if filterArg != nil {
		args = append(args, filterArg)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT t.id, t.system, t.talkgroup_dec_id, t.talkgroup_slug, t.talkgroup_public,
		       t.start_time, t.end_time, t.play_length, t.audio_file, t.audio_url_path,
		       t.audio_type, t.has_audio, t.emergency, t.freq,
		       COALESCE(array_agg(tu.unit_slug ORDER BY tu.position)
		                FILTER (WHERE tu.unit_slug IS NOT NULL), '{}') AS unit_slugs,
		       COALESCE(tr.body, '') AS transcription
		FROM transmissions t
		LEFT JOIN transmission_units tu ON tu.transmission_id = t.id
		LEFT JOIN transcriptions tr ON tr.transmission_id = t.id
		WHERE ($2::timestamptz IS NULL OR t.start_time >= $2)
		  AND %s
		GROUP BY t.id, tr.body
		ORDER BY t.start_time DESC
		LIMIT $1`, filter), args...)
	if err != nil {
		return nil, fmt.Errorf("query recent transmissions: %w", err)
	}
	defer rows.Close()

	var out []schema.Transmission
	for rows.Next() {
		var tx schema.Transmission
		if err := rows.Scan(
			&tx.ID, &tx.System, &tx.TalkgroupID, &tx.TalkgroupSlug, &tx.TalkgroupPublic,
			&tx.StartTime, &tx.EndTime, &tx.PlayLength, &tx.AudioFile, &tx.AudioURLPath,
			&tx.AudioType, &tx.HasAudio, &tx.Emergency, &tx.Frequency,
			&tx.UnitSlugs, &tx.Transcription,
		); err != nil {
			return nil, fmt.Errorf("scan transmission: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transmissions: %w", err)
	}

	// Newest-first from the index scan; callers replay oldest first.
	reverse(out)
	return out, nil
}

// GetTransmission fetches one transmission by ID.
func (s *Store) GetTransmission(ctx context.Context, id string) (schema.Transmission, error) {
	var tx schema.Transmission
	err := s.pool.QueryRow(ctx, `
		SELECT t.id, t.system, t.talkgroup_dec_id, t.talkgroup_slug, t.talkgroup_public,
		       t.start_time, t.end_time, t.play_length, t.audio_file, t.audio_url_path,
		       t.audio_type, t.has_audio, t.emergency, t.freq,
		       COALESCE(array_agg(tu.unit_slug ORDER BY tu.position)
		                FILTER (WHERE tu.unit_slug IS NOT NULL), '{}') AS unit_slugs,
		       COALESCE(tr.body, '') AS transcription
		FROM transmissions t
		LEFT JOIN transmission_units tu ON tu.transmission_id = t.id
		LEFT JOIN transcriptions tr ON tr.transmission_id = t.id
		WHERE t.id = $1
		GROUP BY t.id, tr.body`, id).Scan(
		&tx.ID, &tx.System, &tx.TalkgroupID, &tx.TalkgroupSlug, &tx.TalkgroupPublic,
		&tx.StartTime, &tx.EndTime, &tx.PlayLength, &tx.AudioFile, &tx.AudioURLPath,
		&tx.AudioType, &tx.HasAudio, &tx.Emergency, &tx.Frequency,
		&tx.UnitSlugs, &tx.Transcription)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Transmission{}, history.ErrNotFound
	}
	if err != nil {
		return schema.Transmission{}, fmt.Errorf("query transmission: %w", err)
	}
	return tx, nil
}

// scopeFilter returns the WHERE fragment for a scope and its bind argument
// (nil when the fragment takes none). The argument binds as $3.
func scopeFilter(scope schema.ScopeKey) (string, any) {
	switch scope.Kind {
	case schema.ScopeTalkgroup:
		return "t.talkgroup_slug = $3", scope.ID
	case schema.ScopeScanlist:
		return `t.talkgroup_slug IN (
			SELECT talkgroup_slug FROM scanlist_talkgroups WHERE scanlist_slug = $3)`, scope.ID
	case schema.ScopeUnit:
		return `t.id IN (
			SELECT transmission_id FROM transmission_units WHERE unit_slug = $3)`, scope.ID
	case schema.ScopeIncident:
		return `t.id IN (
			SELECT transmission_id FROM incident_transmissions WHERE incident_slug = $3)`, scope.ID
	default:
		return "TRUE", nil
	}
}

func reverse(items []schema.Transmission) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
