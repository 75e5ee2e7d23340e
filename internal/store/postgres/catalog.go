package postgres

import (
	"context"
	"fmt"

	"github.com/trunkwatch/trunkwatch/internal/ingest"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// EnsureTalkgroup returns the talkgroup for (system, decID), creating a
// public placeholder on first sight. The upsert keeps operator edits: an
// existing row is returned as stored.
func (s *Store) EnsureTalkgroup(ctx context.Context, system string, decID int) (schema.Talkgroup, error) {
	slug := ingest.Slugify(fmt.Sprintf("%s-tg-%d", system, decID))
	var tg schema.Talkgroup
	err := s.pool.QueryRow(ctx, `
		INSERT INTO talkgroups (system, dec_id, slug, alpha_tag)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (system, dec_id) DO UPDATE SET system = EXCLUDED.system
		RETURNING system, dec_id, slug, alpha_tag, common_name, description, is_public`,
		system, decID, slug, fmt.Sprintf("TG %d", decID)).Scan(
		&tg.System, &tg.DecimalID, &tg.Slug, &tg.AlphaTag,
		&tg.CommonName, &tg.Description, &tg.Public)
	if err != nil {
		return schema.Talkgroup{}, fmt.Errorf("ensure talkgroup: %w", err)
	}
	return tg, nil
}

// EnsureUnit returns the unit for (system, decID), creating a placeholder on
// first sight.
func (s *Store) EnsureUnit(ctx context.Context, system string, decID int) (schema.Unit, error) {
	slug := ingest.Slugify(fmt.Sprintf("%s-unit-%d", system, decID))
	var u schema.Unit
	err := s.pool.QueryRow(ctx, `
		INSERT INTO units (system, dec_id, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (system, dec_id) DO UPDATE SET system = EXCLUDED.system
		RETURNING system, dec_id, slug, description`,
		system, decID, slug).Scan(&u.System, &u.DecimalID, &u.Slug, &u.Description)
	if err != nil {
		return schema.Unit{}, fmt.Errorf("ensure unit: %w", err)
	}
	return u, nil
}

// ListTalkgroups returns every known talkgroup ordered by slug.
func (s *Store) ListTalkgroups(ctx context.Context) ([]schema.Talkgroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT system, dec_id, slug, alpha_tag, common_name, description, is_public
		FROM talkgroups ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list talkgroups: %w", err)
	}
	defer rows.Close()

	var out []schema.Talkgroup
	for rows.Next() {
		var tg schema.Talkgroup
		if err := rows.Scan(&tg.System, &tg.DecimalID, &tg.Slug, &tg.AlphaTag,
			&tg.CommonName, &tg.Description, &tg.Public); err != nil {
			return nil, fmt.Errorf("scan talkgroup: %w", err)
		}
		out = append(out, tg)
	}
	return out, rows.Err()
}
