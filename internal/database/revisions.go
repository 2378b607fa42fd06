package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/model"
	"github.com/cespare/xxhash/v2"
)

const revisionColumns = `id, item_id, variant, revision, html, text, raw_payload, content_hash, is_latest, created_at, updated_at`

// ContentHash fingerprints a revision body so identical re-ingests can be skipped.
func ContentHash(c model.RevisionContent) string {
	d := xxhash.New()
	_, _ = d.WriteString(c.HTML)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(c.Text)
	return fmt.Sprintf("%016x", d.Sum64())
}

func scanRevision(row rowScanner) (*model.Revision, error) {
	var r model.Revision
	var variant string
	var raw sql.NullString
	if err := row.Scan(&r.ID, &r.ItemID, &variant, &r.Revision, &r.HTML, &r.Text, &raw,
		&r.ContentHash, &r.IsLatest, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Variant = model.Variant(variant)
	if raw.Valid && raw.String != "" {
		r.RawPayload = []byte(raw.String)
	}
	return &r, nil
}

func checkRevisionArgs(itemID string, variant model.Variant) (string, error) {
	id, err := model.ParseItemRef(itemID)
	if err != nil {
		return "", err
	}
	if !variant.Valid() {
		return "", apperr.Validation(apperr.ReasonInvalidVariant, "unknown variant %q", variant)
	}
	return id, nil
}

// AddRevision stores content as the next revision of (item, variant) and
// makes it the latest. It returns the new revision number.
func (s *sqlStore) AddRevision(ctx context.Context, itemID string, variant model.Variant, content model.RevisionContent) (int, error) {
	id, err := checkRevisionArgs(itemID, variant)
	if err != nil {
		return 0, err
	}
	if content.Empty() {
		return 0, apperr.Validation(apperr.ReasonEmptyContent, "variant %q has neither text nor html", variant)
	}
	var rev int
	err = s.inTx(ctx, "add revision", func(tx *sql.Tx) error {
		var exists int
		err := s.queryRow(ctx, tx, "SELECT 1 FROM items WHERE item_id = ?", id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound(apperr.ReasonItemNotFound, "item %s not found", id)
		}
		if err != nil {
			return err
		}
		rev, _, err = s.addRevisionTx(ctx, tx, id, variant, content, false)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.Debug("Revision added", "item_id", id, "variant", variant, "revision", rev)
	return rev, nil
}

// addRevisionTx numbers and inserts one revision inside tx. When
// skipUnchanged is set and the current latest has the same content hash, no
// row is written and the existing revision number is returned with
// created=false. The caller has already checked that the item exists.
func (s *sqlStore) addRevisionTx(ctx context.Context, tx *sql.Tx, itemID string, variant model.Variant,
	content model.RevisionContent, skipUnchanged bool) (int, bool, error) {
	if err := s.d.lockRevisionKey(ctx, tx, itemID, variant); err != nil {
		return 0, false, fmt.Errorf("lock revision key: %w", err)
	}
	hash := ContentHash(content)

	var latestRev sql.NullInt64
	var latestHash sql.NullString
	err := s.queryRow(ctx, tx,
		"SELECT revision, content_hash FROM summaries WHERE item_id = ? AND variant = ? AND is_latest = ?",
		itemID, string(variant), true).Scan(&latestRev, &latestHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("read latest revision: %w", err)
	}
	if skipUnchanged && latestRev.Valid && latestHash.String == hash {
		return int(latestRev.Int64), false, nil
	}

	var maxRev int
	if err := s.queryRow(ctx, tx,
		"SELECT COALESCE(MAX(revision), 0) FROM summaries WHERE item_id = ? AND variant = ?",
		itemID, string(variant)).Scan(&maxRev); err != nil {
		return 0, false, fmt.Errorf("read max revision: %w", err)
	}
	next := maxRev + 1
	now := s.now()

	if _, err := s.exec(ctx, tx,
		"UPDATE summaries SET is_latest = ?, updated_at = ? WHERE item_id = ? AND variant = ? AND is_latest = ?",
		false, now, itemID, string(variant), true); err != nil {
		return 0, false, fmt.Errorf("demote latest: %w", err)
	}

	var raw any
	if len(content.RawPayload) > 0 {
		raw = string(content.RawPayload)
	}
	if _, err := s.exec(ctx, tx, `
		INSERT INTO summaries (item_id, variant, revision, html, text, raw_payload, content_hash, is_latest, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		itemID, string(variant), next, content.HTML, content.Text, raw, hash, true, now, now); err != nil {
		return 0, false, fmt.Errorf("insert revision: %w", err)
	}

	if variant.IsAudio() {
		if _, err := s.exec(ctx, tx,
			"UPDATE items SET has_audio = ?, updated_at = ? WHERE item_id = ?", true, now, itemID); err != nil {
			return 0, false, fmt.Errorf("flag audio: %w", err)
		}
	}
	return next, true, nil
}

// GetLatest returns the latest revision of (item, variant), or nil.
func (s *sqlStore) GetLatest(ctx context.Context, itemID string, variant model.Variant) (*model.Revision, error) {
	id, err := checkRevisionArgs(itemID, variant)
	if err != nil {
		return nil, err
	}
	r, err := scanRevision(s.queryRow(ctx, s.conn,
		"SELECT "+revisionColumns+" FROM summaries WHERE item_id = ? AND variant = ? AND is_latest = ?",
		id, string(variant), true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Infra("get latest revision", err)
	}
	return r, nil
}

// GetLatestAny returns the latest revision of the first variant in preferred
// that has one, or nil. An empty preference list uses the configured order.
func (s *sqlStore) GetLatestAny(ctx context.Context, itemID string, preferred []model.Variant) (*model.Revision, error) {
	id, err := model.ParseItemRef(itemID)
	if err != nil {
		return nil, err
	}
	if len(preferred) == 0 {
		preferred = s.opts.PreferredVariants
	}
	for _, v := range preferred {
		if !v.Valid() {
			return nil, apperr.Validation(apperr.ReasonInvalidVariant, "unknown variant %q", v)
		}
	}
	order, orderArgs := variantRank("variant", preferred)
	args := append([]any{id, true}, variantArgs(preferred)...)
	args = append(args, orderArgs...)
	r, err := scanRevision(s.queryRow(ctx, s.conn,
		"SELECT "+revisionColumns+" FROM summaries WHERE item_id = ? AND is_latest = ? AND variant IN ("+
			placeholders(len(preferred))+") ORDER BY "+order+" LIMIT 1",
		args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Infra("get latest revision", err)
	}
	return r, nil
}

// ListLatest returns the latest revision of every variant the item has.
func (s *sqlStore) ListLatest(ctx context.Context, itemID string) ([]model.Revision, error) {
	id, err := model.ParseItemRef(itemID)
	if err != nil {
		return nil, err
	}
	order, orderArgs := variantRank("variant", s.opts.PreferredVariants)
	return s.listRevisions(ctx, "SELECT "+revisionColumns+" FROM summaries WHERE item_id = ? AND is_latest = ? ORDER BY "+order,
		append([]any{id, true}, orderArgs...)...)
}

// ListRevisions returns the history of one variant, newest first.
func (s *sqlStore) ListRevisions(ctx context.Context, itemID string, variant model.Variant) ([]model.Revision, error) {
	id, err := checkRevisionArgs(itemID, variant)
	if err != nil {
		return nil, err
	}
	return s.listRevisions(ctx, "SELECT "+revisionColumns+" FROM summaries WHERE item_id = ? AND variant = ? ORDER BY revision DESC",
		id, string(variant))
}

func (s *sqlStore) listRevisions(ctx context.Context, query string, args ...any) ([]model.Revision, error) {
	rows, err := s.query(ctx, s.conn, query, args...)
	if err != nil {
		return nil, apperr.Infra("list revisions", err)
	}
	defer rows.Close()

	var out []model.Revision
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return nil, apperr.Infra("list revisions", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Infra("list revisions", err)
	}
	return out, nil
}

// variantRank builds "CASE col WHEN ? THEN 0 ... ELSE n END, col" so rows
// sort by their position in order, unknown variants last.
func variantRank(col string, order []model.Variant) (string, []any) {
	if len(order) == 0 {
		return col, nil
	}
	expr := "CASE " + col
	args := make([]any, 0, len(order))
	for i, v := range order {
		expr += fmt.Sprintf(" WHEN ? THEN %d", i)
		args = append(args, string(v))
	}
	expr += fmt.Sprintf(" ELSE %d END, %s", len(order), col)
	return expr, args
}
