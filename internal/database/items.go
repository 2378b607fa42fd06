package database

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/model"
)

const itemColumns = `i.item_id, i.source, i.title, i.channel_name, i.canonical_url, i.thumbnail_url, i.audio_url,
	i.duration_seconds, i.language, i.content_type, i.complexity, i.has_audio, i.categorization, i.topics,
	i.indexed_at, i.published_at, i.created_at, i.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem reads one row selected with itemColumns, followed by extra
// destinations.
func scanItem(row rowScanner, extra ...any) (*model.Item, error) {
	var it model.Item
	var duration sql.NullInt64
	var categorization, topics sql.NullString
	var publishedAt sql.NullTime
	dest := []any{
		&it.ItemID, &it.Source, &it.Title, &it.ChannelName, &it.CanonicalURL, &it.ThumbnailURL, &it.AudioURL,
		&duration, &it.Language, &it.ContentType, &it.Complexity, &it.HasAudio, &categorization, &topics,
		&it.IndexedAt, &publishedAt, &it.CreatedAt, &it.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if duration.Valid {
		d := int(duration.Int64)
		it.DurationSeconds = &d
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		it.PublishedAt = &t
	}
	if categorization.Valid && categorization.String != "" {
		if err := json.Unmarshal([]byte(categorization.String), &it.Categorization); err != nil {
			return nil, fmt.Errorf("decode categorization of %s: %w", it.ItemID, err)
		}
	}
	if topics.Valid && topics.String != "" {
		if err := json.Unmarshal([]byte(topics.String), &it.Topics); err != nil {
			return nil, fmt.Errorf("decode topics of %s: %w", it.ItemID, err)
		}
	}
	return &it, nil
}

// GetItem returns the item, or nil when it does not exist.
func (s *sqlStore) GetItem(ctx context.Context, itemID string) (*model.Item, error) {
	id, err := model.ParseItemRef(itemID)
	if err != nil {
		return nil, err
	}
	it, err := s.getItem(ctx, s.conn, id, false)
	if err != nil {
		return nil, apperr.Infra("get item", err)
	}
	return it, nil
}

func (s *sqlStore) getItem(ctx context.Context, q querier, itemID string, lock bool) (*model.Item, error) {
	query := "SELECT " + itemColumns + " FROM items i WHERE i.item_id = ?"
	if lock {
		query += s.d.forUpdate()
	}
	it, err := scanItem(s.queryRow(ctx, q, query, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

// UpsertItem inserts a new item or merges the given fields into the stored one.
func (s *sqlStore) UpsertItem(ctx context.Context, up model.ItemUpsert) (string, error) {
	if err := up.Validate(); err != nil {
		return "", err
	}
	err := s.inTx(ctx, "upsert item", func(tx *sql.Tx) error {
		_, err := s.upsertItemTx(ctx, tx, up)
		return err
	})
	if err != nil {
		return "", err
	}
	return up.ItemID, nil
}

// upsertItemTx merges up into the stored row (or a fresh one) and writes it.
// up must already be validated. Reports whether the row was created.
func (s *sqlStore) upsertItemTx(ctx context.Context, tx *sql.Tx, up model.ItemUpsert) (bool, error) {
	now := s.now()
	existing, err := s.getItem(ctx, tx, up.ItemID, true)
	if err != nil {
		return false, fmt.Errorf("load item: %w", err)
	}
	created := existing == nil
	it := existing
	if created {
		it = &model.Item{
			ItemID:    up.ItemID,
			Source:    s.opts.DefaultSource,
			IndexedAt: now,
			CreatedAt: now,
		}
	}
	mergeItem(it, up)
	it.UpdatedAt = now

	categorization, err := encodeJSON(it.Categorization)
	if err != nil {
		return false, err
	}
	topics, err := encodeJSON(it.Topics)
	if err != nil {
		return false, err
	}
	args := []any{
		it.Source, it.Title, it.ChannelName, it.CanonicalURL, it.ThumbnailURL, it.AudioURL,
		nullInt(it.DurationSeconds), it.Language, it.ContentType, it.Complexity, it.HasAudio, categorization, topics,
		it.IndexedAt.UTC(), nullTime(it.PublishedAt), it.UpdatedAt,
	}
	if created {
		_, err = s.exec(ctx, tx, `
			INSERT INTO items (source, title, channel_name, canonical_url, thumbnail_url, audio_url,
				duration_seconds, language, content_type, complexity, has_audio, categorization, topics,
				indexed_at, published_at, updated_at, created_at, item_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append(args, it.CreatedAt, it.ItemID)...)
	} else {
		_, err = s.exec(ctx, tx, `
			UPDATE items SET source = ?, title = ?, channel_name = ?, canonical_url = ?, thumbnail_url = ?, audio_url = ?,
				duration_seconds = ?, language = ?, content_type = ?, complexity = ?, has_audio = ?, categorization = ?, topics = ?,
				indexed_at = ?, published_at = ?, updated_at = ?
			WHERE item_id = ?`,
			append(args, it.ItemID)...)
	}
	if err != nil {
		return false, fmt.Errorf("write item: %w", err)
	}

	if up.Categorization != nil {
		if err := s.replaceCategories(ctx, tx, it.ItemID, *up.Categorization); err != nil {
			return false, err
		}
	}
	return created, nil
}

// replaceCategories rewrites the derived (category, subcategory) rows used
// for filtering and faceting. A category without subcategories is stored
// with an empty subcategory.
func (s *sqlStore) replaceCategories(ctx context.Context, tx *sql.Tx, itemID string, c model.Categorization) error {
	if _, err := s.exec(ctx, tx, "DELETE FROM item_categories WHERE item_id = ?", itemID); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	for _, e := range c {
		subs := e.Subcategories
		if len(subs) == 0 {
			subs = []string{""}
		}
		for _, sub := range subs {
			if _, err := s.exec(ctx, tx,
				"INSERT INTO item_categories (item_id, category, subcategory) VALUES (?, ?, ?)",
				itemID, e.Category, sub); err != nil {
				return fmt.Errorf("insert category %q/%q: %w", e.Category, sub, err)
			}
		}
	}
	return nil
}

func mergeItem(it *model.Item, up model.ItemUpsert) {
	setString(&it.Source, up.Source)
	setString(&it.Title, up.Title)
	setString(&it.ChannelName, up.ChannelName)
	setString(&it.CanonicalURL, up.CanonicalURL)
	setString(&it.ThumbnailURL, up.ThumbnailURL)
	setString(&it.AudioURL, up.AudioURL)
	setString(&it.Language, up.Language)
	setString(&it.ContentType, up.ContentType)
	setString(&it.Complexity, up.Complexity)
	if up.DurationSeconds != nil {
		d := *up.DurationSeconds
		it.DurationSeconds = &d
	}
	if up.HasAudio != nil {
		it.HasAudio = *up.HasAudio
	}
	if up.Categorization != nil {
		it.Categorization = *up.Categorization
	}
	if up.Topics != nil {
		it.Topics = *up.Topics
	}
	if up.IndexedAt != nil {
		it.IndexedAt = up.IndexedAt.UTC()
	}
	if up.PublishedAt != nil {
		t := up.PublishedAt.UTC()
		it.PublishedAt = &t
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// DeleteItem removes an item with its categories and revisions. Returns
// false when the item did not exist.
func (s *sqlStore) DeleteItem(ctx context.Context, itemID string) (bool, error) {
	res, err := s.DeleteItems(ctx, []string{itemID})
	if err != nil {
		return false, err
	}
	return res[0].Deleted, nil
}

// DeleteItems validates every identifier, then deletes each item in its own
// transaction and reports per-identifier results.
func (s *sqlStore) DeleteItems(ctx context.Context, itemIDs []string) ([]model.DeleteResult, error) {
	ids := make([]string, len(itemIDs))
	for i, ref := range itemIDs {
		id, err := model.ParseItemRef(ref)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	results := make([]model.DeleteResult, 0, len(ids))
	for _, id := range ids {
		var deleted bool
		err := s.inTx(ctx, "delete item", func(tx *sql.Tx) error {
			var err error
			deleted, err = s.deleteItemTx(ctx, tx, id)
			return err
		})
		if err != nil {
			return results, err
		}
		if deleted {
			s.log.Info("Item deleted", "item_id", id)
		}
		results = append(results, model.DeleteResult{ItemID: id, Deleted: deleted})
	}
	return results, nil
}

func (s *sqlStore) deleteItemTx(ctx context.Context, tx *sql.Tx, itemID string) (bool, error) {
	// Children first so the cascade does not depend on FK enforcement.
	if _, err := s.exec(ctx, tx, "DELETE FROM summaries WHERE item_id = ?", itemID); err != nil {
		return false, fmt.Errorf("delete summaries: %w", err)
	}
	if _, err := s.exec(ctx, tx, "DELETE FROM item_categories WHERE item_id = ?", itemID); err != nil {
		return false, fmt.Errorf("delete categories: %w", err)
	}
	res, err := s.exec(ctx, tx, "DELETE FROM items WHERE item_id = ?", itemID)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func encodeJSON[T any](v []T) (any, error) {
	if v == nil {
		return nil, nil
	}
	// Stored JSON is matched with LIKE, so "&" must not become "\u0026".
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
