package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/model"
)

// --- Channel Methods ---

// UpsertChannel finds a channel by URL, or creates it. Returns the ID and
// whether it was new.
func (s *sqlStore) UpsertChannel(ctx context.Context, title, url, source string) (int64, bool, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return 0, false, apperr.Validation(apperr.ReasonInvalidPayload, "channel url is required")
	}
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		source = s.opts.DefaultSource
	}
	var id int64
	var created bool
	err := s.inTx(ctx, "upsert channel", func(tx *sql.Tx) error {
		err := s.queryRow(ctx, tx, "SELECT id FROM channels WHERE url = ?", url).Scan(&id)
		if err == nil {
			created = false
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		created = true
		return s.queryRow(ctx, tx,
			"INSERT INTO channels (title, url, source) VALUES (?, ?, ?) RETURNING id",
			strings.TrimSpace(title), url, source).Scan(&id)
	})
	if err != nil {
		return 0, false, err
	}
	if created {
		s.log.Info("Channel added", "channel_id", id, "url", url)
	}
	return id, created, nil
}

// ListChannels returns all channels ordered by title.
func (s *sqlStore) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.query(ctx, s.conn, "SELECT id, title, url, source, last_fetched, last_error FROM channels ORDER BY title, id")
	if err != nil {
		return nil, apperr.Infra("list channels", err)
	}
	defer rows.Close()
	var channels []model.Channel
	for rows.Next() {
		var c model.Channel
		var lastFetched sql.NullTime
		if err := rows.Scan(&c.ID, &c.Title, &c.URL, &c.Source, &lastFetched, &c.LastError); err != nil {
			return nil, apperr.Infra("list channels", err)
		}
		if lastFetched.Valid {
			c.LastFetched = lastFetched.Time
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Infra("list channels", err)
	}
	return channels, nil
}

// MarkChannelFetched records a successful fetch and clears the last error.
func (s *sqlStore) MarkChannelFetched(ctx context.Context, channelID int64, t time.Time) error {
	_, err := s.exec(ctx, s.conn, "UPDATE channels SET last_fetched = ?, last_error = '' WHERE id = ?", t.UTC(), channelID)
	return apperr.Infra("mark channel fetched", err)
}

// MarkChannelError records the most recent fetch failure.
func (s *sqlStore) MarkChannelError(ctx context.Context, channelID int64, errMsg string) error {
	_, err := s.exec(ctx, s.conn, "UPDATE channels SET last_error = ? WHERE id = ?", errMsg, channelID)
	return apperr.Infra("mark channel error", err)
}

// DeleteChannel removes a subscription. Items already ingested stay.
func (s *sqlStore) DeleteChannel(ctx context.Context, channelID int64) (bool, error) {
	res, err := s.exec(ctx, s.conn, "DELETE FROM channels WHERE id = ?", channelID)
	if err != nil {
		return false, apperr.Infra("delete channel", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Infra("delete channel", err)
	}
	return n > 0, nil
}
