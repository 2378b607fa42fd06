package database

import (
	"context"
	"database/sql"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/logging"
	"github.com/bryan-buckman/curio/internal/model"
)

// dialect captures what differs between the SQLite and PostgreSQL backends.
type dialect interface {
	name() string
	highConcurrency() bool
	// rebind rewrites '?' placeholders into the driver's native form.
	rebind(query string) string
	// forUpdate is appended to row reads that precede a write in the same transaction.
	forUpdate() string
	// lockRevisionKey serializes revision numbering for one (item, variant).
	lockRevisionKey(ctx context.Context, tx *sql.Tx, itemID string, variant model.Variant) error
	// isRetryable reports whether err is the expected write race
	// (unique collision, busy database, serialization failure).
	isRetryable(err error) bool
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlStore is the SQL core shared by both backends.
type sqlStore struct {
	conn *sql.DB
	d    dialect
	opts Options
	log  *logging.Logger
	now  func() time.Time
}

func newSQLStore(conn *sql.DB, d dialect, opts Options) *sqlStore {
	opts = opts.withDefaults()
	return &sqlStore{
		conn: conn,
		d:    d,
		opts: opts,
		log:  opts.Logger.With("store", d.name()),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.conn.Close()
}

// DatabaseType returns the database backend name.
func (s *sqlStore) DatabaseType() string {
	return s.d.name()
}

// SupportsHighConcurrency reports whether parallel writers are worthwhile.
func (s *sqlStore) SupportsHighConcurrency() bool {
	return s.d.highConcurrency()
}

func (s *sqlStore) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.d.rebind(query), args...)
}

// runTx executes fn inside one transaction, committing on success.
func (s *sqlStore) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// inTx runs fn in a transaction, retrying the whole transaction when the
// backend reports the expected write race. Other failures are returned
// immediately as infrastructure errors; exhausted retries become a conflict.
func (s *sqlStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt)*5*time.Millisecond + rand.N(5*time.Millisecond)
			select {
			case <-ctx.Done():
				return apperr.Infra(op, ctx.Err())
			case <-time.After(backoff):
			}
		}
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !s.d.isRetryable(err) {
			return apperr.Infra(op, err)
		}
		lastErr = err
		s.log.Debug("Retrying transaction", "op", op, "attempt", attempt+1, "error", err)
	}
	s.log.Warn("Transaction retries exhausted", "op", op, "attempts", s.opts.MaxRetries, "error", lastErr)
	return apperr.Conflict(op, lastErr)
}

// rebindNumbered turns '?' placeholders into $1, $2, ...
func rebindNumbered(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ..." for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func variantArgs(values []model.Variant) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
