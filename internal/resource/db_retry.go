package resource

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type retryRow struct {
	ctx     context.Context
	query   func() *sql.Row
	timeout time.Duration
	text    string
}

func (r retryRow) Scan(dest ...any) error {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		err := r.query().Scan(dest...)
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		slog.Debug("sql query row busy", "query", r.text, "attempt", attempt+1, "err", err)
		if stop, cause := shouldStopRetry(r.ctx, start, r.timeout, err); stop {
			return cause
		}
		time.Sleep(retryDelay(attempt))
	}
}

func (s *Store) queryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	slog.Debug("sql query", "query", query, "args", args)
	return retryRow{
		ctx:     ctx,
		query:   func() *sql.Row { return s.db.QueryRowContext(ctx, query, args...) },
		timeout: s.lockTimeout,
		text:    query,
	}
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	slog.Debug("sql exec", "query", query, "args", args)
	start := time.Now()
	for attempt := 0; ; attempt++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil || !isSQLiteBusy(err) {
			return res, err
		}
		slog.Debug("sql exec busy", "query", query, "attempt", attempt+1, "err", err)
		if stop, cause := shouldStopRetry(ctx, start, s.lockTimeout, err); stop {
			return nil, cause
		}
		time.Sleep(retryDelay(attempt))
	}
}

func (s *Store) execContextTx(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	slog.Debug("sql exec tx", "query", query, "args", args)
	start := time.Now()
	for attempt := 0; ; attempt++ {
		res, err := tx.ExecContext(ctx, query, args...)
		if err == nil || !isSQLiteBusy(err) {
			return res, err
		}
		if stop, cause := shouldStopRetry(ctx, start, s.lockTimeout, err); stop {
			return nil, cause
		}
		time.Sleep(retryDelay(attempt))
	}
}

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	slog.Debug("sql query", "query", query, "args", args)
	start := time.Now()
	for attempt := 0; ; attempt++ {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err == nil || !isSQLiteBusy(err) {
			return rows, err
		}
		if stop, cause := shouldStopRetry(ctx, start, s.lockTimeout, err); stop {
			return nil, cause
		}
		time.Sleep(retryDelay(attempt))
	}
}

func shouldStopRetry(ctx context.Context, start time.Time, timeout time.Duration, err error) (bool, error) {
	if timeout <= 0 {
		return true, err
	}
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	if time.Since(start) >= timeout {
		return true, err
	}
	return false, nil
}

func retryDelay(attempt int) time.Duration {
	delay := time.Duration(attempt+1) * 40 * time.Millisecond
	if delay > 300*time.Millisecond {
		delay = 300 * time.Millisecond
	}
	return delay
}

func (s *Store) beginTx(ctx context.Context, name string) (*sql.Tx, time.Time, error) {
	start := time.Now()
	slog.Debug("sql tx begin", "op", name)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("sql tx begin failed", "op", name, "err", err)
		return nil, start, err
	}
	return tx, start, nil
}

func (s *Store) commitTx(tx *sql.Tx, name string, start time.Time) error {
	if tx == nil {
		return sql.ErrTxDone
	}
	err := tx.Commit()
	slog.Debug("sql tx commit", "op", name, "duration_ms", time.Since(start).Milliseconds(), "err", err)
	return err
}

func (s *Store) rollbackTx(tx *sql.Tx, name string, start time.Time) {
	if tx == nil {
		return
	}
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("sql tx rollback failed", "op", name, "duration_ms", time.Since(start).Milliseconds(), "err", err)
	}
}

func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_BUSY
	}
	return false
}
