package dbexec

import (
	"context"
	"database/sql"
	"fmt"
)

// SessionExecutor runs each query on a dedicated connection after applying
// session statements such as a statement timeout or a read-only flag.
type SessionExecutor struct {
	db    *sql.DB
	setup []string
	reset []string
}

// SessionExecutorConfig controls session preparation.
type SessionExecutorConfig struct {
	DB *sql.DB
	// Setup statements run in order before every query.
	Setup []string
	// Reset statements run when the connection is returned to the pool.
	Reset []string
}

// NewSessionExecutor creates an executor that prepares a connection per query.
func NewSessionExecutor(cfg SessionExecutorConfig) *SessionExecutor {
	return &SessionExecutor{
		db:    cfg.DB,
		setup: append([]string(nil), cfg.Setup...),
		reset: append([]string(nil), cfg.Reset...),
	}
}

func (e *SessionExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	cleanup := func() {
		for _, stmt := range e.reset {
			_, _ = conn.ExecContext(context.Background(), stmt)
		}
		_ = conn.Close()
	}

	for _, stmt := range e.setup {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to prepare session with %q: %w", stmt, err)
		}
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &sessionRows{
		Rows:    rows,
		cleanup: cleanup,
	}, nil
}

type sessionRows struct {
	*sql.Rows
	cleanup func()
}

func (r *sessionRows) Close() error {
	defer r.cleanup()
	return r.Rows.Close()
}
