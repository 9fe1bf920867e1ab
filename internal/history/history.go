// Package history records per-lane pass outcomes in a small SQLite
// database, so "what did the scheduler do last night" survives restarts.
// It is optional; when disabled the recorder is nil and callers skip it.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "arrsweep/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var ErrDisabled = errors.New("history disabled")

type Config struct {
	Enabled     bool
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Entry is one recorded outcome: a lane run or an app's promotion step.
type Entry struct {
	At        time.Time
	App       string
	Mode      string // "search", "done", or "promote"
	Gated     bool
	PoolEmpty bool
	Pool      int
	Selected  int
	Succeeded int
	Failed    int
	Promoted  int
	Err       string
	TookMS    int64
}

type Recorder struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the recorder. It returns (nil, nil) when disabled.
func Open(cfg Config, log logx.Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	r := &Recorder{db: db, log: log}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, string(b))
	return err
}

func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Append records one entry. Failures are the caller's to log; history is
// best-effort and never blocks a pass.
func (r *Recorder) Append(ctx context.Context, e Entry) error {
	if r == nil || r.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs(at, app, mode, gated, pool_empty, pool, selected, succeeded, failed, promoted, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.App, e.Mode, e.Gated, e.PoolEmpty,
		e.Pool, e.Selected, e.Succeeded, e.Failed, e.Promoted, nullStr(e.Err), e.TookMS,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
