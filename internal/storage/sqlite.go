package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; busy_timeout covers other processes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return reminder.Unavailable("ping", s.db.PingContext(ctx))
}

func (s *sqliteStore) Insert(ctx context.Context, ownerID int64, text string, dueAt, createdAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(owner_id, text, due_at, created_at) VALUES(?,?,?,?)`,
		ownerID, text, dueAt.UTC().UnixNano(), createdAt.UTC().UnixNano(),
	)
	if err != nil {
		return 0, reminder.Unavailable("insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, reminder.Unavailable("insert", err)
	}
	return id, nil
}

func (s *sqliteStore) ListByOwner(ctx context.Context, ownerID int64) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, text, due_at, created_at FROM reminders
		 WHERE owner_id = ? ORDER BY due_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, reminder.Unavailable("list", err)
	}
	out, err := scanReminders(rows)
	return out, reminder.Unavailable("list", err)
}

func (s *sqliteStore) DeleteForOwner(ctx context.Context, id, ownerID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, reminder.Unavailable("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, reminder.Unavailable("delete", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) SelectDue(ctx context.Context, asOf time.Time) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, text, due_at, created_at FROM reminders
		 WHERE due_at <= ? ORDER BY due_at ASC, id ASC`, asOf.UTC().UnixNano())
	if err != nil {
		return nil, reminder.Unavailable("select due", err)
	}
	out, err := scanReminders(rows)
	return out, reminder.Unavailable("select due", err)
}

func (s *sqliteStore) DeleteByID(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return reminder.Unavailable("delete", err)
}

func scanReminders(rows *sql.Rows) ([]reminder.Reminder, error) {
	defer rows.Close()
	var out []reminder.Reminder
	for rows.Next() {
		var (
			r            reminder.Reminder
			due, created int64
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Text, &due, &created); err != nil {
			return nil, err
		}
		r.DueAt = time.Unix(0, due).UTC()
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
