package storage

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

	"gatebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store, creating the database file and schema
// as needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
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

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, true, nil
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func (s *sqliteStore) AddSubscriber(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(user_id) VALUES(?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID,
	)
	return err
}

func (s *sqliteStore) ListSubscriberIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM subscribers WHERE is_subscribed = 1 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) InsertJoinRequest(ctx context.Context, r NewJoinRequest) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO join_requests(user_id, username, full_name, chat_id, chat_title)
		 VALUES(?,?,?,?,?)`,
		r.UserID, nullStr(r.Username), nullStr(r.FullName), r.ChatID, r.ChatTitle,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const joinRequestCols = `id, user_id, COALESCE(username,''), COALESCE(full_name,''), chat_id, COALESCE(chat_title,''), status, COALESCE(approved_by,0), created_at`

func scanJoinRequest(scan func(dest ...any) error) (*JoinRequest, error) {
	var r JoinRequest
	var created string
	if err := scan(&r.ID, &r.UserID, &r.Username, &r.FullName, &r.ChatID, &r.ChatTitle, &r.Status, &r.ApprovedBy, &created); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		r.CreatedAt = t
	}
	return &r, nil
}

func (s *sqliteStore) GetJoinRequest(ctx context.Context, id int64) (*JoinRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+joinRequestCols+` FROM join_requests WHERE id = ?`, id)
	r, err := scanJoinRequest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *sqliteStore) ListPendingJoinRequests(ctx context.Context) ([]JoinRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+joinRequestCols+` FROM join_requests WHERE status = ? ORDER BY id`,
		StatusPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JoinRequest
	for rows.Next() {
		r, err := scanJoinRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) markResolved(ctx context.Context, id, actorID int64, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE join_requests SET status = ?, approved_by = ?
		 WHERE id = ? AND status = ?`,
		status, actorID, id, StatusPending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) MarkApproved(ctx context.Context, id, actorID int64) (bool, error) {
	return s.markResolved(ctx, id, actorID, StatusApproved)
}

func (s *sqliteStore) MarkRejected(ctx context.Context, id, actorID int64) (bool, error) {
	return s.markResolved(ctx, id, actorID, StatusRejected)
}

func (s *sqliteStore) MarkAutoApproved(ctx context.Context, userID, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE join_requests SET status = ?, approved_by = ?
		 WHERE user_id = ? AND chat_id = ? AND status = ?`,
		StatusApproved, AutoApproveActor, userID, chatID, StatusPending,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
