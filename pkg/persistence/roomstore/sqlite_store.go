package roomstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

// SQLiteStore persists rooms in two tables: rooms (creation order) and messages (one row per
// transcript entry, ordered by ordinal).
type SQLiteStore struct {
	db    *sql.DB
	seed  []rooms.Message
	locks *rooms.LockTable
}

var _ rooms.Store = &SQLiteStore{}

func NewSQLiteStore(dsn string, opts rooms.Options) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite room store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{
		db:    db,
		seed:  rooms.SeedMessages(opts.SeedSystemPrompt),
		locks: rooms.NewLockTable(),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds the DSN used for file-backed stores. Write transactions start
// with BEGIN IMMEDIATE so concurrent writers queue on the busy timeout instead of failing
// on lock upgrade.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite room store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite room store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			room_id INTEGER NOT NULL PRIMARY KEY,
			seq INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			room_id INTEGER NOT NULL,
			ordinal INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (room_id, ordinal),
			FOREIGN KEY (room_id) REFERENCES rooms(room_id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS rooms_by_seq ON rooms(seq);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite room store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, id rooms.ID) (rooms.ChatRoom, error) {
	if s == nil || s.db == nil {
		return rooms.ChatRoom{}, errors.New("sqlite room store: db is nil")
	}
	if err := id.Validate(); err != nil {
		return rooms.ChatRoom{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rooms.ChatRoom{}, errors.Wrap(err, "sqlite room store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO rooms(room_id, seq, created_at_ms)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM rooms), ?)
	`, int64(id), now)
	if err != nil {
		return rooms.ChatRoom{}, errors.Wrap(err, "sqlite room store: insert room")
	}
	created, err := res.RowsAffected()
	if err != nil {
		return rooms.ChatRoom{}, errors.Wrap(err, "sqlite room store: insert room")
	}
	if created == 1 {
		for i, m := range s.seed {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages(room_id, ordinal, role, content, created_at_ms) VALUES (?, ?, ?, ?, ?)
			`, int64(id), i, string(m.Role), m.Content, now); err != nil {
				return rooms.ChatRoom{}, errors.Wrap(err, "sqlite room store: seed room")
			}
		}
	}

	msgs, err := loadMessages(ctx, tx, id)
	if err != nil {
		return rooms.ChatRoom{}, err
	}
	if err := tx.Commit(); err != nil {
		return rooms.ChatRoom{}, errors.Wrap(err, "sqlite room store: commit")
	}
	return rooms.ChatRoom{RoomID: id, Messages: msgs}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, id rooms.ID, msg rooms.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite room store: db is nil")
	}
	if err := id.Validate(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite room store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE room_id = ?`, int64(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return rooms.NotFound(id)
	}
	if err != nil {
		return errors.Wrap(err, "sqlite room store: lookup room")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages(room_id, ordinal, role, content, created_at_ms)
		SELECT ?, COALESCE(MAX(ordinal), -1) + 1, ?, ?, ? FROM messages WHERE room_id = ?
	`, int64(id), string(msg.Role), msg.Content, time.Now().UnixMilli(), int64(id)); err != nil {
		return errors.Wrap(err, "sqlite room store: insert message")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite room store: commit")
	}
	return nil
}

// ListAll reads every room with a single query inside one transaction so the result is a
// consistent snapshot.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]rooms.ChatRoom, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite room store: db is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite room store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT r.room_id, m.role, m.content
		FROM rooms r
		LEFT JOIN messages m ON m.room_id = r.room_id
		ORDER BY r.seq ASC, m.ordinal ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite room store: list rooms")
	}
	defer func() { _ = rows.Close() }()

	out := []rooms.ChatRoom{}
	for rows.Next() {
		var (
			roomID  int64
			role    sql.NullString
			content sql.NullString
		)
		if err := rows.Scan(&roomID, &role, &content); err != nil {
			return nil, errors.Wrap(err, "sqlite room store: scan room")
		}
		if len(out) == 0 || out[len(out)-1].RoomID != rooms.ID(roomID) {
			out = append(out, rooms.ChatRoom{RoomID: rooms.ID(roomID), Messages: []rooms.Message{}})
		}
		if !role.Valid {
			continue
		}
		last := &out[len(out)-1]
		last.Messages = append(last.Messages, rooms.Message{Role: rooms.Role(role.String), Content: content.String})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite room store: list rooms")
	}
	return out, nil
}

func loadMessages(ctx context.Context, tx *sql.Tx, id rooms.ID) ([]rooms.Message, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT role, content FROM messages WHERE room_id = ? ORDER BY ordinal ASC
	`, int64(id))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite room store: load messages")
	}
	defer func() { _ = rows.Close() }()

	out := []rooms.Message{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, errors.Wrap(err, "sqlite room store: scan message")
		}
		out = append(out, rooms.Message{Role: rooms.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite room store: load messages")
	}
	return out, nil
}
