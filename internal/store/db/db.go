// Package db provides the local SQLite store for gather.
//
// The store holds groups, their members and their events in a single
// embedded database file. It is the only shared mutable resource of an
// instance: locally created events and events replayed from a peer are both
// written here.
//
// Architecture:
//   - Database file: <home>/gather.db
//   - WAL mode: concurrent readers during writes
//   - Schema: groups, group_members, events
//   - Single writer: all writes are serialized by a mutex so that the
//     auto-increment sequences cannot interleave
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gatherapp/gather/internal/models"
)

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string

	// writeMu serializes every write.
	writeMu sync.Mutex
}

// Open creates a new database connection at the specified path.
//
// The parent directory is created if needed. Pragmas are passed in the DSN
// so that every pooled connection gets them, not only the first one.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open(filepath.Join(home, "gather.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Safe to call on every start.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		createdAt TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		groupId INTEGER NOT NULL,
		userId TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin', 'member')),
		PRIMARY KEY (groupId, userId),
		FOREIGN KEY (groupId) REFERENCES groups(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		groupId INTEGER NOT NULL,
		title TEXT NOT NULL,
		date TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		createdAt TEXT NOT NULL,
		FOREIGN KEY (groupId) REFERENCES groups(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_group_members_group ON group_members(groupId);
	CREATE INDEX IF NOT EXISTS idx_events_group ON events(groupId);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// CreateGroup inserts a new group and returns it with its assigned id.
func (db *DB) CreateGroup(name string) (*models.Group, error) {
	return db.CreateGroupContext(context.Background(), name)
}

// CreateGroupContext inserts a new group with context support.
func (db *DB) CreateGroupContext(ctx context.Context, name string) (*models.Group, error) {
	group := &models.Group{Name: name, CreatedAt: now()}
	if err := group.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO groups (name, createdAt) VALUES (?, ?)`,
		group.Name, formatTime(group.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read group id: %w", err)
	}
	group.ID = id

	return group, nil
}

// GetGroupContext returns a group with its members.
// Returns ErrNotFound if the group doesn't exist.
func (db *DB) GetGroupContext(ctx context.Context, id int64) (*models.Group, error) {
	group := &models.Group{}
	var createdAt string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, createdAt FROM groups WHERE id = ?`, id,
	).Scan(&group.ID, &group.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group %d: %w", id, err)
	}
	group.CreatedAt = parseTime(createdAt)

	members, err := db.ListMembersContext(ctx, id)
	if err != nil {
		return nil, err
	}
	group.Members = members

	return group, nil
}

// ListGroups returns all groups ordered by id, members included.
func (db *DB) ListGroups() ([]*models.Group, error) {
	return db.ListGroupsContext(context.Background())
}

// ListGroupsContext returns all groups with context support.
func (db *DB) ListGroupsContext(ctx context.Context) ([]*models.Group, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, createdAt FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	byID := make(map[int64]*models.Group)
	for rows.Next() {
		group := &models.Group{}
		var createdAt string
		if err := rows.Scan(&group.ID, &group.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		group.CreatedAt = parseTime(createdAt)
		groups = append(groups, group)
		byID[group.ID] = group
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}

	memberRows, err := db.conn.QueryContext(ctx,
		`SELECT groupId, userId, role FROM group_members ORDER BY groupId, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var m models.Member
		var role string
		if err := memberRows.Scan(&m.GroupID, &m.UserID, &role); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = models.Role(role)
		if g, ok := byID[m.GroupID]; ok {
			g.Members = append(g.Members, m)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}

	return groups, nil
}

// DeleteGroupContext removes a group together with its members and events.
// Returns ErrNotFound if the group doesn't exist.
func (db *DB) DeleteGroupContext(ctx context.Context, id int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := groupExists(ctx, tx, id); err != nil {
		return err
	}

	// Explicit child deletes keep the cascade independent of the pragma.
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE groupId = ?`, id); err != nil {
		return fmt.Errorf("failed to delete events of group %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE groupId = ?`, id); err != nil {
		return fmt.Errorf("failed to delete members of group %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete group %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetGroupCount returns the number of groups.
func (db *DB) GetGroupCount() (int, error) {
	return db.GetGroupCountContext(context.Background())
}

// GetGroupCountContext returns the number of groups with context support.
func (db *DB) GetGroupCountContext(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count groups: %w", err)
	}
	return count, nil
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// groupExists returns ErrNotFound unless the group row is present.
func groupExists(ctx context.Context, q queryRower, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: group %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to check group %d: %w", id, err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// parseTime tolerates empty or foreign timestamps; rows replicated by older
// peers may carry no createdAt.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
