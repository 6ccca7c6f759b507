// Package database implements the drive.Database interface on SQLite.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tgdrive/internal/database/migrations"
	"tgdrive/internal/drive"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the drive.Database interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens (creating if needed) a SQLite index database
// and brings its schema up to date.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with the
// PRAGMAs the index relies on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// The engine runs many short statements from concurrent operations;
	// a single pooled connection with WAL keeps SQLite happy without
	// long-lived transactions spanning transport calls.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring database: %w", err)
		}
	}
	return db, nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

// Directory operations

const directoryColumns = "id, parent_id, name, msg_id, is_broken, updated_at"

func scanDirectory(row interface{ Scan(...any) error }) (*drive.Directory, error) {
	var d drive.Directory
	var parentID sql.NullString
	var msgID sql.NullInt64
	var broken int64
	if err := row.Scan(&d.ID, &parentID, &d.Name, &msgID, &broken, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ParentID = parentID.String
	d.MessageID = msgID.Int64
	d.IsBroken = broken != 0
	return &d, nil
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullableID(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func (s *SQLiteDatabase) GetDirectory(id string) (*drive.Directory, error) {
	row := s.db.QueryRow("SELECT "+directoryColumns+" FROM directories WHERE id = ?", id)
	d, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding directory: %w", err)
	}
	return d, nil
}

func (s *SQLiteDatabase) DirectoryExists(id string) (bool, error) {
	var count int64
	err := s.db.QueryRow("SELECT COUNT(1) FROM directories WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting directories: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteDatabase) FindDirectoryByName(name string) (*drive.Directory, error) {
	row := s.db.QueryRow(
		"SELECT "+directoryColumns+` FROM directories
		 WHERE lower(name) = lower(?)
		 ORDER BY (parent_id IS NULL) DESC, updated_at DESC
		 LIMIT 1`, name)
	d, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding directory by name: %w", err)
	}
	return d, nil
}

func (s *SQLiteDatabase) InsertDirectory(d *drive.Directory) error {
	_, err := s.db.Exec(
		"INSERT INTO directories(id, parent_id, name, msg_id, is_broken, updated_at) VALUES(?, ?, ?, ?, ?, ?)",
		d.ID, nullableString(d.ParentID), d.Name, nullableID(d.MessageID), boolToInt(d.IsBroken), d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting directory: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UpsertDirectory(d *drive.Directory) error {
	_, err := s.db.Exec(
		`INSERT INTO directories(id, parent_id, name, msg_id, is_broken, updated_at) VALUES(?, ?, ?, ?, 0, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   parent_id=excluded.parent_id, name=excluded.name, msg_id=excluded.msg_id,
		   is_broken=0, updated_at=excluded.updated_at`,
		d.ID, nullableString(d.ParentID), d.Name, nullableID(d.MessageID), d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting directory: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UpdateDirectory(d *drive.Directory) error {
	_, err := s.db.Exec(
		"UPDATE directories SET parent_id = ?, name = ?, msg_id = ?, is_broken = ?, updated_at = ? WHERE id = ?",
		nullableString(d.ParentID), d.Name, nullableID(d.MessageID), boolToInt(d.IsBroken), d.UpdatedAt, d.ID)
	if err != nil {
		return fmt.Errorf("updating directory: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) EnsureDirectoryPlaceholder(id string, updatedAt int64) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO directories(id, parent_id, name, msg_id, is_broken, updated_at)
		 VALUES(?, NULL, ?, NULL, 0, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, drive.PlaceholderDirName, updatedAt)
	if err != nil {
		return false, fmt.Errorf("inserting directory placeholder: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking placeholder insert: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLiteDatabase) DeleteDirectory(id string) error {
	_, err := s.db.Exec("DELETE FROM directories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting directory: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListDirectories() ([]*drive.Directory, error) {
	rows, err := s.db.Query("SELECT " + directoryColumns + " FROM directories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing directories: %w", err)
	}
	defer rows.Close()

	var out []*drive.Directory
	for rows.Next() {
		d, err := scanDirectory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning directory: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) CountDirectoryChildren(id string) (dirs, files int64, err error) {
	if err = s.db.QueryRow("SELECT COUNT(1) FROM directories WHERE parent_id = ?", id).Scan(&dirs); err != nil {
		return 0, 0, fmt.Errorf("counting child directories: %w", err)
	}
	if err = s.db.QueryRow("SELECT COUNT(1) FROM files WHERE dir_id = ?", id).Scan(&files); err != nil {
		return 0, 0, fmt.Errorf("counting child files: %w", err)
	}
	return dirs, files, nil
}

func (s *SQLiteDatabase) DirectoriesWithMessageAtLeast(min drive.MessageID) ([]*drive.Directory, error) {
	rows, err := s.db.Query(
		"SELECT "+directoryColumns+" FROM directories WHERE msg_id IS NOT NULL AND msg_id >= ?", min)
	if err != nil {
		return nil, fmt.Errorf("listing directories by message id: %w", err)
	}
	defer rows.Close()

	var out []*drive.Directory
	for rows.Next() {
		d, err := scanDirectory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning directory: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) SetDirectoryBroken(id string, broken bool) error {
	_, err := s.db.Exec("UPDATE directories SET is_broken = ? WHERE id = ?", boolToInt(broken), id)
	if err != nil {
		return fmt.Errorf("updating directory flag: %w", err)
	}
	return nil
}

// File operations

const fileColumns = "id, dir_id, name, size, hash, chat_id, msg_id, created_at, is_broken"

func scanFile(row interface{ Scan(...any) error }) (*drive.File, error) {
	var f drive.File
	var broken int64
	if err := row.Scan(&f.ID, &f.DirID, &f.Name, &f.Size, &f.Hash, &f.ChatID, &f.MessageID, &f.CreatedAt, &broken); err != nil {
		return nil, err
	}
	f.IsBroken = broken != 0
	return &f, nil
}

func (s *SQLiteDatabase) GetFile(id string) (*drive.File, error) {
	row := s.db.QueryRow("SELECT "+fileColumns+" FROM files WHERE id = ?", id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return f, nil
}

func (s *SQLiteDatabase) FindFileByLocation(chat drive.ChatID, msg drive.MessageID) (*drive.File, error) {
	row := s.db.QueryRow("SELECT "+fileColumns+" FROM files WHERE chat_id = ? AND msg_id = ? LIMIT 1", chat, msg)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file by location: %w", err)
	}
	return f, nil
}

func (s *SQLiteDatabase) InsertFile(f *drive.File) error {
	_, err := s.db.Exec(
		"INSERT INTO files("+fileColumns+") VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)",
		f.ID, f.DirID, f.Name, f.Size, f.Hash, f.ChatID, f.MessageID, f.CreatedAt, boolToInt(f.IsBroken))
	if err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UpsertFile(f *drive.File) error {
	_, err := s.db.Exec(
		`INSERT INTO files(`+fileColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(id) DO UPDATE SET
		   dir_id=excluded.dir_id, name=excluded.name, size=excluded.size, hash=excluded.hash,
		   chat_id=excluded.chat_id, msg_id=excluded.msg_id, is_broken=0`,
		f.ID, f.DirID, f.Name, f.Size, f.Hash, f.ChatID, f.MessageID, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting file: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UpdateFile(f *drive.File) error {
	_, err := s.db.Exec(
		"UPDATE files SET dir_id = ?, name = ?, size = ?, hash = ?, chat_id = ?, msg_id = ?, is_broken = ? WHERE id = ?",
		f.DirID, f.Name, f.Size, f.Hash, f.ChatID, f.MessageID, boolToInt(f.IsBroken), f.ID)
	if err != nil {
		return fmt.Errorf("updating file: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UpdateFileSize(id string, size int64) error {
	_, err := s.db.Exec("UPDATE files SET size = ? WHERE id = ?", size, id)
	if err != nil {
		return fmt.Errorf("updating file size: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteFile(id string) error {
	_, err := s.db.Exec("DELETE FROM files WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListFilesInDirectory(dirID string) ([]*drive.File, error) {
	rows, err := s.db.Query("SELECT "+fileColumns+" FROM files WHERE dir_id = ? ORDER BY name", dirID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func (s *SQLiteDatabase) SearchFiles(filter drive.FileFilter) ([]*drive.File, error) {
	var sb strings.Builder
	sb.WriteString("SELECT " + fileColumns + " FROM files WHERE 1=1")
	var args []any

	if dirID := strings.TrimSpace(filter.DirID); dirID != "" {
		sb.WriteString(" AND dir_id = ?")
		args = append(args, dirID)
	}
	if name := strings.TrimSpace(filter.Name); name != "" {
		sb.WriteString(" AND lower(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(name)+"%")
	}
	if ext := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(filter.Extension), ".")); ext != "" {
		sb.WriteString(" AND lower(name) LIKE ?")
		args = append(args, "%."+strings.ToLower(ext))
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}
	sb.WriteString(" ORDER BY name LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("searching files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func (s *SQLiteDatabase) FilesInChatWithMessageAtLeast(chat drive.ChatID, min drive.MessageID) ([]*drive.File, error) {
	rows, err := s.db.Query("SELECT "+fileColumns+" FROM files WHERE chat_id = ? AND msg_id >= ?", chat, min)
	if err != nil {
		return nil, fmt.Errorf("listing files by message id: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func (s *SQLiteDatabase) SetFileBroken(id string, broken bool) error {
	_, err := s.db.Exec("UPDATE files SET is_broken = ? WHERE id = ?", boolToInt(broken), id)
	if err != nil {
		return fmt.Errorf("updating file flag: %w", err)
	}
	return nil
}

func collectFiles(rows *sql.Rows) ([]*drive.File, error) {
	var out []*drive.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Sync state

func (s *SQLiteDatabase) GetSyncState(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM sync_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading sync state: %w", err)
	}
	return value, nil
}

func (s *SQLiteDatabase) SetSyncState(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO sync_state(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("writing sync state: %w", err)
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements the interface.
var _ drive.Database = (*SQLiteDatabase)(nil)
