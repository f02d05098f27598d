// Package history keeps a local record of completed downloads in a
// SQLite database under the application directory.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/h2non/filetype"
	_ "modernc.org/sqlite"

	"github.com/IsaacGridGainsDev/torrentlite/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id      TEXT NOT NULL,
	url          TEXT NOT NULL,
	filename     TEXT NOT NULL,
	dest_path    TEXT NOT NULL,
	size         INTEGER NOT NULL,
	elapsed_ms   INTEGER NOT NULL,
	file_kind    TEXT NOT NULL DEFAULT '',
	completed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_completed_at ON downloads (completed_at DESC);
`

// Entry is one completed download.
type Entry struct {
	ID          int64
	TaskID      string
	URL         string
	Filename    string
	DestPath    string
	Size        int64
	Elapsed     time.Duration
	FileKind    string
	CompletedAt time.Time
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	// The database is only touched from the manager's event loop; a
	// single connection avoids SQLITE_BUSY entirely.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Add records a completed download. The file kind is sniffed from the
// finished file's magic bytes; sniffing failures are not fatal.
func (s *Store) Add(taskID, url, filename, destPath string, size int64, elapsed time.Duration) error {
	kind := detectKind(destPath)
	_, err := s.db.Exec(
		`INSERT INTO downloads (task_id, url, filename, dest_path, size, elapsed_ms, file_kind, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, url, filename, destPath, size, elapsed.Milliseconds(), kind, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}

// Recent returns the latest n completed downloads, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.Query(
		`SELECT id, task_id, url, filename, dest_path, size, elapsed_ms, file_kind, completed_at
		 FROM downloads ORDER BY completed_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var elapsedMs, completedAt int64
		if err := rows.Scan(&e.ID, &e.TaskID, &e.URL, &e.Filename, &e.DestPath,
			&e.Size, &elapsedMs, &e.FileKind, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		e.CompletedAt = time.Unix(completedAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear removes all history entries.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM downloads`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func detectKind(path string) string {
	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown {
		if err != nil {
			log := utils.GetLogger("history")
			log.Debug().Err(err).Str("path", path).Msg("file kind sniff failed")
		}
		return ""
	}
	return kind.MIME.Value
}
