// Package library persists installed games and in-flight downloads in a
// sqlite database.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/elsbrock/gamedl/internal/download"
	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/log"
	"github.com/elsbrock/gamedl/internal/transfer"

	_ "modernc.org/sqlite"
)

// Download statuses stored in the downloads table.
const (
	StatusDownloading = "downloading"
	StatusPaused      = "paused"
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
    id             TEXT PRIMARY KEY,
    display_name   TEXT NOT NULL DEFAULT '',
    kind           TEXT NOT NULL,
    source         TEXT NOT NULL DEFAULT '',
    root_folder    TEXT NOT NULL,
    installed_path TEXT NOT NULL DEFAULT '',
    installed_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS downloads (
    id                 TEXT PRIMARY KEY,
    kind               TEXT NOT NULL,
    source             TEXT NOT NULL,
    destination_folder TEXT NOT NULL,
    archive_file_name  TEXT NOT NULL DEFAULT '',
    display_name       TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL CHECK (status IN ('downloading', 'paused')),
    percent            REAL NOT NULL DEFAULT 0,
    bytes_transferred  INTEGER NOT NULL DEFAULT 0,
    bytes_total        INTEGER NOT NULL DEFAULT 0,
    updated_at         INTEGER NOT NULL
);
`

// Game is an installed game.
type Game struct {
	ID            string        `json:"id"`
	DisplayName   string        `json:"displayName,omitempty"`
	Kind          transfer.Kind `json:"kind"`
	Source        string        `json:"source,omitempty"`
	RootFolder    string        `json:"rootFolder"`
	InstalledPath string        `json:"installedPath,omitempty"`
	InstalledAt   time.Time     `json:"installedAt"`
}

// Download is a persisted in-flight download.
type Download struct {
	Target           download.Target `json:"target"`
	Status           string          `json:"status"`
	Percent          float64         `json:"percent"`
	BytesTransferred int64           `json:"bytesTransferred"`
	BytesTotal       int64           `json:"bytesTotal"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Store wraps the library database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Info("library").
		Str("path", path).
		Msg("Database initialized")
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// UpsertGame inserts or replaces an installed game.
func (s *Store) UpsertGame(ctx context.Context, g Game) error {
	if g.InstalledAt.IsZero() {
		g.InstalledAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO games (id, display_name, kind, source, root_folder, installed_path, installed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            display_name = excluded.display_name,
            kind = excluded.kind,
            source = excluded.source,
            root_folder = excluded.root_folder,
            installed_path = excluded.installed_path,
            installed_at = excluded.installed_at
    `, g.ID, g.DisplayName, string(g.Kind), g.Source, g.RootFolder, g.InstalledPath, g.InstalledAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upserting game %s: %w", g.ID, err)
	}
	return nil
}

// Game returns one installed game; unknown ids yield a NotFound error.
func (s *Store) Game(ctx context.Context, id string) (Game, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, display_name, kind, source, root_folder, installed_path, installed_at
        FROM games WHERE id = ?
    `, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, errdefs.NewNotFoundError(id)
	}
	if err != nil {
		return Game{}, fmt.Errorf("loading game %s: %w", id, err)
	}
	return g, nil
}

// Games lists installed games ordered by id.
func (s *Store) Games(ctx context.Context) ([]Game, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, display_name, kind, source, root_folder, installed_path, installed_at
        FROM games ORDER BY id
    `)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// DeleteGame removes a game row; unknown ids yield a NotFound error.
func (s *Store) DeleteGame(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting game %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NewNotFoundError(id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(sc scanner) (Game, error) {
	var (
		g           Game
		kind        string
		installedAt int64
	)
	if err := sc.Scan(&g.ID, &g.DisplayName, &kind, &g.Source, &g.RootFolder, &g.InstalledPath, &installedAt); err != nil {
		return Game{}, err
	}
	g.Kind = transfer.Kind(kind)
	g.InstalledAt = time.UnixMilli(installedAt)
	return g, nil
}

// SaveDownload records a newly started download, replacing any older row.
func (s *Store) SaveDownload(ctx context.Context, t download.Target) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO downloads (id, kind, source, destination_folder, archive_file_name, display_name, status, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            kind = excluded.kind,
            source = excluded.source,
            destination_folder = excluded.destination_folder,
            archive_file_name = excluded.archive_file_name,
            display_name = excluded.display_name,
            status = excluded.status,
            percent = 0,
            bytes_transferred = 0,
            bytes_total = 0,
            updated_at = excluded.updated_at
    `, t.ID, string(t.Kind), t.Source, t.DestinationFolder, t.ArchiveFileName, t.DisplayName, StatusDownloading, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving download %s: %w", t.ID, err)
	}
	return nil
}

// UpdateDownloadProgress stores the latest status and counters. Rows for
// untracked ids are left alone.
func (s *Store) UpdateDownloadProgress(ctx context.Context, id, status string, percent float64, bytesTransferred, bytesTotal int64) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE downloads
        SET status = ?, percent = ?, bytes_transferred = ?, bytes_total = ?, updated_at = ?
        WHERE id = ?
    `, status, percent, bytesTransferred, bytesTotal, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("updating download %s: %w", id, err)
	}
	return nil
}

// DeleteDownload drops the row for id, if any.
func (s *Store) DeleteDownload(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting download %s: %w", id, err)
	}
	return nil
}

// Download returns the row for id; unknown ids yield a NotFound error.
func (s *Store) Download(ctx context.Context, id string) (Download, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, kind, source, destination_folder, archive_file_name, display_name,
               status, percent, bytes_transferred, bytes_total, updated_at
        FROM downloads WHERE id = ?
    `, id)
	d, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Download{}, errdefs.NewNotFoundError(id)
	}
	if err != nil {
		return Download{}, fmt.Errorf("loading download %s: %w", id, err)
	}
	return d, nil
}

// Downloads lists every persisted download ordered by id.
func (s *Store) Downloads(ctx context.Context) ([]Download, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, kind, source, destination_folder, archive_file_name, display_name,
               status, percent, bytes_transferred, bytes_total, updated_at
        FROM downloads ORDER BY id
    `)
	if err != nil {
		return nil, fmt.Errorf("listing downloads: %w", err)
	}
	defer rows.Close()

	var out []Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning download: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PausedDownloads returns resumable records for every row. Downloads that
// were still running when the process died are treated as paused.
func (s *Store) PausedDownloads(ctx context.Context) ([]download.PauseRecord, error) {
	rows, err := s.Downloads(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]download.PauseRecord, 0, len(rows))
	for _, d := range rows {
		records = append(records, download.PauseRecord{
			Target:           d.Target,
			BytesTransferred: d.BytesTransferred,
			BytesTotal:       d.BytesTotal,
			PausedAt:         d.UpdatedAt,
		})
	}
	return records, nil
}

func scanDownload(sc scanner) (Download, error) {
	var (
		d         Download
		kind      string
		updatedAt int64
	)
	err := sc.Scan(&d.Target.ID, &kind, &d.Target.Source, &d.Target.DestinationFolder, &d.Target.ArchiveFileName,
		&d.Target.DisplayName, &d.Status, &d.Percent, &d.BytesTransferred, &d.BytesTotal, &updatedAt)
	if err != nil {
		return Download{}, err
	}
	d.Target.Kind = transfer.Kind(kind)
	d.UpdatedAt = time.UnixMilli(updatedAt)
	return d, nil
}
