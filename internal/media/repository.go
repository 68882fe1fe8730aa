// SPDX-License-Identifier: MIT

// Package media manages the library index: discovering video files on disk
// and resolving the stable ids the streaming endpoints are keyed by.
package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // cgo-free sqlite driver

	"github.com/ManuGH/vodhls/internal/domain/stream"
)

const schema = `
CREATE TABLE IF NOT EXISTS media (
	id          TEXT PRIMARY KEY,
	source_path TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL,
	video_codec TEXT NOT NULL DEFAULT '',
	audio_codec TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	mod_time    INTEGER NOT NULL DEFAULT 0,
	added_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_media_source_path ON media(source_path);
`

// Repository is the sqlite-backed media index.
type Repository struct {
	db *sql.DB
}

var _ stream.MediaRepository = (*Repository)(nil)

// OpenRepository opens (or creates) the index database at path. ":memory:"
// is valid for tests.
func OpenRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open media index: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply media schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// FindByID resolves a media id or returns stream.ErrMediaNotFound.
func (r *Repository) FindByID(ctx context.Context, id string) (stream.MediaItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, source_path, title, video_codec, audio_codec FROM media WHERE id = ?`, id)

	var item stream.MediaItem
	err := row.Scan(&item.ID, &item.SourcePath, &item.Title, &item.VideoCodec, &item.AudioCodec)
	if errors.Is(err, sql.ErrNoRows) {
		return stream.MediaItem{}, stream.ErrMediaNotFound
	}
	if err != nil {
		return stream.MediaItem{}, fmt.Errorf("query media %s: %w", id, err)
	}
	return item, nil
}

// Entry is a library row including scan bookkeeping.
type Entry struct {
	stream.MediaItem
	Size    int64
	ModTime time.Time
	AddedAt time.Time
}

// Upsert inserts or refreshes a library entry keyed by id.
func (r *Repository) Upsert(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO media (id, source_path, title, video_codec, audio_codec, size, mod_time, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_path = excluded.source_path,
			title       = excluded.title,
			size        = excluded.size,
			mod_time    = excluded.mod_time`,
		e.ID, e.SourcePath, e.Title, e.VideoCodec, e.AudioCodec,
		e.Size, e.ModTime.UnixNano(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert media %s: %w", e.ID, err)
	}
	return nil
}

// SetCodecs records the probed codecs for a media id.
func (r *Repository) SetCodecs(ctx context.Context, id, videoCodec, audioCodec string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE media SET video_codec = ?, audio_codec = ? WHERE id = ?`,
		videoCodec, audioCodec, id)
	if err != nil {
		return fmt.Errorf("update codecs for %s: %w", id, err)
	}
	return nil
}

// Delete removes a library entry. Unknown ids are not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete media %s: %w", id, err)
	}
	return nil
}

// DeleteByPath removes the entry for a source path and returns its id, or
// "" when the path was not indexed.
func (r *Repository) DeleteByPath(ctx context.Context, path string) (string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id FROM media WHERE source_path = ?`, path)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup media by path: %w", err)
	}
	return id, r.Delete(ctx, id)
}

// List returns all library entries ordered by title.
func (r *Repository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_path, title, video_codec, audio_codec, size, mod_time, added_at
		FROM media ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var modTime, addedAt int64
		if err := rows.Scan(&e.ID, &e.SourcePath, &e.Title, &e.VideoCodec, &e.AudioCodec,
			&e.Size, &modTime, &addedAt); err != nil {
			return nil, fmt.Errorf("scan media row: %w", err)
		}
		e.ModTime = time.Unix(0, modTime)
		e.AddedAt = time.Unix(addedAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
