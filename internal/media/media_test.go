// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vodhls/internal/domain/stream"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := OpenRepository(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, repo.Close()) })
	return repo
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	entry := Entry{
		MediaItem: stream.MediaItem{
			ID: "abc123", SourcePath: "/media/movie.mkv", Title: "Movie",
		},
		Size:    1 << 30,
		ModTime: time.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, entry))

	item, err := repo.FindByID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Movie", item.Title)
	assert.Equal(t, "/media/movie.mkv", item.SourcePath)

	_, err = repo.FindByID(ctx, "ghost")
	assert.ErrorIs(t, err, stream.ErrMediaNotFound)
}

func TestRepositoryUpsertRefreshes(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := Entry{
		MediaItem: stream.MediaItem{ID: "id1", SourcePath: "/media/a.mkv", Title: "A"},
		Size:      100,
		ModTime:   time.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, e))

	e.Size = 200
	e.Title = "A (remux)"
	require.NoError(t, repo.Upsert(ctx, e))

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(200), entries[0].Size)
	assert.Equal(t, "A (remux)", entries[0].Title)
}

func TestRepositorySetCodecs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, Entry{
		MediaItem: stream.MediaItem{ID: "id1", SourcePath: "/media/a.mkv", Title: "A"},
	}))
	require.NoError(t, repo.SetCodecs(ctx, "id1", "h264", "aac"))

	item, err := repo.FindByID(ctx, "id1")
	require.NoError(t, err)
	assert.Equal(t, "h264", item.VideoCodec)
	assert.Equal(t, "aac", item.AudioCodec)
}

func TestRepositoryDeleteByPath(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, Entry{
		MediaItem: stream.MediaItem{ID: "id1", SourcePath: "/media/a.mkv", Title: "A"},
	}))

	id, err := repo.DeleteByPath(ctx, "/media/a.mkv")
	require.NoError(t, err)
	assert.Equal(t, "id1", id)

	id, err = repo.DeleteByPath(ctx, "/media/unknown.mkv")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestStableID(t *testing.T) {
	a := StableID("movies/film.mkv")
	b := StableID("movies/film.mkv")
	c := StableID("movies/other.mkv")

	assert.Equal(t, a, b, "ids must be deterministic")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)

	// Separator-normalized: the same file yields the same id on any OS.
	assert.Equal(t, a, StableID(filepath.Join("movies", "film.mkv")))
}

func writeVideo(t *testing.T, root string, rel string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))      // #nosec G301
	require.NoError(t, os.WriteFile(path, []byte("vid"), 0o644))    // #nosec G306
	return path
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeVideo(t, root, "movies/film.mkv")
	writeVideo(t, root, "shows/s01e01.mp4")
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644)) // #nosec G306

	repo := newTestRepo(t)
	scanner, err := NewScanner(root, repo, nil)
	require.NoError(t, err)
	require.NoError(t, scanner.Scan(context.Background()))

	entries, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2, "only video extensions are indexed")

	item, err := repo.FindByID(context.Background(), StableID("movies/film.mkv"))
	require.NoError(t, err)
	assert.Equal(t, "film", item.Title)
}

func TestScanRemovesVanishedFiles(t *testing.T) {
	root := t.TempDir()
	path := writeVideo(t, root, "film.mkv")
	writeVideo(t, root, "keep.mkv")

	repo := newTestRepo(t)
	var evicted []string
	scanner, err := NewScanner(root, repo, func(id string) { evicted = append(evicted, id) })
	require.NoError(t, err)

	require.NoError(t, scanner.Scan(context.Background()))
	require.NoError(t, os.Remove(path))
	require.NoError(t, scanner.Scan(context.Background()))

	entries, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].Title)
	assert.Equal(t, []string{StableID("film.mkv")}, evicted)
}

func TestScanSkipsHiddenDirs(t *testing.T) {
	root := t.TempDir()
	writeVideo(t, root, ".trash/deleted.mkv")
	writeVideo(t, root, "visible.mkv")

	repo := newTestRepo(t)
	scanner, err := NewScanner(root, repo, nil)
	require.NoError(t, err)
	require.NoError(t, scanner.Scan(context.Background()))

	entries, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0].Title)
}

func TestWatchPicksUpNewFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("debounced watcher test")
	}
	root := t.TempDir()
	repo := newTestRepo(t)
	scanner, err := NewScanner(root, repo, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = scanner.Watch(ctx)
	}()

	// Give the watcher a moment to arm before creating the file.
	time.Sleep(200 * time.Millisecond)
	writeVideo(t, root, "new.mkv")

	require.Eventually(t, func() bool {
		entries, err := repo.List(context.Background())
		return err == nil && len(entries) == 1
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	<-done
}
