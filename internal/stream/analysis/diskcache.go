// SPDX-License-Identifier: MIT

package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/vodhls/internal/domain/stream"
	"github.com/ManuGH/vodhls/internal/log"
)

const diskKeyPrefix = "analysis:"

// Fingerprint identifies a source file version. A changed file invalidates
// its cached analysis.
type Fingerprint struct {
	Size    int64 `json:"size"`
	ModTime int64 `json:"mtime_unix_nano"`
}

// FingerprintOf stats the source file and derives its fingerprint.
func FingerprintOf(path string) (Fingerprint, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("stat source: %w", err)
	}
	return Fingerprint{Size: st.Size(), ModTime: st.ModTime().UnixNano()}, nil
}

// diskEnvelope is the stored record: fingerprint plus the analysis itself.
type diskEnvelope struct {
	Fingerprint Fingerprint      `json:"fingerprint"`
	SavedAt     time.Time        `json:"saved_at"`
	Analysis    *stream.Analysis `json:"analysis"`
}

// DiskCache persists analyses across restarts so a daemon restart does not
// re-probe every previously played file. Misses and corrupt records are
// never fatal; the builder just probes again.
type DiskCache struct {
	db *badger.DB
}

// OpenDiskCache opens (or creates) the badger store at dir.
func OpenDiskCache(dir string) (*DiskCache, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithIndexCacheSize(8 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open analysis cache: %w", err)
	}
	return &DiskCache{db: db}, nil
}

// Close flushes and closes the store.
func (c *DiskCache) Close() error {
	return c.db.Close()
}

// Get loads a cached analysis if its fingerprint still matches the source
// file. Stale or undecodable records count as misses.
func (c *DiskCache) Get(mediaID string, fp Fingerprint) (*stream.Analysis, bool) {
	var env diskEnvelope
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(diskKeyPrefix + mediaID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			logger := log.WithStreaming("analysis-cache")
			logger.Warn().
				Err(err).
				Str(log.FieldMediaID, mediaID).
				Msg("unreadable cache record, treating as miss")
		}
		return nil, false
	}
	if env.Analysis == nil || env.Fingerprint != fp {
		return nil, false
	}
	return env.Analysis, true
}

// Put stores an analysis keyed by media id.
func (c *DiskCache) Put(a *stream.Analysis, fp Fingerprint) error {
	payload, err := json.Marshal(diskEnvelope{
		Fingerprint: fp,
		SavedAt:     time.Now().UTC(),
		Analysis:    a,
	})
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(diskKeyPrefix+a.MediaID), payload)
	})
	if err != nil {
		return fmt.Errorf("store analysis: %w", err)
	}
	return nil
}

// Delete drops the record for a media id. Missing keys are not an error.
func (c *DiskCache) Delete(mediaID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(diskKeyPrefix + mediaID))
	})
}
