// SPDX-License-Identifier: MIT

package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic writes data to path with full durability guarantees using
// renameio: temp file, fsync, atomic rename. Readers never observe a partial
// file under the final name.
func WriteFileAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		// renameio removes the temp file if not committed.
		_ = pending.Cleanup()
	}()

	if err := write(pending); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace file: %w", err)
	}
	return nil
}

// PromoteTmp atomically renames a produced temp file into its final place.
// On any error the temp file is removed.
func PromoteTmp(tmpPath, finalPath string) error {
	if err := IsRegularFile(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("tmp artifact missing: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("promote tmp artifact: %w", err)
	}
	return nil
}
