// Package intake watches a drop directory and uploads files placed
// there as records for the connected identity.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ostrander/medvault/internal/models"
)

// archiveDir is the subdirectory uploaded files are moved into.
const archiveDir = "archived"

const defaultSettle = 500 * time.Millisecond

// Uploader pins a document and records it in the ledger.
type Uploader interface {
	Upload(ctx context.Context, owner, name, category string, data []byte) (*models.Record, error)
}

// Identity resolves the active wallet address.
type Identity interface {
	Current() (string, error)
}

// Watch starts an fsnotify watcher on dropDir and processes file drops
// until ctx is cancelled. Files are uploaded once writes have settled
// for the settle interval, then moved into the archived/ subdirectory.
// Files dropped while no wallet session is active are left in place; a
// later write event retries them.
func Watch(ctx context.Context, dropDir string, up Uploader, ident Identity, settle time.Duration, logger *slog.Logger) error {
	if settle <= 0 {
		settle = defaultSettle
	}
	if err := os.MkdirAll(filepath.Join(dropDir, archiveDir), 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dropDir); err != nil {
		return err
	}

	logger.Info("intake: started", slog.String("dir", dropDir))

	// pending maps paths to the time of their last write event. A single
	// timer fires after the settle interval and flushes everything that
	// has been quiet long enough.
	pending := make(map[string]time.Time)
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	schedule := func() {
		if settleTimer == nil {
			settleTimer = time.NewTimer(settle)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(settle)
		}
	}

	flush := func() {
		now := time.Now()
		for path, last := range pending {
			if now.Sub(last) < settle {
				continue
			}
			delete(pending, path)
			processDrop(ctx, path, dropDir, up, ident, logger)
		}
		if len(pending) > 0 {
			schedule()
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("intake: stopped")
			return nil

		case <-settleCh:
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || name == archiveDir {
				continue
			}
			if info, statErr := os.Stat(ev.Name); statErr != nil || info.IsDir() {
				continue
			}
			pending[ev.Name] = time.Now()
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("intake: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// processDrop uploads one settled file and archives it on success.
func processDrop(ctx context.Context, path, dropDir string, up Uploader, ident Identity, logger *slog.Logger) {
	owner, err := ident.Current()
	if err != nil {
		logger.Warn("intake: no wallet session, leaving file", slog.String("path", path))
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("intake: read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	name := filepath.Base(path)
	rec, err := up.Upload(ctx, owner, name, "", data)
	if err != nil {
		logger.Error("intake: upload failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	dst := filepath.Join(dropDir, archiveDir, name)
	if _, statErr := os.Stat(dst); statErr == nil {
		dst = filepath.Join(dropDir, archiveDir, fmt.Sprintf("%d-%s", time.Now().Unix(), name))
	}
	if err := os.Rename(path, dst); err != nil {
		logger.Warn("intake: archive failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	logger.Info("intake: uploaded",
		slog.String("name", name),
		slog.String("record", rec.ID),
		slog.String("cid", rec.CID))
}
