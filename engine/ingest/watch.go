package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Subdirectories a Watcher moves files into once they are handled.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// ReadBatchFile decodes a scraped JSON batch.
func ReadBatchFile(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, err
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

// Watcher polls a directory for *.json batch files. Loaded files move to
// ProcessedDir and files that do not decode move to FailedDir. A file whose
// load hits a store error stays where it is for the next poll.
type Watcher struct {
	Dir      string
	Interval time.Duration
	Loader   *Loader
}

// Run scans until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := w.Scan(ctx); err != nil {
			w.Loader.log.Error("ingest: scan failed", "dir", w.Dir, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Scan handles every pending file once, in name order, and returns how many
// were loaded.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	var (
		loaded int
		errs   []error
	)
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		path := filepath.Join(w.Dir, name)
		b, err := ReadBatchFile(path)
		if err != nil {
			w.Loader.log.Error("ingest: bad batch file", "file", name, "error", err)
			errs = append(errs, w.move(path, FailedDir))
			continue
		}
		rep, err := w.Loader.Load(ctx, b)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		loaded++
		w.Loader.log.Info("ingest: file loaded", "file", name, "posts", rep.Posts, "comments", rep.Comments)
		errs = append(errs, w.move(path, ProcessedDir))
	}
	return loaded, errors.Join(errs...)
}

func (w *Watcher) move(path, sub string) error {
	dir := filepath.Join(w.Dir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dir, filepath.Base(path)))
}
