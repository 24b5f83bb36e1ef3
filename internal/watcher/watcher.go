// Package watcher keeps the reference index in sync with a directory.
// Files created or written there are indexed, and removed files are deleted.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/rag"
	"github.com/dvloznov/finance-agent/internal/store"
)

// DefaultExtensions are indexed when no extension list is given.
var DefaultExtensions = []string{".pdf", ".txt", ".md"}

// Indexer is the part of the reference store the watcher drives.
type Indexer interface {
	Add(ctx context.Context, id, filename, text string) (*rag.AddResult, error)
	Delete(ctx context.Context, id string) error
}

// TextExtractor turns file bytes into text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Operation is the kind of change seen on a watched file.
type Operation int

const (
	FileCreated Operation = iota
	FileModified
	FileDeleted
)

func (o Operation) String() string {
	switch o {
	case FileCreated:
		return "created"
	case FileModified:
		return "modified"
	case FileDeleted:
		return "deleted"
	}
	return "unknown"
}

// Event is one filtered change.
type Event struct {
	Path      string
	Operation Operation
}

// Watcher indexes files dropped into a directory.
type Watcher struct {
	fs         *fsnotify.Watcher
	indexer    Indexer
	extractor  TextExtractor
	extensions []string
	log        zerolog.Logger
}

// New creates a Watcher. An empty extensions list uses DefaultExtensions.
func New(indexer Indexer, extractor TextExtractor, extensions []string, log zerolog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	normalized := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		normalized = append(normalized, e)
	}
	return &Watcher{
		fs:         fs,
		indexer:    indexer,
		extractor:  extractor,
		extensions: normalized,
		log:        log,
	}, nil
}

// ReferenceID is the reference document id used for a watched file.
// The same path always maps to the same id, so a rewrite replaces the
// earlier version.
func ReferenceID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "watch-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String()
}

// Watch starts monitoring dir and returns the filtered event stream. The
// channel is closed when ctx is done or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	if err := w.fs.Add(dir); err != nil {
		return nil, fmt.Errorf("Watch: %s: %w", dir, err)
	}

	events := make(chan Event, 100)

	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.fs.Events:
				if !ok {
					return
				}
				if !w.watched(ev.Name) {
					continue
				}

				var op Operation
				switch {
				case ev.Has(fsnotify.Create):
					op = FileCreated
				case ev.Has(fsnotify.Write):
					op = FileModified
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					op = FileDeleted
				default:
					continue
				}

				select {
				case events <- Event{Path: ev.Name, Operation: op}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.fs.Errors:
				if !ok {
					return
				}
				w.log.Warn().Err(err).Str("dir", dir).Msg("file watcher error")
			}
		}
	}()

	return events, nil
}

// Run indexes existing files in dir, then applies changes until ctx is done.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	events, err := w.Watch(ctx, dir)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}

	if err := w.Sync(ctx, dir); err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	w.log.Info().Str("dir", dir).Strs("extensions", w.extensions).Msg("watching reference folder")

	for ev := range events {
		if err := w.Handle(ctx, ev); err != nil {
			w.log.Warn().Err(err).Str("path", ev.Path).Str("op", ev.Operation.String()).Msg("reference update failed")
		}
	}
	return ctx.Err()
}

// Sync indexes every watched file already present in dir.
func (w *Watcher) Sync(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("Sync: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !w.watched(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := w.Handle(ctx, Event{Path: path, Operation: FileCreated}); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			w.log.Warn().Err(err).Str("path", path).Msg("initial indexing failed")
		}
	}
	return nil
}

// Handle applies one event to the index.
func (w *Watcher) Handle(ctx context.Context, ev Event) error {
	id := ReferenceID(ev.Path)

	if ev.Operation == FileDeleted {
		if err := w.indexer.Delete(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("Handle: %w", err)
		}
		return nil
	}

	data, err := os.ReadFile(ev.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("Handle: reading %s: %w", ev.Path, err)
	}
	if len(data) == 0 {
		// An empty create is followed by a write.
		return nil
	}

	text, err := w.extractor.Extract(ctx, data)
	if err != nil {
		return fmt.Errorf("Handle: extracting %s: %w", ev.Path, err)
	}

	res, err := w.indexer.Add(ctx, id, filepath.Base(ev.Path), text)
	if err != nil {
		return fmt.Errorf("Handle: %w", err)
	}
	w.log.Info().
		Str("path", ev.Path).
		Str("reference_id", res.DocumentID).
		Int("chunks", res.ChunkCount).
		Msg("reference file indexed")
	return nil
}

// Close stops the underlying file watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) watched(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}
