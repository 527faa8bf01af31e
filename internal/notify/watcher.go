package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

const eventFileSuffix = ".event"

// Handler receives one entity change event.
type Handler func(eventType, entityID string)

// EventWatcher consumes the event files EventWriter drops into
// {dataPath}/events/. Each file is delivered to the handler at most once and
// removed, so several resolver hosts sharing the directory split the events
// between them; every host must run its own events directory to see all
// changes.
type EventWatcher struct {
	dir     string
	handle  Handler
	fsw     *fsnotify.Watcher
	stopped chan struct{}
}

// NewEventWatcher creates a watcher delivering the events of
// {dataPath}/events/ to handle.
func NewEventWatcher(dataPath string, handle Handler) *EventWatcher {
	return &EventWatcher{
		dir:     filepath.Join(dataPath, "events"),
		handle:  handle,
		stopped: make(chan struct{}),
	}
}

// Start subscribes to the events directory, creating it if needed, and
// synchronously delivers the changes announced while no watcher was running.
func (w *EventWatcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("notify: watch %s: %w", w.dir, err)
	}
	w.fsw = fsw

	// Pending files are read after subscribing; a file seen twice is
	// delivered once because consume removes it.
	w.deliverPending()

	go w.run()
	log.Printf("notify: watching %s for entity change events", w.dir)
	return nil
}

// Stop unsubscribes and waits for the delivery goroutine. It is a no-op if
// Start was never called.
func (w *EventWatcher) Stop() {
	if w.fsw == nil {
		return
	}
	_ = w.fsw.Close()
	<-w.stopped
}

func (w *EventWatcher) run() {
	defer close(w.stopped)
	for {
		select {
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Writers rename finished files into place.
			if evt.Has(fsnotify.Create) || evt.Has(fsnotify.Rename) {
				w.consume(evt.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (w *EventWatcher) deliverPending() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("notify: failed to list %s: %v", w.dir, err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.consume(filepath.Join(w.dir, entry.Name()))
		}
	}
}

// consume reads, removes and delivers one event file. Files already taken by
// another watcher and files of other kinds are skipped.
func (w *EventWatcher) consume(path string) {
	if !strings.HasSuffix(path, eventFileSuffix) {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("notify: failed to remove %s: %v", filepath.Base(path), err)
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("notify: skipping malformed event %s: %v", filepath.Base(path), err)
		return
	}
	if event.EntityID == "" || w.handle == nil {
		return
	}
	w.handle(event.Type, event.EntityID)
}
