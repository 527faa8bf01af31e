// Package notify carries entity change notifications between processes
// through files in a shared events directory. Writers drop one file per
// change; watchers pick them up with fsnotify and dispatch a callback, which
// the resolver host uses to invalidate cached terms.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event types.
const (
	// EventEntityChanged signals that the terms of an entity changed.
	EventEntityChanged = "entity_changed"

	// EventEntityDeleted signals that an entity's page was deleted or redirected.
	EventEntityDeleted = "entity_deleted"
)

// Event is the payload written to an event file.
type Event struct {
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
	Time     int64  `json:"time"`
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, "events")}
}

// Notify writes an event file with the given type.
// Safe to call concurrently.
func (w *EventWriter) Notify(eventType, entityID string) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt := Event{
		Type:     eventType,
		EntityID: entityID,
		Time:     time.Now().UnixNano(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	// Write under a temporary name and rename, so watchers never read a
	// half-written file.
	name := fmt.Sprintf("%d-%s", evt.Time, sanitizeID(entityID))
	tmp := filepath.Join(w.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write event: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name+eventFileSuffix)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: publish event: %w", err)
	}
	return nil
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := []byte(id)
	for i, c := range out {
		if c == '/' || c == ':' || c == '\\' {
			out[i] = '_'
		}
	}
	return string(out)
}
