package notify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/termcache"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

type eventMsg struct {
	eventType string
	entityID  string
}

func TestEventWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	w := NewEventWriter(dir)

	if err := w.Notify(EventEntityChanged, "wd:Q42"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 event file, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".event" {
		t.Errorf("expected .event extension, got %s", entries[0].Name())
	}
}

func TestEventWatcherReceivesEvent(t *testing.T) {
	dir := t.TempDir()
	received := make(chan eventMsg, 1)

	watcher := NewEventWatcher(dir, func(eventType, entityID string) {
		received <- eventMsg{eventType, entityID}
	})
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	// Give fsnotify a moment to register
	time.Sleep(50 * time.Millisecond)

	if err := NewEventWriter(dir).Notify(EventEntityDeleted, "Q7"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.eventType != EventEntityDeleted {
			t.Errorf("expected event type %s, got %s", EventEntityDeleted, msg.eventType)
		}
		if msg.entityID != "Q7" {
			t.Errorf("expected Q7, got %s", msg.entityID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventWatcherDrainsExisting(t *testing.T) {
	dir := t.TempDir()

	writer := NewEventWriter(dir)
	_ = writer.Notify(EventEntityChanged, "Q1")
	_ = writer.Notify(EventEntityChanged, "Q2")

	received := make(chan string, 10)
	watcher := NewEventWatcher(dir, func(_, entityID string) {
		received <- entityID
	})
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	// Drain processes both files synchronously during Start.
	if len(received) != 2 {
		t.Fatalf("expected 2 drained events, got %d", len(received))
	}
}

func TestStopWithoutStart(t *testing.T) {
	NewEventWatcher(t.TempDir(), nil).Stop()
}

func TestInvalidateCacheOnChange(t *testing.T) {
	cache, err := termcache.NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	row := types.TermRow{EntityID: "Q1", Kind: types.TermLabel, Language: "en", Text: "Cat"}
	key := termcache.KeyFor(row)
	if err := cache.SetMany(context.Background(), []termcache.Entry{{Key: key, Row: row, TTL: time.Minute}}); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	done := make(chan struct{}, 1)
	invalidate := InvalidateCache(cache)
	watcher := NewEventWatcher(dir, func(eventType, entityID string) {
		invalidate(eventType, entityID)
		done <- struct{}{}
	})
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	time.Sleep(50 * time.Millisecond)

	if err := NewEventWriter(dir).Notify(EventEntityChanged, "Q1"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	got, _ := cache.GetMany(context.Background(), []termcache.Key{key})
	if len(got) != 0 {
		t.Errorf("expected Q1 terms to be invalidated, still cached: %v", got)
	}
}

func TestInvalidateCacheIgnoresUnknownEvents(t *testing.T) {
	cache, err := termcache.NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	row := types.TermRow{EntityID: "Q1", Kind: types.TermLabel, Language: "en", Text: "Cat"}
	_ = cache.SetMany(context.Background(), []termcache.Entry{{Key: termcache.KeyFor(row), Row: row, TTL: time.Minute}})

	InvalidateCache(cache)("entity_viewed", "Q1")

	if cache.Len() != 1 {
		t.Errorf("expected cache to be untouched, len=%d", cache.Len())
	}
}

func TestSanitizeID(t *testing.T) {
	got := sanitizeID("wd:Q1/x")
	if got != "wd_Q1_x" {
		t.Errorf("expected wd_Q1_x, got %s", got)
	}
}

func TestEventWatcherSkipsMalformedAndPartialFiles(t *testing.T) {
	dir := t.TempDir()
	eventsDir := filepath.Join(dir, "events")
	if err := os.MkdirAll(eventsDir, 0o700); err != nil {
		t.Fatal(err)
	}
	broken := filepath.Join(eventsDir, "1-Q1.event")
	partial := filepath.Join(eventsDir, "2-Q2.tmp")
	if err := os.WriteFile(broken, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(partial, []byte(`{"type":"entity_changed","entity_id":"Q2"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	_ = NewEventWriter(dir).Notify(EventEntityDeleted, "Q3")

	var got []eventMsg
	watcher := NewEventWatcher(dir, func(eventType, entityID string) {
		got = append(got, eventMsg{eventType, entityID})
	})
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	watcher.Stop()

	if len(got) != 1 || got[0] != (eventMsg{EventEntityDeleted, "Q3"}) {
		t.Fatalf("expected only the Q3 delete event, got %+v", got)
	}
	if _, err := os.Stat(broken); !os.IsNotExist(err) {
		t.Errorf("malformed event file should be consumed, stat err = %v", err)
	}
	if _, err := os.Stat(partial); err != nil {
		t.Errorf("partial file should be left alone: %v", err)
	}
}
