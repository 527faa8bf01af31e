package notify

import (
	"log"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/termcache"
)

// InvalidateCache returns a watcher callback that drops the cached terms of
// every entity named in a change or delete event.
func InvalidateCache(inv termcache.Invalidator) Handler {
	return func(eventType, entityID string) {
		switch eventType {
		case EventEntityChanged, EventEntityDeleted:
			n := inv.Invalidate(entityID)
			log.Printf("notify: %s %s, dropped %d cached terms", eventType, entityID, n)
		default:
			log.Printf("notify: ignoring unknown event type %q for %s", eventType, entityID)
		}
	}
}
