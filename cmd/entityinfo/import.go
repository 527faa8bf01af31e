package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/notify"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage/guard"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// termWriter is implemented by the sqlite and postgres stores.
type termWriter interface {
	SavePage(ctx context.Context, id types.EntityID) (int64, error)
	SaveRedirect(ctx context.Context, from, target types.EntityID) error
	SaveTerm(ctx context.Context, id types.EntityID, kind types.TermKind, language, text string) error
}

// importRecord is one line of an import file, e.g.
//
//	{"id": "Q1", "labels": {"en": "Cat"}, "descriptions": {"en": "small feline"}}
//	{"id": "Q3", "redirect": "Q1"}
type importRecord struct {
	ID           string            `json:"id"`
	Redirect     string            `json:"redirect,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Descriptions map[string]string `json:"descriptions,omitempty"`
}

// writerFor returns the term writer behind store.
func writerFor(store storage.EntityStore) (termWriter, error) {
	if g, ok := store.(*guard.Store); ok {
		store = g.Unwrap()
	}
	w, ok := store.(termWriter)
	if !ok {
		return nil, fmt.Errorf("store %T does not support imports", store)
	}
	return w, nil
}

// runImport writes the JSON lines read from r into w and returns the number
// of imported entities. Every imported id is announced through events, if set,
// as the key the resolver of a source with the given repository caches it under.
func runImport(ctx context.Context, w termWriter, r io.Reader, events *notify.EventWriter, repository string) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	count := 0
	for line := 1; scanner.Scan(); line++ {
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var rec importRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return count, fmt.Errorf("line %d: %w", line, err)
		}
		id, err := importOne(ctx, w, rec)
		if err != nil {
			return count, fmt.Errorf("line %d: %w", line, err)
		}
		count++

		if events != nil {
			key := cacheKeyFor(id, repository)
			if err := events.Notify(notify.EventEntityChanged, key); err != nil {
				log.Printf("entityinfo: failed to announce change of %s: %v", key, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// cacheKeyFor returns the serialization a source with the given repository
// uses for id. Stores hold local ids only, so any prefix in id is replaced.
func cacheKeyFor(id types.EntityID, repository string) string {
	return id.WithRepository(repository).Serialization()
}

func importOne(ctx context.Context, w termWriter, rec importRecord) (types.EntityID, error) {
	id, err := types.ParseEntityID(rec.ID)
	if err != nil {
		return types.EntityID{}, err
	}

	if rec.Redirect != "" {
		target, err := types.ParseEntityID(rec.Redirect)
		if err != nil {
			return types.EntityID{}, err
		}
		return id, w.SaveRedirect(ctx, id, target)
	}

	if _, err := w.SavePage(ctx, id); err != nil {
		return types.EntityID{}, err
	}
	for lang, text := range rec.Labels {
		if err := w.SaveTerm(ctx, id, types.TermLabel, lang, text); err != nil {
			return types.EntityID{}, err
		}
	}
	for lang, text := range rec.Descriptions {
		if err := w.SaveTerm(ctx, id, types.TermDescription, lang, text); err != nil {
			return types.EntityID{}, err
		}
	}
	return id, nil
}
