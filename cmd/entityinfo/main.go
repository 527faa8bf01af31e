// Command entityinfo resolves entity ids to their labels and descriptions.
//
// Ids are taken from the command line or, when none are given, read from
// stdin one batch per line. Each batch is printed as one JSON object.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/config"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/connections"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/engine"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/notify"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage/guard"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/termcache"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	langs      = flag.String("lang", "en", "Comma separated language codes")
	trace      = flag.Bool("trace", false, "Include a per-source pass summary in the output")
	timeout    = flag.Duration("timeout", 30*time.Second, "Timeout for each batch")
	invalidate = flag.String("invalidate", "", "Announce a change of the given entity id and exit")
	importPath = flag.String("import", "", "Import entities from a JSON lines file and exit")
	snapshot   = flag.String("snapshot", "", "Write a verified copy of a SQLite source to the given path and exit")
	sourceName = flag.String("source", "", "Source used by -import, -invalidate and -snapshot (default: the default connection)")
)

// batchResult is the JSON document printed per batch.
type batchResult struct {
	RequestID string                         `json:"request_id"`
	Entities  *types.EntityInfo              `json:"entities"`
	Trace     map[string]*engine.PassSummary `json:"trace,omitempty"`
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	manager, err := newManager(cfg)
	if err != nil {
		log.Fatalf("Failed to create connection manager: %v", err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			log.Printf("entityinfo: failed to close stores: %v", err)
		}
	}()

	if *invalidate != "" {
		if cfg.Events.Path == "" {
			log.Fatalf("ENTITYINFO_EVENTS_PATH is not set")
		}
		key, err := handleInvalidate(manager, notify.NewEventWriter(cfg.Events.Path), *invalidate, *sourceName)
		if err != nil {
			log.Fatalf("Failed to announce change: %v", err)
		}
		fmt.Printf("Announced change of %s\n", key)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *importPath != "" {
		if err := handleImport(ctx, cfg, manager, *importPath, *sourceName); err != nil {
			log.Fatalf("Import failed: %v", err)
		}
		return
	}

	if *snapshot != "" {
		if err := handleSnapshot(ctx, manager, *snapshot, *sourceName); err != nil {
			log.Fatalf("Snapshot failed: %v", err)
		}
		return
	}

	cache, err := termcache.NewLRU(cfg.Cache.Size)
	if err != nil {
		log.Fatalf("Failed to create term cache: %v", err)
	}

	if cfg.Events.Path != "" {
		watcher := notify.NewEventWatcher(cfg.Events.Path, notify.InvalidateCache(cache))
		if err := watcher.Start(); err != nil {
			log.Printf("entityinfo: change events disabled: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	metrics := engine.NewMetrics()
	r, err := newResolver(manager, cache, cfg.Cache.TTL, metrics)
	if err != nil {
		log.Fatalf("Failed to create resolver: %v", err)
	}

	languages := splitList(*langs)
	if err := run(ctx, r, flag.Args(), os.Stdin, os.Stdout, languages, *trace, *timeout); err != nil {
		log.Fatalf("Failed to resolve entities: %v", err)
	}

	snap := metrics.Snapshot()
	log.Printf("entityinfo: %d passes, %d cache hits, %d cache misses, %d term selects, %d rows dropped",
		snap.Passes, snap.CacheHits, snap.CacheMisses, snap.TermSelects, snap.RowsDropped)
}

func newManager(cfg *config.Config) (*connections.Manager, error) {
	guardConfig := guard.Config{
		RequestsPerSecond: cfg.Guard.RequestsPerSecond,
		Burst:             cfg.Guard.Burst,
		Breaker: guard.BreakerConfig{
			MaxFailures: cfg.Guard.BreakerMaxFailures,
			Timeout:     cfg.Guard.BreakerTimeout,
		},
	}
	if cfg.Storage.ConnectionsPath != "" {
		return connections.NewManager(cfg.Storage.ConnectionsPath, connections.WithGuard(guardConfig))
	}
	return connections.NewManagerFromConfig(cfg, connections.WithGuard(guardConfig)), nil
}

// run resolves the ids in args as one batch, or every line of in as its own
// batch when args is empty.
func run(ctx context.Context, r *resolver, args []string, in io.Reader, out io.Writer, languages []string, withTrace bool, timeout time.Duration) error {
	enc := json.NewEncoder(out)

	if len(args) > 0 {
		return resolveBatch(ctx, r, enc, parseBatch(strings.Join(args, " ")), languages, withTrace, timeout)
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		ids := parseBatch(scanner.Text())
		if len(ids) == 0 {
			continue
		}
		if err := resolveBatch(ctx, r, enc, ids, languages, withTrace, timeout); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func resolveBatch(ctx context.Context, r *resolver, enc *json.Encoder, ids []types.EntityID, languages []string, withTrace bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestID := uuid.NewString()[:8]
	start := time.Now()

	info, summaries, err := r.collect(ctx, ids, languages, withTrace)
	if err != nil {
		return fmt.Errorf("request %s: %w", requestID, err)
	}
	log.Printf("entityinfo: request %s resolved %d of %d ids in %s", requestID, info.Len(), len(ids), time.Since(start).Round(time.Millisecond))

	return enc.Encode(batchResult{RequestID: requestID, Entities: info, Trace: summaries})
}

// parseBatch splits a line of ids separated by whitespace or commas. Invalid
// ids are logged and skipped.
func parseBatch(line string) []types.EntityID {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	ids := make([]types.EntityID, 0, len(fields))
	for _, f := range fields {
		id, err := types.ParseEntityID(f)
		if err != nil {
			log.Printf("entityinfo: skipping %q: %v", f, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// handleInvalidate announces a change of entityID to running resolvers and
// returns the announced cache key.
func handleInvalidate(manager *connections.Manager, events *notify.EventWriter, entityID, source string) (string, error) {
	id, err := types.ParseEntityID(entityID)
	if err != nil {
		return "", err
	}
	conn, err := manager.Connection(sourceOrDefault(manager, source))
	if err != nil {
		return "", err
	}
	key := cacheKeyFor(id, conn.Repository)
	if err := events.Notify(notify.EventEntityChanged, key); err != nil {
		return "", err
	}
	return key, nil
}

func handleImport(ctx context.Context, cfg *config.Config, manager *connections.Manager, path, source string) error {
	source = sourceOrDefault(manager, source)
	conn, err := manager.Connection(source)
	if err != nil {
		return err
	}
	store, err := manager.GetStore(source)
	if err != nil {
		return err
	}
	w, err := writerFor(store)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var events *notify.EventWriter
	if cfg.Events.Path != "" {
		events = notify.NewEventWriter(cfg.Events.Path)
	}

	n, err := runImport(ctx, w, f, events, conn.Repository)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d entities into %s\n", n, source)
	return nil
}

func handleSnapshot(ctx context.Context, manager *connections.Manager, path, source string) error {
	source = sourceOrDefault(manager, source)
	store, err := manager.GetStore(source)
	if err != nil {
		return err
	}
	if g, ok := store.(*guard.Store); ok {
		store = g.Unwrap()
	}
	s, ok := store.(snapshotter)
	if !ok {
		return fmt.Errorf("source %s does not support snapshots", source)
	}
	if err := s.Snapshot(ctx, path); err != nil {
		return err
	}
	fmt.Printf("Snapshot of %s written to %s\n", source, path)
	return nil
}

// snapshotter is implemented by the sqlite store.
type snapshotter interface {
	Snapshot(ctx context.Context, destPath string) error
}

func sourceOrDefault(manager *connections.Manager, source string) string {
	if source == "" {
		return manager.GetDefaultConnection()
	}
	return source
}
