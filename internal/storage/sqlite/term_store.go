package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// maxBatchSize caps the number of bound values per IN list.
const maxBatchSize = 500

// TermStore implements storage.EntityStore using SQLite.
type TermStore struct {
	db         *sql.DB
	namespaces storage.NamespaceLookup
}

// NewTermStore opens a SQLite term store with WAL self-healing.
// If the initial open fails due to stale WAL files left behind by a crashed
// process, it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
//
// A nil namespaces lookup uses storage.DefaultNamespaces.
func NewTermStore(dsn string, namespaces storage.NamespaceLookup) (*TermStore, error) {
	if namespaces == nil {
		namespaces = storage.DefaultNamespaces
	}

	store, err := openTermStore(dsn, namespaces)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openTermStore(dsn, namespaces)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

func openTermStore(dsn string, namespaces storage.NamespaceLookup) (*TermStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &TermStore{db: db, namespaces: namespaces}, nil
}

// GetPageInfo implements storage.PageInfoProvider.
func (s *TermStore) GetPageInfo(ctx context.Context, entityType string, localIDs []string) (map[string]types.PageInfo, error) {
	ns, err := s.namespaces.Namespace(entityType)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	result := make(map[string]types.PageInfo, len(localIDs))

	for _, batch := range chunk(storage.Dedupe(localIDs), maxBatchSize) {
		query := `
			SELECT p.page_title, p.page_id, r.rd_title
			FROM page p
			LEFT JOIN redirect r ON r.rd_from = p.page_id
			WHERE p.page_namespace = ?
			  AND p.page_title IN (` + placeholders(len(batch)) + `)`

		args := make([]any, 0, len(batch)+1)
		args = append(args, ns)
		for _, id := range batch {
			args = append(args, id)
		}

		if err := s.scanPageInfo(ctx, query, args, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *TermStore) scanPageInfo(ctx context.Context, query string, args []any, into map[string]types.PageInfo) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: failed to query page info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			title   string
			pageID  int64
			rdTitle sql.NullString
		)
		if err := rows.Scan(&title, &pageID, &rdTitle); err != nil {
			return fmt.Errorf("sqlite: failed to scan page info: %w", err)
		}
		into[title] = types.PageInfo{
			PageID:         pageID,
			RedirectTarget: parseRedirectTarget(title, rdTitle),
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: page info rows: %w", err)
	}
	return nil
}

// LoadTerms implements storage.TermBatchLoader.
func (s *TermStore) LoadTerms(ctx context.Context, entityType string, kind types.TermKind, localIDs []string, languages []string) ([]types.TermRow, error) {
	table, ok := termTables[entityType]
	if !ok {
		return nil, fmt.Errorf("sqlite: %w: %q", storage.ErrUnsupportedEntityType, entityType)
	}
	if len(localIDs) == 0 || len(languages) == 0 {
		return nil, nil
	}

	numericIDs := make([]any, 0, len(localIDs))
	for _, local := range storage.Dedupe(localIDs) {
		id, err := types.ParseEntityID(local)
		if err != nil {
			log.Printf("sqlite: skipping unparsable id %q: %v", local, err)
			continue
		}
		if n, ok := id.NumericID(); ok {
			numericIDs = append(numericIDs, n)
		}
	}

	langs := storage.Dedupe(languages)
	var out []types.TermRow

	for _, batch := range chunk(numericIDs, maxBatchSize) {
		query := fmt.Sprintf(`
			SELECT %[1]s, language, text
			FROM %[2]s
			WHERE term_type = ?
			  AND %[1]s IN (%[3]s)
			  AND language IN (%[4]s)`,
			table.idColumn, table.name, placeholders(len(batch)), placeholders(len(langs)))

		args := make([]any, 0, 1+len(batch)+len(langs))
		args = append(args, string(kind))
		args = append(args, batch...)
		for _, lang := range langs {
			args = append(args, lang)
		}

		rows, err := s.queryTerms(ctx, query, args, entityType, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}

	return out, nil
}

func (s *TermStore) queryTerms(ctx context.Context, query string, args []any, entityType string, kind types.TermKind) ([]types.TermRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query %s terms: %w", entityType, err)
	}
	defer rows.Close()

	var out []types.TermRow
	for rows.Next() {
		var (
			numericID int64
			lang      string
			text      string
		)
		if err := rows.Scan(&numericID, &lang, &text); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan term: %w", err)
		}
		id, err := types.ComposeEntityID(entityType, numericID)
		if err != nil {
			log.Printf("sqlite: dropping term row for %s %d: %v", entityType, numericID, err)
			continue
		}
		out = append(out, types.TermRow{
			EntityID: id.Serialization(),
			Kind:     kind,
			Language: lang,
			Text:     text,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: term rows: %w", err)
	}
	return out, nil
}

// Close flushes the WAL into the main database file and releases resources.
func (s *TermStore) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}

	return s.db.Close()
}

// parseRedirectTarget parses rd_title. An unparsable target is logged and the
// page treated as a plain page.
func parseRedirectTarget(title string, rdTitle sql.NullString) *types.EntityID {
	if !rdTitle.Valid || rdTitle.String == "" {
		return nil
	}
	target, err := types.ParseEntityID(rdTitle.String)
	if err != nil {
		log.Printf("sqlite: ignoring redirect %s -> %q: %v", title, rdTitle.String, err)
		return nil
	}
	return &target
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunk[T any](values []T, size int) [][]T {
	var out [][]T
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
