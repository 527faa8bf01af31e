package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// SavePage creates the page for id if it does not exist yet and returns its page id.
func (s *TermStore) SavePage(ctx context.Context, id types.EntityID) (int64, error) {
	ns, err := s.namespaces.Namespace(id.EntityType())
	if err != nil {
		return 0, fmt.Errorf("sqlite: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO page (page_namespace, page_title)
		VALUES (?, ?)
		ON CONFLICT(page_namespace, page_title) DO NOTHING
	`, ns, id.LocalPart())
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to save page %s: %w", id, err)
	}

	var pageID int64
	err = s.db.QueryRowContext(ctx,
		"SELECT page_id FROM page WHERE page_namespace = ? AND page_title = ?",
		ns, id.LocalPart(),
	).Scan(&pageID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to read page id for %s: %w", id, err)
	}
	return pageID, nil
}

// SaveRedirect turns the page of from into a redirect to target, creating the
// page if needed.
func (s *TermStore) SaveRedirect(ctx context.Context, from, target types.EntityID) error {
	pageID, err := s.SavePage(ctx, from)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO redirect (rd_from, rd_title)
		VALUES (?, ?)
		ON CONFLICT(rd_from) DO UPDATE SET rd_title = excluded.rd_title
	`, pageID, target.LocalPart())
	if err != nil {
		return fmt.Errorf("sqlite: failed to save redirect %s -> %s: %w", from, target, err)
	}
	return nil
}

// SaveTerm upserts one term of id.
func (s *TermStore) SaveTerm(ctx context.Context, id types.EntityID, kind types.TermKind, language, text string) error {
	if !kind.Valid() || language == "" {
		return fmt.Errorf("%w: term %q/%q for %s", storage.ErrInvalidInput, kind, language, id)
	}
	table, ok := termTables[id.EntityType()]
	if !ok {
		return fmt.Errorf("sqlite: %w: %q", storage.ErrUnsupportedEntityType, id.EntityType())
	}
	numericID, ok := id.NumericID()
	if !ok {
		return fmt.Errorf("%w: %s has no numeric id", storage.ErrInvalidInput, id)
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, term_type, language, text)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(%[2]s, term_type, language) DO UPDATE SET text = excluded.text
	`, table.name, table.idColumn)

	if _, err := s.db.ExecContext(ctx, query, numericID, string(kind), language, text); err != nil {
		return fmt.Errorf("sqlite: failed to save %s term for %s: %w", kind, id, err)
	}
	return nil
}

// DeletePage removes the page of id and, through the foreign key, its redirect.
// Terms are left in place, as in the term store of a deleted entity.
func (s *TermStore) DeletePage(ctx context.Context, id types.EntityID) error {
	ns, err := s.namespaces.Namespace(id.EntityType())
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM page WHERE page_namespace = ? AND page_title = ?",
		ns, id.LocalPart(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete page %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: delete page %s: %w", id, sql.ErrNoRows)
	}
	return nil
}
