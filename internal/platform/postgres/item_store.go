package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/platform/logger"
	"github.com/mwalkiewicz/mediary/internal/store"
)

const itemColumns = `
	id, parent_id, owner_id, permissions, tags, status, created_at, updated_at
`

// PostgresItemStore implements the store.ItemStore interface using
// PostgreSQL. Items themselves are owned by the surrounding CRUD
// system; this store only reads tree structure and writes tags,
// permissions and the tag caches.
type PostgresItemStore struct {
	db store.DBTX
}

// NewPostgresItemStore creates a new PostgresItemStore.
func NewPostgresItemStore(db store.DBTX) *PostgresItemStore {
	if db == nil {
		panic("db cannot be nil")
	}
	return &PostgresItemStore{db: db}
}

// Ensure PostgresItemStore implements store.ItemStore interface
var _ store.ItemStore = (*PostgresItemStore)(nil)

// WithTx implements store.ItemStore.WithTx.
func (s *PostgresItemStore) WithTx(tx *sql.Tx) store.ItemStore {
	return &PostgresItemStore{db: tx}
}

// GetItem implements store.ItemStore.GetItem.
func (s *PostgresItemStore) GetItem(ctx context.Context, id int64) (*domain.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE id = $1
	`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item %d: %w", id, MapError(err))
	}
	return item, nil
}

// GetChildren implements store.ItemStore.GetChildren. Soft-deleted
// children are returned too; the traversals decide what to prune.
func (s *PostgresItemStore) GetChildren(ctx context.Context, id int64) ([]*domain.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE parent_id = $1
		ORDER BY id
	`
	return s.queryItems(ctx, query, id)
}

// GetParents implements store.ItemStore.GetParents. The recursive walk
// runs inside the database; the chain comes back nearest ancestor
// first.
func (s *PostgresItemStore) GetParents(ctx context.Context, id int64) ([]*domain.Item, error) {
	// The path array stops the recursion on a corrupted cyclic parent
	// chain, same as the visited sets in the downward walks.
	query := `
		WITH RECURSIVE chain AS (
		    SELECT i.id, i.parent_id, i.owner_id, i.permissions, i.tags,
		           i.status, i.created_at, i.updated_at, 0 AS depth,
		           ARRAY[i.id] AS path
		    FROM items i
		    WHERE i.id = $1
		  UNION ALL
		    SELECT p.id, p.parent_id, p.owner_id, p.permissions, p.tags,
		           p.status, p.created_at, p.updated_at, c.depth + 1,
		           c.path || p.id
		    FROM items p
		    JOIN chain c ON p.id = c.parent_id
		    WHERE NOT p.id = ANY(c.path)
		)
		SELECT id, parent_id, owner_id, permissions, tags, status, created_at, updated_at
		FROM chain
		ORDER BY depth
	`

	items, err := s.queryItems(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		// Not even the depth-zero seed row: the item itself is missing.
		return nil, store.ErrItemNotFound
	}
	return items[1:], nil
}

// GetComputedTags implements store.ItemStore.GetComputedTags.
func (s *PostgresItemStore) GetComputedTags(ctx context.Context, id int64) ([]string, error) {
	query := `SELECT tags FROM computed_tags WHERE item_id = $1`

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get computed tags of item %d: %w", id, MapError(err))
	}

	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("failed to decode computed tags of item %d: %w", id, err)
	}
	return tags, nil
}

// SaveComputedTags implements store.ItemStore.SaveComputedTags.
func (s *PostgresItemStore) SaveComputedTags(ctx context.Context, id int64, tags []string) error {
	log := logger.FromContext(ctx)

	encoded, err := json.Marshal(stringSet(tags))
	if err != nil {
		return fmt.Errorf("failed to encode computed tags: %w", err)
	}

	query := `
		INSERT INTO computed_tags (item_id, tags, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id)
		DO UPDATE SET tags = EXCLUDED.tags, updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query, id, encoded, time.Now().UTC())
	if err != nil {
		log.Error("failed to save computed tags", "item_id", id, "error", err)
		return fmt.Errorf("failed to save computed tags of item %d: %w", id, MapError(err))
	}
	return nil
}

// SaveItemPermissions implements store.ItemStore.SaveItemPermissions.
func (s *PostgresItemStore) SaveItemPermissions(ctx context.Context, id int64, permissions []int64) error {
	log := logger.FromContext(ctx)

	encoded, err := json.Marshal(int64Set(permissions))
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	query := `
		UPDATE items
		SET permissions = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, encoded, time.Now().UTC())
	if err != nil {
		log.Error("failed to save item permissions", "item_id", id, "error", err)
		return fmt.Errorf("failed to save permissions of item %d: %w", id, MapError(err))
	}
	if err := CheckRowsAffected(result, "item"); err != nil {
		return fmt.Errorf("failed to save permissions of item %d: %w", id, err)
	}
	return nil
}

// GetPublicUserIDs implements store.ItemStore.GetPublicUserIDs.
func (s *PostgresItemStore) GetPublicUserIDs(ctx context.Context) ([]int64, error) {
	query := `SELECT id FROM users WHERE is_public ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get public users: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan public user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating public users: %w", MapError(err))
	}
	return ids, nil
}

// RebuildKnownTags implements store.ItemStore.RebuildKnownTags. The
// counters are recomputed wholesale from the computed-tags cache over
// every non-deleted item the user owns or is permitted to see.
func (s *PostgresItemStore) RebuildKnownTags(ctx context.Context, userID int64) error {
	log := logger.FromContext(ctx)

	deleteQuery := `DELETE FROM known_tags WHERE user_id = $1`
	if _, err := s.db.ExecContext(ctx, deleteQuery, userID); err != nil {
		log.Error("failed to clear known tags", "user_id", userID, "error", err)
		return fmt.Errorf("failed to clear known tags of user %d: %w", userID, MapError(err))
	}

	insertQuery := `
		INSERT INTO known_tags (user_id, tag, occurrences)
		SELECT $1, t.tag, count(*)
		FROM items i
		JOIN computed_tags ct ON ct.item_id = i.id
		CROSS JOIN LATERAL jsonb_array_elements_text(ct.tags) AS t(tag)
		WHERE i.status <> 'deleted'
		  AND (i.owner_id = $1 OR i.permissions @> to_jsonb($1::bigint))
		GROUP BY t.tag
	`
	if _, err := s.db.ExecContext(ctx, insertQuery, userID); err != nil {
		log.Error("failed to rebuild known tags", "user_id", userID, "error", err)
		return fmt.Errorf("failed to rebuild known tags of user %d: %w", userID, MapError(err))
	}
	return nil
}

// RebuildKnownTagsAnon implements store.ItemStore.RebuildKnownTagsAnon.
func (s *PostgresItemStore) RebuildKnownTagsAnon(ctx context.Context) error {
	log := logger.FromContext(ctx)

	deleteQuery := `DELETE FROM known_tags_anon`
	if _, err := s.db.ExecContext(ctx, deleteQuery); err != nil {
		log.Error("failed to clear anonymous known tags", "error", err)
		return fmt.Errorf("failed to clear anonymous known tags: %w", MapError(err))
	}

	insertQuery := `
		INSERT INTO known_tags_anon (tag, occurrences)
		SELECT t.tag, count(*)
		FROM items i
		JOIN users u ON u.id = i.owner_id AND u.is_public
		JOIN computed_tags ct ON ct.item_id = i.id
		CROSS JOIN LATERAL jsonb_array_elements_text(ct.tags) AS t(tag)
		WHERE i.status <> 'deleted'
		GROUP BY t.tag
	`
	if _, err := s.db.ExecContext(ctx, insertQuery); err != nil {
		log.Error("failed to rebuild anonymous known tags", "error", err)
		return fmt.Errorf("failed to rebuild anonymous known tags: %w", MapError(err))
	}
	return nil
}

func (s *PostgresItemStore) queryItems(ctx context.Context, query string, args ...any) ([]*domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var items []*domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", MapError(err))
	}
	return items, nil
}

func scanItem(row rowScanner) (*domain.Item, error) {
	var (
		item        domain.Item
		permissions []byte
		tags        []byte
		status      string
	)

	err := row.Scan(
		&item.ID,
		&item.ParentID,
		&item.OwnerID,
		&permissions,
		&tags,
		&status,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Status = domain.ItemStatus(status)
	if err := json.Unmarshal(permissions, &item.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions of item %d: %w", item.ID, err)
	}
	if err := json.Unmarshal(tags, &item.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags of item %d: %w", item.ID, err)
	}
	return &item, nil
}

// stringSet and int64Set keep the stored documents JSON arrays even
// when the in-memory slices are nil.
func stringSet(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func int64Set(values []int64) []int64 {
	if values == nil {
		return []int64{}
	}
	return values
}
