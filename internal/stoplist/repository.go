package stoplist

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/food-delivery/internal/db"
)

type Repository interface {
	// Apply приводит стоп-лист терминала к переданному набору позиций одной транзакцией.
	Apply(ctx context.Context, organizationID, terminalID uuid.UUID, items []Item) (*Result, error)
	ListByTerminal(ctx context.Context, terminalID uuid.UUID) ([]Entry, error)
	IsStopped(ctx context.Context, productID, terminalID uuid.UUID) (bool, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const entryColumns = `id, product_id, terminal_id, organization_id, balance, reason, is_auto_added, created_at, updated_at`

func (r *postgresRepository) Apply(ctx context.Context, organizationID, terminalID uuid.UUID, items []Item) (*Result, error) {
	result := &Result{TerminalID: terminalID}

	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		products, err := activeMenuProducts(ctx, tx, organizationID, items)
		if err != nil {
			return err
		}

		existing, err := queryEntries(ctx, tx,
			`SELECT `+entryColumns+` FROM stop_lists WHERE terminal_id = $1 FOR UPDATE`, terminalID)
		if err != nil {
			return err
		}

		desired, unresolved := Resolve(items, products)
		upserts, deletes := Plan(existing, desired)
		result.Unresolved = unresolved

		now := time.Now().UTC()
		upsertQuery := `
			INSERT INTO stop_lists (id, product_id, terminal_id, organization_id, balance, is_auto_added, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
			ON CONFLICT (product_id, terminal_id) DO UPDATE
			SET balance = EXCLUDED.balance,
				is_auto_added = TRUE,
				updated_at = EXCLUDED.updated_at`
		for _, u := range upserts {
			id, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate stop-list ID: %w", err)
			}
			if _, err := tx.Exec(ctx, upsertQuery, id, u.ProductID, terminalID, organizationID, u.Balance, now); err != nil {
				return fmt.Errorf("repository: failed to upsert stop-list entry for product %s: %w", u.ProductID, err)
			}
		}
		result.Upserted = len(upserts)

		if len(deletes) > 0 {
			cmdTag, err := tx.Exec(ctx, `DELETE FROM stop_lists WHERE id = ANY($1)`, deletes)
			if err != nil {
				return fmt.Errorf("repository: failed to delete stale stop-list entries: %w", err)
			}
			result.Deleted = int(cmdTag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// activeMenuProducts: externalID → id товаров активного меню организации.
func activeMenuProducts(ctx context.Context, tx pgx.Tx, organizationID uuid.UUID, items []Item) (map[string]uuid.UUID, error) {
	products := make(map[string]uuid.UUID, len(items))
	if len(items) == 0 {
		return products, nil
	}

	externalIDs := make([]string, 0, len(items))
	for _, it := range items {
		externalIDs = append(externalIDs, it.ProductExternalID)
	}

	query := `
		SELECT p.external_id, p.id
		FROM products p
		JOIN menus m ON m.id = p.menu_id
		WHERE m.organization_id = $1 AND m.is_active AND p.external_id = ANY($2)`

	rows, err := tx.Query(ctx, query, organizationID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query active menu products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			externalID string
			id         uuid.UUID
		)
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		products[externalID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating products: %w", err)
	}
	return products, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]Entry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query stop-list: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		err := rows.Scan(&e.ID, &e.ProductID, &e.TerminalID, &e.OrganizationID, &e.Balance, &e.Reason, &e.IsAutoAdded, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan stop-list entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating stop-list: %w", err)
	}
	return entries, nil
}

func (r *postgresRepository) ListByTerminal(ctx context.Context, terminalID uuid.UUID) ([]Entry, error) {
	return queryEntries(ctx, r.db, `SELECT `+entryColumns+` FROM stop_lists WHERE terminal_id = $1 ORDER BY product_id`, terminalID)
}

func (r *postgresRepository) IsStopped(ctx context.Context, productID, terminalID uuid.UUID) (bool, error) {
	var stopped bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM stop_lists WHERE product_id = $1 AND terminal_id = $2)`,
		productID, terminalID,
	).Scan(&stopped)
	if err != nil {
		return false, fmt.Errorf("repository: failed to check stop-list for product %s: %w", productID, err)
	}
	return stopped, nil
}
