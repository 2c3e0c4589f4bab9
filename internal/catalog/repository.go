package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/db"
)

var (
	ErrMenuNotFound         = errors.New("menu not found")
	ErrNoActiveMenu         = errors.New("organization has no active menu")
	ErrProductNotFound      = errors.New("product not found")
	ErrMultipleActiveMenus  = errors.New("organization already has another active menu")
	ErrNothingToSync        = errors.New("menu payload contains no usable data")
	ErrUnsupportedMenuShape = errors.New("unsupported menu payload shape")
)

type SyncStats struct {
	MenuID      uuid.UUID `json:"menu_id"`
	MenuName    string    `json:"menu_name"`
	Categories  int       `json:"categories"`
	Products    int       `json:"products"`
	Modifiers   int       `json:"modifiers"`
	Deactivated int       `json:"deactivated"` // пропали из выгрузки или удалены в iiko
}

type Repository interface {
	ApplySnapshots(ctx context.Context, organizationID uuid.UUID, snapshots []Snapshot) ([]SyncStats, error)
	ActivateMenu(ctx context.Context, organizationID, menuID uuid.UUID) error
	GetActiveMenu(ctx context.Context, organizationID uuid.UUID) (*Menu, error)
	ListMenus(ctx context.Context, organizationID uuid.UUID) ([]Menu, error)
	// ProductByExternalID ищет товар активного меню организации вместе с модификаторами.
	ProductByExternalID(ctx context.Context, organizationID uuid.UUID, externalID string) (*Product, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) ApplySnapshots(ctx context.Context, organizationID uuid.UUID, snapshots []Snapshot) ([]SyncStats, error) {
	stats := make([]SyncStats, 0, len(snapshots))

	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, snap := range snapshots {
			s, err := applySnapshot(ctx, tx, organizationID, snap)
			if err != nil {
				return err
			}
			stats = append(stats, s)
		}
		return nil
	})
	if err != nil {
		return nil, mapActiveMenuViolation(err)
	}
	return stats, nil
}

func applySnapshot(ctx context.Context, tx pgx.Tx, organizationID uuid.UUID, snap Snapshot) (SyncStats, error) {
	now := time.Now().UTC()

	menuID, err := upsertMenu(ctx, tx, organizationID, snap.Menu, now)
	if err != nil {
		return SyncStats{}, err
	}
	stats := SyncStats{MenuID: menuID, MenuName: snap.Menu.Name}

	categoryIDs := make(map[string]uuid.UUID, len(snap.Categories))
	categoryQuery := `
		INSERT INTO product_categories (id, menu_id, external_id, name, parent_id, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5, $6, $6)
		ON CONFLICT (external_id, menu_id) DO UPDATE
		SET name = EXCLUDED.name,
			parent_id = NULL,
			sort_order = EXCLUDED.sort_order,
			updated_at = EXCLUDED.updated_at
		RETURNING id`
	for _, c := range snap.Categories {
		newID, err := uuid.NewV4()
		if err != nil {
			return SyncStats{}, fmt.Errorf("repository: failed to generate category ID: %w", err)
		}
		var id uuid.UUID
		if err := tx.QueryRow(ctx, categoryQuery, newID, menuID, c.ExternalID, c.Name, c.SortOrder, now).Scan(&id); err != nil {
			return SyncStats{}, fmt.Errorf("repository: failed to upsert category %s: %w", c.ExternalID, err)
		}
		categoryIDs[c.ExternalID] = id
	}

	// Родителей проставляем вторым проходом: порядок групп в выгрузке произвольный.
	for _, c := range snap.Categories {
		parentID, ok := categoryIDs[c.ParentExternalID]
		if c.ParentExternalID == "" || !ok {
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE product_categories SET parent_id = $1 WHERE id = $2`, parentID, categoryIDs[c.ExternalID]); err != nil {
			return SyncStats{}, fmt.Errorf("repository: failed to link category %s to parent: %w", c.ExternalID, err)
		}
	}
	stats.Categories = len(categoryIDs)

	productQuery := `
		INSERT INTO products (id, menu_id, category_id, external_id, code, name, description, price, image_url,
			measure_unit, product_type, sort_order, is_available, has_modifiers, raw, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $14, $15, $15)
		ON CONFLICT (external_id, menu_id) DO UPDATE
		SET category_id = EXCLUDED.category_id,
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			image_url = EXCLUDED.image_url,
			measure_unit = EXCLUDED.measure_unit,
			product_type = EXCLUDED.product_type,
			sort_order = EXCLUDED.sort_order,
			is_available = TRUE,
			has_modifiers = EXCLUDED.has_modifiers,
			raw = EXCLUDED.raw,
			updated_at = EXCLUDED.updated_at
		RETURNING id`
	modifierQuery := `
		INSERT INTO modifiers (id, product_id, modifier_code, name, group_id, min_amount, max_amount, is_required, price, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, p := range snap.Products {
		var categoryID *uuid.UUID
		if id, ok := categoryIDs[p.CategoryExternalID]; ok {
			categoryID = &id
		}
		newID, err := uuid.NewV4()
		if err != nil {
			return SyncStats{}, fmt.Errorf("repository: failed to generate product ID: %w", err)
		}

		var productID uuid.UUID
		err = tx.QueryRow(ctx, productQuery,
			newID, menuID, categoryID, p.ExternalID, p.Code, p.Name, p.Description, p.Price, p.ImageURL,
			p.MeasureUnit, p.Type, p.SortOrder, p.HasModifiers(), p.Raw, now,
		).Scan(&productID)
		if err != nil {
			return SyncStats{}, fmt.Errorf("repository: failed to upsert product %s: %w", p.ExternalID, err)
		}

		// Модификаторы пересоздаются целиком, чтобы has_modifiers всегда совпадал с наличием строк.
		if _, err := tx.Exec(ctx, `DELETE FROM modifiers WHERE product_id = $1`, productID); err != nil {
			return SyncStats{}, fmt.Errorf("repository: failed to clear modifiers of product %s: %w", p.ExternalID, err)
		}
		for i, m := range p.Modifiers {
			modID, err := uuid.NewV4()
			if err != nil {
				return SyncStats{}, fmt.Errorf("repository: failed to generate modifier ID: %w", err)
			}
			_, err = tx.Exec(ctx, modifierQuery,
				modID, productID, m.Code, m.Name, m.GroupID, m.MinAmount, m.MaxAmount, m.IsRequired, m.Price, i,
			)
			if err != nil {
				return SyncStats{}, fmt.Errorf("repository: failed to insert modifier %s of product %s: %w", m.Code, p.ExternalID, err)
			}
			stats.Modifiers++
		}
		stats.Products++
	}

	if !snap.Empty() {
		deactivated, err := removeStale(ctx, tx, menuID, snap, now)
		if err != nil {
			return SyncStats{}, err
		}
		stats.Deactivated = deactivated
	}

	if snap.Menu.Activate {
		if err := activateMenu(ctx, tx, organizationID, menuID, now); err != nil {
			return SyncStats{}, err
		}
	}
	return stats, nil
}

// removeStale снимает с продажи товары меню, которых нет в снимке, и удаляет пропавшие категории.
// Товары не удаляются: на них ссылаются позиции оформленных заказов.
func removeStale(ctx context.Context, tx pgx.Tx, menuID uuid.UUID, snap Snapshot, now time.Time) (int, error) {
	productIDs := make([]string, 0, len(snap.Products))
	for _, p := range snap.Products {
		productIDs = append(productIDs, p.ExternalID)
	}
	cmdTag, err := tx.Exec(ctx, `
		UPDATE products SET is_available = FALSE, updated_at = $3
		WHERE menu_id = $1 AND is_available AND NOT (external_id = ANY($2))`,
		menuID, productIDs, now,
	)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to deactivate stale products of menu %s: %w", menuID, err)
	}

	categoryIDs := make([]string, 0, len(snap.Categories))
	for _, c := range snap.Categories {
		categoryIDs = append(categoryIDs, c.ExternalID)
	}
	_, err = tx.Exec(ctx,
		`DELETE FROM product_categories WHERE menu_id = $1 AND NOT (external_id = ANY($2))`,
		menuID, categoryIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to delete stale categories of menu %s: %w", menuID, err)
	}
	return int(cmdTag.RowsAffected()), nil
}

func upsertMenu(ctx context.Context, tx pgx.Tx, organizationID uuid.UUID, spec MenuSpec, now time.Time) (uuid.UUID, error) {
	newID, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to generate menu ID: %w", err)
	}

	query := `
		INSERT INTO menus (id, organization_id, name, source_type, is_active, external_menu_id, price_category_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $7)
		ON CONFLICT (organization_id, name) DO UPDATE
		SET source_type = EXCLUDED.source_type,
			external_menu_id = EXCLUDED.external_menu_id,
			price_category_id = EXCLUDED.price_category_id,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	var id uuid.UUID
	err = tx.QueryRow(ctx, query, newID, organizationID, spec.Name, spec.SourceType, spec.ExternalMenuID, spec.PriceCategoryID, now).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to upsert menu %q: %w", spec.Name, err)
	}
	return id, nil
}

// activateMenu снимает флаг с остальных меню организации и ставит его выбранному.
func activateMenu(ctx context.Context, tx pgx.Tx, organizationID, menuID uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE menus SET is_active = FALSE, updated_at = $1 WHERE organization_id = $2 AND id <> $3 AND is_active`,
		now, organizationID, menuID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to deactivate sibling menus: %w", err)
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE menus SET is_active = TRUE, updated_at = $1 WHERE id = $2 AND organization_id = $3`,
		now, menuID, organizationID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to activate menu %s: %w", menuID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrMenuNotFound
	}
	return nil
}

func (r *postgresRepository) ActivateMenu(ctx context.Context, organizationID, menuID uuid.UUID) error {
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return activateMenu(ctx, tx, organizationID, menuID, time.Now().UTC())
	})
	if err != nil {
		if errors.Is(err, ErrMenuNotFound) {
			return ErrMenuNotFound
		}
		log.Error().Err(err).Stringer("menu_id", menuID).Msg("repository: failed to activate menu")
		return mapActiveMenuViolation(err)
	}
	return nil
}

// mapActiveMenuViolation переводит нарушение индекса menus_one_active_per_org
// (параллельная активация) в ErrMultipleActiveMenus.
func mapActiveMenuViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "menus_one_active_per_org" {
		return fmt.Errorf("%w: %s", ErrMultipleActiveMenus, pgErr.Detail)
	}
	return err
}

const menuColumns = `id, organization_id, name, source_type, is_active, external_menu_id, price_category_id, created_at, updated_at`

func scanMenu(row pgx.Row) (*Menu, error) {
	var m Menu
	err := row.Scan(&m.ID, &m.OrganizationID, &m.Name, &m.SourceType, &m.IsActive, &m.ExternalMenuID, &m.PriceCategoryID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *postgresRepository) GetActiveMenu(ctx context.Context, organizationID uuid.UUID) (*Menu, error) {
	query := `SELECT ` + menuColumns + ` FROM menus WHERE organization_id = $1 AND is_active`

	m, err := scanMenu(r.db.QueryRow(ctx, query, organizationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveMenu
		}
		return nil, fmt.Errorf("repository: failed to select active menu for organization %s: %w", organizationID, err)
	}
	return m, nil
}

func (r *postgresRepository) ListMenus(ctx context.Context, organizationID uuid.UUID) ([]Menu, error) {
	query := `SELECT ` + menuColumns + ` FROM menus WHERE organization_id = $1 ORDER BY is_active DESC, name`

	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query menus for organization %s: %w", organizationID, err)
	}
	defer rows.Close()

	menus := make([]Menu, 0)
	for rows.Next() {
		m, err := scanMenu(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan menu: %w", err)
		}
		menus = append(menus, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating menus: %w", err)
	}
	return menus, nil
}

func (r *postgresRepository) ProductByExternalID(ctx context.Context, organizationID uuid.UUID, externalID string) (*Product, error) {
	query := `
		SELECT p.id, p.menu_id, p.category_id, p.external_id, p.code, p.name, p.description, p.price, p.image_url,
			p.measure_unit, p.product_type, p.sort_order, p.is_available, p.has_modifiers
		FROM products p
		JOIN menus m ON m.id = p.menu_id
		WHERE m.organization_id = $1 AND m.is_active AND p.external_id = $2`

	var p Product
	err := r.db.QueryRow(ctx, query, organizationID, externalID).Scan(
		&p.ID,
		&p.MenuID,
		&p.CategoryID,
		&p.ExternalID,
		&p.Code,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.ImageURL,
		&p.MeasureUnit,
		&p.Type,
		&p.SortOrder,
		&p.IsAvailable,
		&p.HasModifiers,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", externalID, err)
	}

	modifiers, err := r.modifiersOf(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Modifiers = modifiers
	return &p, nil
}

func (r *postgresRepository) modifiersOf(ctx context.Context, productID uuid.UUID) ([]Modifier, error) {
	query := `
		SELECT id, product_id, modifier_code, name, group_id, min_amount, max_amount, is_required, price, sort_order
		FROM modifiers
		WHERE product_id = $1
		ORDER BY sort_order`

	rows, err := r.db.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query modifiers of product %s: %w", productID, err)
	}
	defer rows.Close()

	modifiers := make([]Modifier, 0)
	for rows.Next() {
		var m Modifier
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Code, &m.Name, &m.GroupID, &m.MinAmount, &m.MaxAmount, &m.IsRequired, &m.Price, &m.SortOrder); err != nil {
			return nil, fmt.Errorf("repository: failed to scan modifier of product %s: %w", productID, err)
		}
		modifiers = append(modifiers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating modifiers of product %s: %w", productID, err)
	}
	return modifiers, nil
}
