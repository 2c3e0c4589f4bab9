package organization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/food-delivery/internal/db"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrTerminalNotFound     = errors.New("terminal not found")
	ErrPaymentTypeNotFound  = errors.New("payment type not found")
)

type TerminalRecord struct {
	ExternalID string
	Name       string
	Address    string
}

type PaymentTypeRecord struct {
	ExternalID string
	Name       string
	Kind       string
}

type DiscountRecord struct {
	ExternalID      string
	Name            string
	Percent         decimal.Decimal
	Mode            string
	IsManual        bool
	IsDeletedInIiko bool
}

type Repository interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)

	GetTerminal(ctx context.Context, id uuid.UUID) (*Terminal, error)
	ListTerminals(ctx context.Context, organizationID uuid.UUID) ([]Terminal, error)
	ListActiveTerminals(ctx context.Context) ([]Terminal, error)
	UpsertTerminals(ctx context.Context, organizationID uuid.UUID, records []TerminalRecord) ([]Terminal, error)
	MarkStopListSynced(ctx context.Context, terminalID uuid.UUID, at time.Time) error

	GetPaymentType(ctx context.Context, id uuid.UUID) (*PaymentType, error)
	UpsertPaymentTypes(ctx context.Context, organizationID uuid.UUID, records []PaymentTypeRecord) ([]PaymentType, error)

	// SyncDiscounts сохраняет скидки из ответа iiko и выключает те, которых в нём нет.
	SyncDiscounts(ctx context.Context, organizationID uuid.UUID, records []DiscountRecord) (*DiscountSyncResult, error)
	ListDiscounts(ctx context.Context, organizationID uuid.UUID) ([]Discount, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const organizationColumns = `id, external_id, name, api_key, city, is_active, created_at, updated_at`

func scanOrganization(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.ExternalID, &o.Name, &o.APIKey, &o.City, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *postgresRepository) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1`

	org, err := scanOrganization(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("repository: failed to select organization %s: %w", id, err)
	}
	return org, nil
}

func (r *postgresRepository) ListOrganizations(ctx context.Context) ([]Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE is_active ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan organization: %w", err)
		}
		orgs = append(orgs, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating organizations: %w", err)
	}
	return orgs, nil
}

const terminalColumns = `id, external_id, organization_id, name, address, working_start, working_end,
	stop_list_interval_min, stop_list_synced_at, is_active, created_at, updated_at`

func scanTerminal(row pgx.Row) (*Terminal, error) {
	var (
		t          Terminal
		start, end *string
	)
	err := row.Scan(
		&t.ID,
		&t.ExternalID,
		&t.OrganizationID,
		&t.Name,
		&t.Address,
		&start,
		&end,
		&t.StopListIntervalMin,
		&t.StopListSyncedAt,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if start != nil && end != nil && *start != "" && *end != "" {
		t.WorkingHours = &WorkingHours{Start: *start, End: *end}
	}
	return &t, nil
}

func (r *postgresRepository) GetTerminal(ctx context.Context, id uuid.UUID) (*Terminal, error) {
	query := `SELECT ` + terminalColumns + ` FROM terminals WHERE id = $1`

	t, err := scanTerminal(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTerminalNotFound
		}
		return nil, fmt.Errorf("repository: failed to select terminal %s: %w", id, err)
	}
	return t, nil
}

func (r *postgresRepository) queryTerminals(ctx context.Context, query string, args ...any) ([]Terminal, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query terminals: %w", err)
	}
	defer rows.Close()

	terminals := make([]Terminal, 0)
	for rows.Next() {
		t, err := scanTerminal(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan terminal: %w", err)
		}
		terminals = append(terminals, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating terminals: %w", err)
	}
	return terminals, nil
}

func (r *postgresRepository) ListTerminals(ctx context.Context, organizationID uuid.UUID) ([]Terminal, error) {
	query := `SELECT ` + terminalColumns + ` FROM terminals WHERE organization_id = $1 AND is_active ORDER BY name`
	return r.queryTerminals(ctx, query, organizationID)
}

func (r *postgresRepository) ListActiveTerminals(ctx context.Context) ([]Terminal, error) {
	query := `
		SELECT ` + terminalColumns + `
		FROM terminals
		WHERE is_active
			AND organization_id IN (SELECT id FROM organizations WHERE is_active)
		ORDER BY organization_id, name`
	return r.queryTerminals(ctx, query)
}

func (r *postgresRepository) UpsertTerminals(ctx context.Context, organizationID uuid.UUID, records []TerminalRecord) ([]Terminal, error) {
	synced := make([]Terminal, 0, len(records))

	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO terminals (id, external_id, organization_id, name, address, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
			ON CONFLICT (external_id) DO UPDATE
			SET organization_id = EXCLUDED.organization_id,
				name = EXCLUDED.name,
				address = EXCLUDED.address,
				is_active = TRUE,
				updated_at = EXCLUDED.updated_at
			RETURNING ` + terminalColumns

		now := time.Now().UTC()
		for _, rec := range records {
			id, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate terminal ID: %w", err)
			}
			t, err := scanTerminal(tx.QueryRow(ctx, query, id, rec.ExternalID, organizationID, rec.Name, rec.Address, now))
			if err != nil {
				return fmt.Errorf("repository: failed to upsert terminal %s: %w", rec.ExternalID, err)
			}
			synced = append(synced, *t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return synced, nil
}

func (r *postgresRepository) MarkStopListSynced(ctx context.Context, terminalID uuid.UUID, at time.Time) error {
	query := `UPDATE terminals SET stop_list_synced_at = $1 WHERE id = $2`

	cmdTag, err := r.db.Exec(ctx, query, at, terminalID)
	if err != nil {
		log.Error().Err(err).Stringer("terminal_id", terminalID).Msg("repository: failed to mark stop-list sync time")
		return fmt.Errorf("repository: failed to mark stop-list sync for terminal %s: %w", terminalID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTerminalNotFound
	}
	return nil
}

const paymentTypeColumns = `id, organization_id, external_id, name, kind, system_type, is_active, created_at, updated_at`

func scanPaymentType(row pgx.Row) (*PaymentType, error) {
	var p PaymentType
	err := row.Scan(&p.ID, &p.OrganizationID, &p.ExternalID, &p.Name, &p.Kind, &p.SystemType, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepository) GetPaymentType(ctx context.Context, id uuid.UUID) (*PaymentType, error) {
	query := `SELECT ` + paymentTypeColumns + ` FROM payment_types WHERE id = $1`

	p, err := scanPaymentType(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentTypeNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment type %s: %w", id, err)
	}
	return p, nil
}

func (r *postgresRepository) UpsertPaymentTypes(ctx context.Context, organizationID uuid.UUID, records []PaymentTypeRecord) ([]PaymentType, error) {
	synced := make([]PaymentType, 0, len(records))

	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		// system_type выставляется только при вставке: дальше им управляет оператор.
		query := `
			INSERT INTO payment_types (id, organization_id, external_id, name, kind, system_type, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7)
			ON CONFLICT (organization_id, external_id) DO UPDATE
			SET name = EXCLUDED.name,
				kind = EXCLUDED.kind,
				is_active = TRUE,
				updated_at = EXCLUDED.updated_at
			RETURNING ` + paymentTypeColumns

		now := time.Now().UTC()
		for _, rec := range records {
			id, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate payment type ID: %w", err)
			}
			p, err := scanPaymentType(tx.QueryRow(ctx, query, id, organizationID, rec.ExternalID, rec.Name, rec.Kind, systemTypeForKind(rec.Kind), now))
			if err != nil {
				return fmt.Errorf("repository: failed to upsert payment type %s: %w", rec.ExternalID, err)
			}
			synced = append(synced, *p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return synced, nil
}

const discountColumns = `id, organization_id, external_id, name, percent, mode, is_manual, is_deleted_in_iiko, is_active, created_at, updated_at`

func (r *postgresRepository) SyncDiscounts(ctx context.Context, organizationID uuid.UUID, records []DiscountRecord) (*DiscountSyncResult, error) {
	result := &DiscountSyncResult{}

	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO discounts (id, organization_id, external_id, name, percent, mode, is_manual, is_deleted_in_iiko, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $9)
			ON CONFLICT (organization_id, external_id) DO UPDATE
			SET name = EXCLUDED.name,
				percent = EXCLUDED.percent,
				mode = EXCLUDED.mode,
				is_manual = EXCLUDED.is_manual,
				is_deleted_in_iiko = EXCLUDED.is_deleted_in_iiko,
				is_active = TRUE,
				updated_at = EXCLUDED.updated_at`

		now := time.Now().UTC()
		externalIDs := make([]string, 0, len(records))
		for _, rec := range records {
			id, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate discount ID: %w", err)
			}
			_, err = tx.Exec(ctx, query, id, organizationID, rec.ExternalID, rec.Name, rec.Percent, rec.Mode, rec.IsManual, rec.IsDeletedInIiko, now)
			if err != nil {
				return fmt.Errorf("repository: failed to upsert discount %s: %w", rec.ExternalID, err)
			}
			externalIDs = append(externalIDs, rec.ExternalID)
		}
		result.Synced = len(records)

		cmdTag, err := tx.Exec(ctx, `
			UPDATE discounts SET is_active = FALSE, updated_at = $3
			WHERE organization_id = $1 AND is_active AND NOT (external_id = ANY($2))`,
			organizationID, externalIDs, now)
		if err != nil {
			return fmt.Errorf("repository: failed to deactivate missing discounts: %w", err)
		}
		result.Deactivated = int(cmdTag.RowsAffected())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *postgresRepository) ListDiscounts(ctx context.Context, organizationID uuid.UUID) ([]Discount, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts WHERE organization_id = $1 ORDER BY name, external_id`

	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query discounts: %w", err)
	}
	defer rows.Close()

	discounts := make([]Discount, 0)
	for rows.Next() {
		var d Discount
		err := rows.Scan(&d.ID, &d.OrganizationID, &d.ExternalID, &d.Name, &d.Percent, &d.Mode,
			&d.IsManual, &d.IsDeletedInIiko, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan discount: %w", err)
		}
		discounts = append(discounts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating discounts: %w", err)
	}
	return discounts, nil
}
