package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/catalog"
	"github.com/vasiliy-maslov/food-delivery/internal/db"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrAddressNotFound = errors.New("delivery address not found")
)

// SentResult: то, что сохраняется после принятого iiko заказа.
type SentResult struct {
	IikoOrderID   string
	CorrelationID string
	Status        Status
	Query         json.RawMessage
	Response      json.RawMessage
	SentAt        time.Time
}

// TrackingUpdate: результат опроса iiko. Пустые поля не меняют сохранённые значения.
type TrackingUpdate struct {
	Status         Status
	DeliveryNumber string
	ErrorMessage   string
}

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// LoadForSubmission загружает заказ вместе с адресом, товарами каталога и связанными модификаторами.
	LoadForSubmission(ctx context.Context, id uuid.UUID) (*Order, error)
	GetAddress(ctx context.Context, id, userID uuid.UUID) (*Address, error)

	// ClaimSubmission атомарно помечает pending-заказ как отправляемый; false: заказ не pending, уже отправлен или занят.
	ClaimSubmission(ctx context.Context, id uuid.UUID) (bool, error)
	// ReleaseClaim снимает отметку отправки, статус не меняется.
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
	MarkSent(ctx context.Context, id uuid.UUID, res SentResult) error
	// MarkFailed сохраняет ошибку и снимает отметку отправки, чтобы заказ можно было отправить вручную.
	MarkFailed(ctx context.Context, id uuid.UUID, message string, query json.RawMessage) error
	ApplyTracking(ctx context.Context, id uuid.UUID, upd TrackingUpdate) (bool, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	ResetForResubmit(ctx context.Context, id uuid.UUID) (bool, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, o *Order) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		orderQuery := `
			INSERT INTO orders (id, organization_id, terminal_id, user_id, order_number, customer_name, phone, billing_phone,
				payment_type_id, delivery_address_id, latitude, longitude, delivery_cost, comment, status, total_amount,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

		_, err := tx.Exec(ctx, orderQuery,
			o.ID, o.OrganizationID, o.TerminalID, o.UserID, o.OrderNumber, o.CustomerName, o.Phone, o.BillingPhone,
			o.PaymentTypeID, o.DeliveryAddressID, o.Latitude, o.Longitude, o.DeliveryCost, o.Comment, o.Status, o.TotalAmount,
			o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Msg("repository: failed to insert order")
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		itemQuery := `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		modifierQuery := `
			INSERT INTO order_item_modifiers (id, order_item_id, modifier_id, modifier_name, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6)`

		for _, item := range o.Items {
			_, err := tx.Exec(ctx, itemQuery, item.ID, o.ID, item.ProductID, item.ProductName, item.Quantity, item.Price, item.TotalPrice)
			if err != nil {
				return fmt.Errorf("repository: failed to insert order item %q: %w", item.ProductName, err)
			}
			for _, m := range item.Modifiers {
				_, err := tx.Exec(ctx, modifierQuery, m.ID, item.ID, m.ModifierID, m.ModifierName, m.Quantity, m.Price)
				if err != nil {
					return fmt.Errorf("repository: failed to insert modifier %q of item %q: %w", m.ModifierName, item.ProductName, err)
				}
			}
		}
		return nil
	})
}

const orderColumns = `id, organization_id, terminal_id, user_id, order_number, customer_name, phone, billing_phone,
	payment_type_id, delivery_address_id, latitude, longitude, delivery_cost, comment, status, total_amount,
	iiko_order_id, correlation_id, delivery_number, submitting_at, sent_at, query_to_iiko, iiko_response,
	error_message, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OrganizationID,
		&o.TerminalID,
		&o.UserID,
		&o.OrderNumber,
		&o.CustomerName,
		&o.Phone,
		&o.BillingPhone,
		&o.PaymentTypeID,
		&o.DeliveryAddressID,
		&o.Latitude,
		&o.Longitude,
		&o.DeliveryCost,
		&o.Comment,
		&o.Status,
		&o.TotalAmount,
		&o.IikoOrderID,
		&o.CorrelationID,
		&o.DeliveryNumber,
		&o.SubmittingAt,
		&o.SentAt,
		&o.QueryToIiko,
		&o.IikoResponse,
		&o.ErrorMessage,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("repository: failed to select order")
		return nil, fmt.Errorf("repository: failed to select order %s: %w", id, err)
	}

	items, err := r.items(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (r *postgresRepository) items(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, price, total_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_name, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query items of order %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.TotalPrice); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		index[it.ID] = len(items)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating order items: %w", err)
	}
	rows.Close()

	modRows, err := r.db.Query(ctx, `
		SELECT m.id, m.order_item_id, m.modifier_id, m.modifier_name, m.quantity, m.price
		FROM order_item_modifiers m
		JOIN order_items i ON i.id = m.order_item_id
		WHERE i.order_id = $1
		ORDER BY m.modifier_name, m.id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query item modifiers of order %s: %w", orderID, err)
	}
	defer modRows.Close()

	for modRows.Next() {
		var m ItemModifier
		if err := modRows.Scan(&m.ID, &m.OrderItemID, &m.ModifierID, &m.ModifierName, &m.Quantity, &m.Price); err != nil {
			return nil, fmt.Errorf("repository: failed to scan item modifier: %w", err)
		}
		if i, ok := index[m.OrderItemID]; ok {
			items[i].Modifiers = append(items[i].Modifiers, m)
		}
	}
	if err := modRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating item modifiers: %w", err)
	}
	return items, nil
}

func (r *postgresRepository) LoadForSubmission(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if o.DeliveryAddressID != nil {
		addr, err := r.GetAddress(ctx, *o.DeliveryAddressID, o.UserID)
		if err != nil && !errors.Is(err, ErrAddressNotFound) {
			return nil, err
		}
		o.Address = addr
	}

	for i := range o.Items {
		product, err := r.product(ctx, o.Items[i].ProductID)
		if errors.Is(err, ErrProductUnresolved) {
			continue
		}
		if err != nil {
			return nil, err
		}
		o.Items[i].Product = product

		byID := make(map[uuid.UUID]*catalog.Modifier, len(product.Modifiers))
		for j := range product.Modifiers {
			byID[product.Modifiers[j].ID] = &product.Modifiers[j]
		}
		for j := range o.Items[i].Modifiers {
			sel := &o.Items[i].Modifiers[j]
			if sel.ModifierID != nil {
				sel.Modifier = byID[*sel.ModifierID]
			}
		}
	}
	return o, nil
}

func (r *postgresRepository) product(ctx context.Context, productID uuid.UUID) (*catalog.Product, error) {
	var p catalog.Product
	err := r.db.QueryRow(ctx, `
		SELECT id, menu_id, external_id, code, name, price, is_available, has_modifiers
		FROM products WHERE id = $1`, productID,
	).Scan(&p.ID, &p.MenuID, &p.ExternalID, &p.Code, &p.Name, &p.Price, &p.IsAvailable, &p.HasModifiers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProductUnresolved, productID)
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", productID, err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, product_id, modifier_code, name, group_id, min_amount, max_amount, is_required, price, sort_order
		FROM modifiers WHERE product_id = $1 ORDER BY sort_order`, productID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query modifiers of product %s: %w", productID, err)
	}
	defer rows.Close()

	p.Modifiers = make([]catalog.Modifier, 0)
	for rows.Next() {
		var m catalog.Modifier
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Code, &m.Name, &m.GroupID, &m.MinAmount, &m.MaxAmount, &m.IsRequired, &m.Price, &m.SortOrder); err != nil {
			return nil, fmt.Errorf("repository: failed to scan modifier: %w", err)
		}
		p.Modifiers = append(p.Modifiers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating modifiers: %w", err)
	}
	return &p, nil
}

func (r *postgresRepository) GetAddress(ctx context.Context, id, userID uuid.UUID) (*Address, error) {
	var a Address
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, city, street, house, flat, entrance, floor, comment
		FROM delivery_addresses WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&a.ID, &a.UserID, &a.City, &a.Street, &a.House, &a.Flat, &a.Entrance, &a.Floor, &a.Comment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAddressNotFound
		}
		return nil, fmt.Errorf("repository: failed to select address %s: %w", id, err)
	}
	return &a, nil
}

func (r *postgresRepository) ClaimSubmission(ctx context.Context, id uuid.UUID) (bool, error) {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders SET submitting_at = $2, updated_at = $2
		WHERE id = $1 AND sent_at IS NULL AND submitting_at IS NULL AND status = $3`,
		id, time.Now().UTC(), StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to claim order %s: %w", id, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (r *postgresRepository) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE orders SET submitting_at = NULL, updated_at = $2 WHERE id = $1 AND sent_at IS NULL`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to release claim of order %s: %w", id, err)
	}
	return nil
}

func (r *postgresRepository) MarkSent(ctx context.Context, id uuid.UUID, res SentResult) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET iiko_order_id = $2,
			correlation_id = $3,
			status = $4,
			sent_at = $5,
			query_to_iiko = $6,
			iiko_response = $7,
			error_message = NULL,
			updated_at = $5
		WHERE id = $1`,
		id, res.IikoOrderID, res.CorrelationID, res.Status, res.SentAt, res.Query, res.Response,
	)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("repository: failed to record sent order")
		return fmt.Errorf("repository: failed to mark order %s as sent: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string, query json.RawMessage) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $2,
			error_message = $3,
			query_to_iiko = COALESCE($4, query_to_iiko),
			submitting_at = NULL,
			updated_at = $5
		WHERE id = $1 AND sent_at IS NULL`,
		id, StatusError, message, query, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to mark order %s as failed: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) ApplyTracking(ctx context.Context, id uuid.UUID, upd TrackingUpdate) (bool, error) {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = COALESCE(NULLIF($2, ''), status),
			delivery_number = COALESCE(NULLIF($3, ''), delivery_number),
			error_message = COALESCE(NULLIF($4, ''), error_message),
			updated_at = $5
		WHERE id = $1 AND status <> $6`,
		id, string(upd.Status), upd.DeliveryNumber, upd.ErrorMessage, time.Now().UTC(), StatusCancelled,
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to update tracking of order %s: %w", id, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (r *postgresRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to change status of order %s: %w", id, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (r *postgresRepository) ResetForResubmit(ctx context.Context, id uuid.UUID) (bool, error) {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $2, error_message = NULL, updated_at = $4
		WHERE id = $1 AND status = $3 AND sent_at IS NULL AND submitting_at IS NULL`,
		id, StatusPending, StatusError, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to reset order %s for resubmission: %w", id, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}
