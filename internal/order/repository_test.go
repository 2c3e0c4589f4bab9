package order_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-delivery/internal/config"
	"github.com/vasiliy-maslov/food-delivery/internal/db"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
)

var testPool *pgxpool.Pool

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestMain поднимает пул только при заданном DB_HOST_TEST, остальные тесты пакета работают без базы.
func TestMain(m *testing.M) {
	host := os.Getenv("DB_HOST_TEST")
	if host == "" {
		os.Exit(m.Run())
	}

	cfg := config.PostgresConfig{
		Host:            host,
		Port:            getEnv("DB_PORT_TEST", "5432"),
		User:            getEnv("DB_USER_TEST", "postgres"),
		Password:        getEnv("DB_PASSWORD_TEST", "postgres"),
		DBName:          getEnv("DB_NAME_TEST", "delivery_test"),
		SSLMode:         getEnv("DB_SSLMODE_TEST", "disable"),
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MigrationsPath:  "../../migrations",
	}

	pg, err := db.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to test database")
	}
	if err := pg.ApplyMigrations(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate test database")
	}
	testPool = pg.Pool

	exitCode := m.Run()

	pg.Close()
	os.Exit(exitCode)
}

type seed struct {
	orgID      uuid.UUID
	terminalID uuid.UUID
	productID  uuid.UUID
	modifierID uuid.UUID
}

func setupRepository(t *testing.T) (order.Repository, seed) {
	t.Helper()
	if testPool == nil {
		t.Skip("DB_HOST_TEST is not set")
	}
	ctx := context.Background()

	s := seed{
		orgID:      uuid.Must(uuid.NewV4()),
		terminalID: uuid.Must(uuid.NewV4()),
		productID:  uuid.Must(uuid.NewV4()),
		modifierID: uuid.Must(uuid.NewV4()),
	}
	menuID := uuid.Must(uuid.NewV4())

	statements := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO organizations (id, external_id, name, api_key) VALUES ($1, $2, 'Test', 'key')`, []any{s.orgID, s.orgID.String()}},
		{`INSERT INTO terminals (id, external_id, organization_id, name) VALUES ($1, $2, $3, 'Центр')`, []any{s.terminalID, s.terminalID.String(), s.orgID}},
		{`INSERT INTO menus (id, organization_id, name, source_type, is_active) VALUES ($1, $2, 'main', 'nomenclature', TRUE)`, []any{menuID, s.orgID}},
		{`INSERT INTO products (id, menu_id, external_id, name, price, has_modifiers) VALUES ($1, $2, 'P', 'Пицца', 2500, TRUE)`, []any{s.productID, menuID}},
		{`INSERT INTO modifiers (id, product_id, modifier_code, name, min_amount, max_amount, is_required) VALUES ($1, $2, 'X1', 'Тесто', 1, 1, TRUE)`, []any{s.modifierID, s.productID}},
	}
	for _, st := range statements {
		_, err := testPool.Exec(ctx, st.query, st.args...)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = testPool.Exec(ctx, `DELETE FROM orders WHERE organization_id = $1`, s.orgID)
		_, _ = testPool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, s.orgID)
	})

	return order.NewRepository(testPool), s
}

func newStoredOrder(s seed, status order.Status) *order.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())
	return &order.Order{
		ID:             id,
		OrganizationID: s.orgID,
		TerminalID:     &s.terminalID,
		UserID:         uuid.Must(uuid.NewV4()),
		OrderNumber:    id.String()[:8],
		CustomerName:   "Айгерим",
		Phone:          "+77771234567",
		Comment:        "Оплата: Наличные.",
		Status:         status,
		TotalAmount:    decimal.NewFromInt(5000),
		CreatedAt:      now,
		UpdatedAt:      now,
		Items: []order.Item{{
			ID:          itemID,
			ProductID:   s.productID,
			ProductName: "Пицца",
			Quantity:    2,
			Price:       decimal.NewFromInt(2500),
			TotalPrice:  decimal.NewFromInt(5000),
			Modifiers: []order.ItemModifier{{
				ID:           uuid.Must(uuid.NewV4()),
				OrderItemID:  itemID,
				ModifierID:   &s.modifierID,
				ModifierName: "Тесто",
				Quantity:     1,
			}},
		}},
	}
}

func TestRepository_CreateAndLoad(t *testing.T) {
	repo, s := setupRepository(t)
	ctx := context.Background()

	o := newStoredOrder(s, order.StatusPending)
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.LoadForSubmission(ctx, o.ID)
	require.NoError(t, err)

	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.True(t, o.TotalAmount.Equal(got.TotalAmount))
	require.Len(t, got.Items, 1)
	require.NotNil(t, got.Items[0].Product)
	assert.Equal(t, "P", got.Items[0].Product.ExternalID)
	require.Len(t, got.Items[0].Modifiers, 1)
	require.NotNil(t, got.Items[0].Modifiers[0].Modifier)
	assert.Equal(t, "X1", got.Items[0].Modifiers[0].Modifier.Code)

	_, err = repo.GetByID(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestRepository_DeletedModifierIsUnresolved(t *testing.T) {
	repo, s := setupRepository(t)
	ctx := context.Background()

	o := newStoredOrder(s, order.StatusPending)
	require.NoError(t, repo.Create(ctx, o))

	_, err := testPool.Exec(ctx, `DELETE FROM modifiers WHERE id = $1`, s.modifierID)
	require.NoError(t, err)

	got, err := repo.LoadForSubmission(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items[0].Modifiers, 1)
	assert.Nil(t, got.Items[0].Modifiers[0].ModifierID)
	assert.Nil(t, got.Items[0].Modifiers[0].Modifier)
}

func TestRepository_ClaimSubmission(t *testing.T) {
	repo, s := setupRepository(t)
	ctx := context.Background()

	o := newStoredOrder(s, order.StatusPending)
	require.NoError(t, repo.Create(ctx, o))

	claimed, err := repo.ClaimSubmission(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimSubmission(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")

	err = repo.MarkSent(ctx, o.ID, order.SentResult{
		IikoOrderID:   "iiko-1",
		CorrelationID: "corr-1",
		Status:        order.StatusInProgress,
		Query:         json.RawMessage(`{"organizationId":"org"}`),
		Response:      json.RawMessage(`{"correlationId":"corr-1"}`),
		SentAt:        time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusInProgress, got.Status)
	require.NotNil(t, got.IikoOrderID)
	assert.Equal(t, "iiko-1", *got.IikoOrderID)
	assert.NotNil(t, got.SentAt)

	// отправленный заказ повторно не захватывается и не помечается ошибкой
	claimed, err = repo.ClaimSubmission(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.ErrorIs(t, repo.MarkFailed(ctx, o.ID, "late failure", nil), order.ErrOrderNotFound)
}

func TestRepository_CancelledIsNotClaimed(t *testing.T) {
	repo, s := setupRepository(t)
	ctx := context.Background()

	o := newStoredOrder(s, order.StatusCancelled)
	require.NoError(t, repo.Create(ctx, o))

	claimed, err := repo.ClaimSubmission(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRepository_FailAndResubmit(t *testing.T) {
	repo, s := setupRepository(t)
	ctx := context.Background()

	o := newStoredOrder(s, order.StatusPending)
	require.NoError(t, repo.Create(ctx, o))

	claimed, err := repo.ClaimSubmission(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.MarkFailed(ctx, o.ID, "Terminal group is disabled", json.RawMessage(`{"order":{}}`)))

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusError, got.Status)
	assert.Nil(t, got.SubmittingAt)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "Terminal group is disabled", *got.ErrorMessage)
	assert.JSONEq(t, `{"order":{}}`, string(got.QueryToIiko))

	claimed, err = repo.ClaimSubmission(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "failed order is claimed only after a reset")

	reset, err := repo.ResetForResubmit(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, reset)

	claimed, err = repo.ClaimSubmission(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, repo.ReleaseClaim(ctx, o.ID))

	got, err = repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Nil(t, got.ErrorMessage)

	reset, err = repo.ResetForResubmit(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, reset, "only failed orders can be reset")
}

func TestRepository_ApplyTracking(t *testing.T) {
	repo, s := setupRepository(t)
	ctx := context.Background()

	active := newStoredOrder(s, order.StatusSuccess)
	cancelled := newStoredOrder(s, order.StatusCancelled)
	require.NoError(t, repo.Create(ctx, active))
	require.NoError(t, repo.Create(ctx, cancelled))

	upd := order.TrackingUpdate{Status: order.StatusDelivering, DeliveryNumber: "1042"}

	applied, err := repo.ApplyTracking(ctx, active.ID, upd)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := repo.GetByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivering, got.Status)
	require.NotNil(t, got.DeliveryNumber)
	assert.Equal(t, "1042", *got.DeliveryNumber)

	// пустой статус сохраняет текущий
	applied, err = repo.ApplyTracking(ctx, active.ID, order.TrackingUpdate{ErrorMessage: "courier late"})
	require.NoError(t, err)
	assert.True(t, applied)
	got, err = repo.GetByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivering, got.Status)

	applied, err = repo.ApplyTracking(ctx, cancelled.ID, upd)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err = repo.GetByID(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
}

func TestRepository_CompareAndSetStatus(t *testing.T) {
	repo, s := setupRepository(t)
	ctx := context.Background()

	o := newStoredOrder(s, order.StatusPending)
	require.NoError(t, repo.Create(ctx, o))

	ok, err := repo.CompareAndSetStatus(ctx, o.ID, order.StatusSuccess, order.StatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.CompareAndSetStatus(ctx, o.ID, order.StatusPending, order.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, ok)
}
