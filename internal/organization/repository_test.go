package organization_test

import (
	"context"
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
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
)

var testPool *pgxpool.Pool

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

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

func setupRepository(t *testing.T) (organization.Repository, uuid.UUID) {
	t.Helper()
	if testPool == nil {
		t.Skip("DB_HOST_TEST is not set")
	}

	orgID := uuid.Must(uuid.NewV4())
	_, err := testPool.Exec(context.Background(),
		`INSERT INTO organizations (id, external_id, name, api_key) VALUES ($1, $2, 'Test', 'key')`, orgID, orgID.String())
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = testPool.Exec(context.Background(), `DELETE FROM organizations WHERE id = $1`, orgID)
	})
	return organization.NewRepository(testPool), orgID
}

func TestRepository_SyncDiscounts_DeactivatesMissing(t *testing.T) {
	repo, orgID := setupRepository(t)
	ctx := context.Background()

	pickup := organization.DiscountRecord{ExternalID: "d-pickup", Name: "Самовывоз", Percent: decimal.NewFromInt(10), Mode: "Percent"}
	birthday := organization.DiscountRecord{ExternalID: "d-birthday", Name: "День рождения", Percent: decimal.NewFromInt(15), Mode: "Percent"}

	res, err := repo.SyncDiscounts(ctx, orgID, []organization.DiscountRecord{pickup, birthday})
	require.NoError(t, err)
	assert.Equal(t, &organization.DiscountSyncResult{Synced: 2}, res)

	pickup.Percent = decimal.NewFromInt(12)
	res, err = repo.SyncDiscounts(ctx, orgID, []organization.DiscountRecord{pickup})
	require.NoError(t, err)
	assert.Equal(t, &organization.DiscountSyncResult{Synced: 1, Deactivated: 1}, res)

	discounts, err := repo.ListDiscounts(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, discounts, 2)
	byExternalID := make(map[string]organization.Discount)
	for _, d := range discounts {
		byExternalID[d.ExternalID] = d
	}
	assert.False(t, byExternalID["d-birthday"].IsActive)
	assert.True(t, byExternalID["d-pickup"].IsActive)
	assert.True(t, decimal.NewFromInt(12).Equal(byExternalID["d-pickup"].Percent))

	// скидка вернулась в ответ iiko
	res, err = repo.SyncDiscounts(ctx, orgID, []organization.DiscountRecord{pickup, birthday})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Deactivated)

	res, err = repo.SyncDiscounts(ctx, orgID, nil)
	require.NoError(t, err)
	assert.Equal(t, &organization.DiscountSyncResult{Deactivated: 2}, res)
}
