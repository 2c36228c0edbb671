//go:build integration

package catalog

import (
	"context"
	_ "embed"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:embed schema.sql
var schemaSQL string

func TestLoadPostgres(t *testing.T) {
	dsn := os.Getenv("CATALOG_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CATALOG_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS indicators, bands, satellites`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, schemaSQL)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `INSERT INTO satellites (id, dataset, resolution, start_year, end_year)
		VALUES ('landsat8', 'LANDSAT/LC08/C02/T1_L2', 30, 2013, 2030)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO indicators (indicator, satellite_id, formula_type, band_1, band_2)
		VALUES ('NDVI', 'landsat8', 'normalized_diff', 'NIR', 'RED')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO bands (satellite_id, band_name, band_code)
		VALUES ('landsat8', 'NIR', 'SR_B5'), ('landsat8', 'RED', 'SR_B4')`)
	require.NoError(t, err)

	store, err := LoadPostgres(ctx, pool)
	require.NoError(t, err)

	tpl, ok := store.Resolve(2020, "NDVI")
	require.True(t, ok)
	assert.Equal(t, []string{"SR_B5", "SR_B4"}, tpl.Codes())
	require.NotNil(t, tpl.CloudCoverMax)
	assert.Equal(t, 20.0, *tpl.CloudCoverMax)
}
