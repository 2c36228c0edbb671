package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const catalogYAML = `
satellites:
  - satellite_id: landsat5
    dataset: LANDSAT/LT05/C02/T1_L2
    resolution_m: 30
    start_year: 1984
    end_year: 2011
  - satellite_id: s5p
    dataset: COPERNICUS/S5P/OFFL/L3_O3
    resolution_m: "1113.2"
    start_year: 2018
    end_year: 2030
indicators:
  - indicator: NDVI
    satellite_id: landsat5
    formula_type: normalized_diff
    band_1: NIR
    band_2: RED
  - indicator: OZONE
    satellite_id: s5p
    formula_type: mean
    band_1: O3
bands:
  - satellite_id: landsat5
    band_name: NIR
    band_code: SR_B4
  - satellite_id: landsat5
    band_name: RED
    band_code: SR_B3
  - satellite_id: s5p
    band_name: O3
    band_code: O3_column_number_density
`

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o644))

	store, err := LoadFile(path)
	require.NoError(t, err)

	tpl, ok := store.Resolve(2008, "NDVI")
	require.True(t, ok)
	assert.Equal(t, []string{"SR_B4", "SR_B3"}, tpl.Codes())
	require.NotNil(t, tpl.CloudCoverMax)

	tpl, ok = store.Resolve(2021, "OZONE")
	require.True(t, ok)
	assert.Equal(t, Mean, tpl.Formula)
	assert.Equal(t, 1113.2, tpl.Scale)

	_, ok = store.Resolve(2012, "NDVI")
	assert.False(t, ok)
}

func TestLoadFileYAMLFailsEagerlyOnBadRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	bad := strings.Replace(catalogYAML, "start_year: 1984", "start_year: nineteen", 1)
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)

	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "satellites", rowErr.Table)
	assert.Equal(t, 1, rowErr.Row)
	assert.Equal(t, "start_year", rowErr.Column)
}

func TestLoadFileMissingTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yml")
	require.NoError(t, os.WriteFile(path, []byte("satellites: []\nindicators: []\n"), 0o644))

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, `missing table "bands"`)
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	_, err := LoadFile("catalog.csv")
	assert.Error(t, err)
}

func TestLoadFileWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "satellite_config.xlsx")
	writeWorkbook(t, path, map[string][][]any{
		"satellites": {
			{"satellite_id", "dataset", "resolution_m", "start_year", "end_year"},
			{"modis", "MODIS/061/MOD11A2", 1000, 2000.0, 2030},
		},
		"indicators": {
			{"indicator", "satellite_id", "formula_type", "band_1", "band_2", "band_3", "band_4"},
			{"LST", "modis", "mean", "LST_DAY"},
		},
		"bands": {
			{"satellite_id", "band_name", "band_code"},
			{"modis", "LST_DAY", "LST_Day_1km"},
		},
	})

	store, err := LoadFile(path)
	require.NoError(t, err)

	tpl, ok := store.Resolve(2015, "LST")
	require.True(t, ok)
	assert.Equal(t, "MODIS/061/MOD11A2", tpl.Dataset)
	assert.Equal(t, []string{"LST_Day_1km"}, tpl.Codes())
}

func writeWorkbook(t *testing.T, path string, sheets map[string][][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for name, rows := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	require.NoError(t, f.SaveAs(path))
}
