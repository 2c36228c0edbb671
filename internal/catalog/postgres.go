package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type satelliteRow struct {
	ID            string   `db:"id"`
	Dataset       string   `db:"dataset"`
	Resolution    float64  `db:"resolution"`
	StartYear     int      `db:"start_year"`
	EndYear       int      `db:"end_year"`
	CloudCoverMax *float64 `db:"cloud_cover_max"`
	ScaleFactor   *float64 `db:"scale_factor"`
	Offset        *float64 `db:"offset"`
}

type indicatorRow struct {
	Indicator   string  `db:"indicator"`
	SatelliteID string  `db:"satellite_id"`
	FormulaType string  `db:"formula_type"`
	Band1       *string `db:"band_1"`
	Band2       *string `db:"band_2"`
	Band3       *string `db:"band_3"`
	Band4       *string `db:"band_4"`
	Expression  *string `db:"expression"`
}

type bandRow struct {
	SatelliteID string `db:"satellite_id"`
	BandName    string `db:"band_name"`
	BandCode    string `db:"band_code"`
}

const (
	satellitesQuery = `SELECT id, dataset, resolution, start_year, end_year,
		cloud_cover_max, scale_factor, "offset" FROM satellites ORDER BY id`
	indicatorsQuery = `SELECT indicator, satellite_id, formula_type, band_1, band_2, band_3, band_4,
		expression FROM indicators ORDER BY position`
	bandsQuery = `SELECT satellite_id, band_name, band_code FROM bands ORDER BY satellite_id, band_name`
)

// LoadPostgres reads the three tables (see schema.sql) from Postgres. The
// declared order of indicator rules is the indicators.position column.
func LoadPostgres(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	sats, err := query[satelliteRow](ctx, pool, satellitesQuery)
	if err != nil {
		return nil, fmt.Errorf("load satellites: %w", err)
	}
	inds, err := query[indicatorRow](ctx, pool, indicatorsQuery)
	if err != nil {
		return nil, fmt.Errorf("load indicators: %w", err)
	}
	bands, err := query[bandRow](ctx, pool, bandsQuery)
	if err != nil {
		return nil, fmt.Errorf("load bands: %w", err)
	}

	tables, err := fromRows(sats, inds, bands)
	if err != nil {
		return nil, fmt.Errorf("load catalog from database: %w", err)
	}
	store, err := New(tables)
	if err != nil {
		return nil, fmt.Errorf("load catalog from database: %w", err)
	}
	return store, nil
}

func query[T any](ctx context.Context, pool *pgxpool.Pool, sql string) ([]T, error) {
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}

func fromRows(sats []satelliteRow, inds []indicatorRow, bands []bandRow) (Tables, error) {
	var t Tables
	for _, r := range sats {
		t.Satellites = append(t.Satellites, Satellite{
			ID:            r.ID,
			Dataset:       r.Dataset,
			Resolution:    r.Resolution,
			StartYear:     r.StartYear,
			EndYear:       r.EndYear,
			CloudCoverMax: r.CloudCoverMax,
			ScaleFactor:   deref(r.ScaleFactor),
			Offset:        deref(r.Offset),
		})
	}
	for i, r := range inds {
		formula, err := ParseFormula(r.FormulaType)
		if err != nil {
			return Tables{}, &RowError{Table: tableIndicators, Row: i + 1, Column: "formula_type", Err: err}
		}
		t.Rules = append(t.Rules, Rule{
			Indicator:   r.Indicator,
			SatelliteID: r.SatelliteID,
			Formula:     formula,
			Bands:       []string{deref(r.Band1), deref(r.Band2), deref(r.Band3), deref(r.Band4)},
			Expression:  deref(r.Expression),
		})
	}
	for _, r := range bands {
		t.Bands = append(t.Bands, Band{SatelliteID: r.SatelliteID, Name: r.BandName, Code: r.BandCode})
	}
	return t, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
