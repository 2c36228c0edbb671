package catalog

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

const (
	tableSatellites = "satellites"
	tableIndicators = "indicators"
	tableBands      = "bands"
)

// record is one table row keyed by lower-cased column name.
type record map[string]string

// LoadFile reads the three tables from a YAML document or an XLSX workbook,
// chosen by file extension, and validates them.
func LoadFile(path string) (*Store, error) {
	var (
		raw map[string][]record
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		raw, err = readYAML(path)
	case ".xlsx":
		raw, err = readWorkbook(path)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	tables, err := parseRecords(raw)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	store, err := New(tables)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return store, nil
}

func readYAML(path string) (map[string][]record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc map[string][]map[string]string
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}
	out := make(map[string][]record, len(doc))
	for table, rows := range doc {
		recs := make([]record, len(rows))
		for i, row := range rows {
			recs[i] = normalize(row)
		}
		out[strings.ToLower(table)] = recs
	}
	return out, nil
}

func readWorkbook(path string) (map[string][]record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	out := make(map[string][]record, 3)
	for _, sheet := range []string{tableSatellites, tableIndicators, tableBands} {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			out[sheet] = nil
			continue
		}
		header := rows[0]
		recs := make([]record, 0, len(rows)-1)
		for _, cells := range rows[1:] {
			row := make(map[string]string, len(header))
			empty := true
			for i, col := range header {
				if i < len(cells) {
					row[col] = cells[i]
					if strings.TrimSpace(cells[i]) != "" {
						empty = false
					}
				}
			}
			if !empty {
				recs = append(recs, normalize(row))
			}
		}
		out[sheet] = recs
	}
	return out, nil
}

func normalize(row map[string]string) record {
	r := make(record, len(row))
	for k, v := range row {
		r[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return r
}

// first returns the value of the first present column among names.
func (r record) first(names ...string) (string, string) {
	for _, n := range names {
		if v, ok := r[n]; ok {
			return v, n
		}
	}
	return "", names[0]
}

func parseRecords(raw map[string][]record) (Tables, error) {
	var t Tables
	var errs []error
	fail := func(table string, row int, col string, err error) {
		errs = append(errs, &RowError{Table: table, Row: row, Column: col, Err: err})
	}

	for _, name := range []string{tableSatellites, tableIndicators, tableBands} {
		if _, ok := raw[name]; !ok {
			errs = append(errs, fmt.Errorf("missing table %q", name))
		}
	}

	for i, r := range raw[tableSatellites] {
		row := i + 1
		sat := Satellite{}
		sat.ID, _ = r.first("satellite_id", "id")
		sat.Dataset, _ = r.first("dataset")

		res, col := r.first("resolution", "resolution_m")
		v, err := parseFloat(res)
		if err != nil {
			fail(tableSatellites, row, col, err)
		}
		sat.Resolution = v

		start, err := parseYear(r["start_year"])
		if err != nil {
			fail(tableSatellites, row, "start_year", err)
		}
		end, err := parseYear(r["end_year"])
		if err != nil {
			fail(tableSatellites, row, "end_year", err)
		}
		sat.StartYear, sat.EndYear = start, end

		if s := r["cloud_cover_max"]; s != "" {
			v, err := parseFloat(s)
			if err != nil {
				fail(tableSatellites, row, "cloud_cover_max", err)
			}
			sat.CloudCoverMax = &v
		}
		if s := r["scale_factor"]; s != "" {
			if sat.ScaleFactor, err = parseFloat(s); err != nil {
				fail(tableSatellites, row, "scale_factor", err)
			}
		}
		if s := r["offset"]; s != "" {
			if sat.Offset, err = parseFloat(s); err != nil {
				fail(tableSatellites, row, "offset", err)
			}
		}
		t.Satellites = append(t.Satellites, sat)
	}

	for i, r := range raw[tableIndicators] {
		row := i + 1
		formula, err := ParseFormula(r["formula_type"])
		if err != nil {
			fail(tableIndicators, row, "formula_type", err)
			continue
		}
		rule := Rule{
			Indicator:   r["indicator"],
			SatelliteID: r["satellite_id"],
			Formula:     formula,
			Expression:  r["expression"],
		}
		for slot := 1; slot <= 4; slot++ {
			rule.Bands = append(rule.Bands, r[fmt.Sprintf("band_%d", slot)])
		}
		t.Rules = append(t.Rules, rule)
	}

	for _, r := range raw[tableBands] {
		t.Bands = append(t.Bands, Band{
			SatelliteID: r["satellite_id"],
			Name:        r["band_name"],
			Code:        r["band_code"],
		})
	}

	if len(errs) > 0 {
		return Tables{}, errors.Join(errs...)
	}
	return t, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("required")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

// parseYear accepts "2008" and spreadsheet renderings such as "2008.0".
func parseYear(s string) (int, error) {
	v, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("year %q is not a whole number", s)
	}
	return int(v), nil
}
