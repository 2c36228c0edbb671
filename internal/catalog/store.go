package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tendant/simple-geoexport/internal/bandmath"
)

// Landsat surface reflectance defaults applied when a LANDSAT dataset row
// does not set its own preprocessing columns.
const (
	landsatCloudCoverMax = 20.0
	landsatScaleFactor   = 0.0000275
	landsatOffset        = -0.2
)

// RowError describes one invalid row of a configuration table.
type RowError struct {
	Table  string
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s row %d column %s: %v", e.Table, e.Row, e.Column, e.Err)
	}
	return fmt.Sprintf("%s row %d: %v", e.Table, e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

type bandKey struct{ satellite, name string }

// Store is a validated, read-only snapshot of the configuration tables. It is
// safe for concurrent use.
type Store struct {
	satellites map[string]Satellite
	rules      []Rule
	bands      map[bandKey]string
}

// New validates every row of t and builds a Store. All problems are reported
// together; any problem fails the whole load.
func New(t Tables) (*Store, error) {
	var errs []error
	s := &Store{
		satellites: make(map[string]Satellite, len(t.Satellites)),
		bands:      make(map[bandKey]string, len(t.Bands)),
	}

	for i, sat := range t.Satellites {
		row := i + 1
		sat.ID = strings.TrimSpace(sat.ID)
		sat.Dataset = strings.TrimSpace(sat.Dataset)
		switch {
		case sat.ID == "":
			errs = append(errs, &RowError{Table: "satellites", Row: row, Column: "id", Err: errors.New("empty")})
			continue
		case sat.Dataset == "":
			errs = append(errs, &RowError{Table: "satellites", Row: row, Column: "dataset", Err: errors.New("empty")})
		case sat.Resolution <= 0:
			errs = append(errs, &RowError{Table: "satellites", Row: row, Column: "resolution", Err: fmt.Errorf("must be positive (got %g)", sat.Resolution)})
		case sat.StartYear > sat.EndYear:
			errs = append(errs, &RowError{Table: "satellites", Row: row, Err: fmt.Errorf("start_year %d after end_year %d", sat.StartYear, sat.EndYear)})
		}
		if _, dup := s.satellites[sat.ID]; dup {
			errs = append(errs, &RowError{Table: "satellites", Row: row, Column: "id", Err: fmt.Errorf("duplicate id %q", sat.ID)})
			continue
		}
		s.satellites[sat.ID] = withLandsatDefaults(sat)
	}

	for i, b := range t.Bands {
		row := i + 1
		key := bandKey{strings.TrimSpace(b.SatelliteID), strings.TrimSpace(b.Name)}
		code := strings.TrimSpace(b.Code)
		switch {
		case key.satellite == "" || key.name == "" || code == "":
			errs = append(errs, &RowError{Table: "bands", Row: row, Err: errors.New("satellite_id, band_name and band_code are required")})
			continue
		case !s.hasSatellite(key.satellite):
			errs = append(errs, &RowError{Table: "bands", Row: row, Column: "satellite_id", Err: fmt.Errorf("unknown satellite %q", key.satellite)})
			continue
		}
		if _, dup := s.bands[key]; dup {
			errs = append(errs, &RowError{Table: "bands", Row: row, Err: fmt.Errorf("duplicate mapping for %s/%s", key.satellite, key.name)})
			continue
		}
		s.bands[key] = code
	}

	for i, r := range t.Rules {
		row := i + 1
		r.Indicator = strings.TrimSpace(r.Indicator)
		r.SatelliteID = strings.TrimSpace(r.SatelliteID)
		if r.Indicator == "" {
			errs = append(errs, &RowError{Table: "indicators", Row: row, Column: "indicator", Err: errors.New("empty")})
			continue
		}
		if !s.hasSatellite(r.SatelliteID) {
			errs = append(errs, &RowError{Table: "indicators", Row: row, Column: "satellite_id", Err: fmt.Errorf("unknown satellite %q", r.SatelliteID)})
			continue
		}
		if err := validateRule(&r); err != nil {
			errs = append(errs, &RowError{Table: "indicators", Row: row, Err: err})
			continue
		}
		s.rules = append(s.rules, r)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog: %w", errors.Join(errs...))
	}
	return s, nil
}

func (s *Store) hasSatellite(id string) bool {
	_, ok := s.satellites[id]
	return ok
}

func validateRule(r *Rule) error {
	switch r.Formula {
	case NormalizedDifference, Mean, EmpiricalExpression:
	default:
		return fmt.Errorf("unknown formula %q", r.Formula)
	}
	if len(r.Bands) > 4 {
		return fmt.Errorf("at most 4 band slots allowed (got %d)", len(r.Bands))
	}
	used := r.usedBands()
	if len(used) < r.Formula.minBands() {
		return fmt.Errorf("%s needs at least %d bands (got %d)", r.Formula, r.Formula.minBands(), len(used))
	}
	if r.Formula != EmpiricalExpression {
		return nil
	}
	if strings.TrimSpace(r.Expression) == "" {
		if len(used) < len(eviVariables) {
			return fmt.Errorf("evi needs %d bands (got %d)", len(eviVariables), len(used))
		}
		r.Expression = EVI
		r.Variables = make(map[string]string, len(eviVariables))
		for i, v := range eviVariables {
			r.Variables[v] = used[i]
		}
	}
	if _, err := bandmath.Parse(r.Expression, r.identifiers()); err != nil {
		return fmt.Errorf("expression: %w", err)
	}
	return nil
}

func withLandsatDefaults(sat Satellite) Satellite {
	if !strings.Contains(strings.ToUpper(sat.Dataset), "LANDSAT") {
		return sat
	}
	if sat.CloudCoverMax == nil {
		v := landsatCloudCoverMax
		sat.CloudCoverMax = &v
	}
	if sat.ScaleFactor == 0 && sat.Offset == 0 {
		sat.ScaleFactor = landsatScaleFactor
		sat.Offset = landsatOffset
	}
	return sat
}

// Resolve returns the template of the first declared rule for indicator whose
// satellite covers year. The second result is false when nothing matches.
//
// Band slots without a mapping in the bands table resolve to the logical name
// itself.
func (s *Store) Resolve(year int, indicator string) (Template, bool) {
	for _, r := range s.rules {
		if r.Indicator != indicator {
			continue
		}
		sat := s.satellites[r.SatelliteID]
		if !sat.Covers(year) {
			continue
		}
		used := r.usedBands()
		refs := make([]BandRef, len(used))
		for i, name := range used {
			code, ok := s.bands[bandKey{sat.ID, name}]
			if !ok {
				code = name
			}
			refs[i] = BandRef{Name: name, Code: code}
		}
		return Template{
			Indicator:     r.Indicator,
			SatelliteID:   sat.ID,
			Dataset:       sat.Dataset,
			Scale:         sat.Resolution,
			Formula:       r.Formula,
			Bands:         refs,
			Expression:    r.Expression,
			Variables:     r.Variables,
			CloudCoverMax: sat.CloudCoverMax,
			ScaleFactor:   sat.ScaleFactor,
			Offset:        sat.Offset,
		}, true
	}
	return Template{}, false
}

// Indicators returns the distinct indicator names in declared order.
func (s *Store) Indicators() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.rules {
		if !seen[r.Indicator] {
			seen[r.Indicator] = true
			out = append(out, r.Indicator)
		}
	}
	return out
}

// Satellite returns the satellite with the given id.
func (s *Store) Satellite(id string) (Satellite, bool) {
	sat, ok := s.satellites[id]
	return sat, ok
}
