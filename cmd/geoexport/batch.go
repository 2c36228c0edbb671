package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tendant/simple-geoexport/internal/matrix"
)

// batchArgs are the raw matrix flags of a command.
type batchArgs struct {
	Regions    []string
	CONUS      bool
	BBoxes     []string
	Years      []string
	Months     string
	Annual     bool
	Indicators []string
}

func (a batchArgs) regions() ([]matrix.Region, error) {
	var out []matrix.Region
	for _, name := range a.Regions {
		out = append(out, matrix.StateRegion(strings.TrimSpace(name)))
	}
	if a.CONUS {
		out = append(out, matrix.CONUS())
	}
	for _, v := range a.BBoxes {
		r, err := parseBBox(v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one of --region, --conus or --bbox is required")
	}
	return out, nil
}

// parseBBox reads "name=west,south,east,north".
func parseBBox(s string) (matrix.Region, error) {
	name, coords, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return matrix.Region{}, fmt.Errorf("invalid bbox %q: want name=west,south,east,north", s)
	}
	parts := strings.Split(coords, ",")
	if len(parts) != 4 {
		return matrix.Region{}, fmt.Errorf("invalid bbox %q: want four coordinates", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return matrix.Region{}, fmt.Errorf("invalid bbox %q: %w", s, err)
		}
		v[i] = f
	}
	return matrix.BBoxRegion(strings.TrimSpace(name), v[0], v[1], v[2], v[3]), nil
}

func (a batchArgs) windows() ([]matrix.Window, error) {
	years, err := parseYears(a.Years)
	if err != nil {
		return nil, err
	}
	if a.Annual {
		out := make([]matrix.Window, 0, len(years))
		for _, y := range years {
			out = append(out, matrix.Annual(y))
		}
		return out, nil
	}
	from, to, err := parseRange(a.Months, "months")
	if err != nil {
		return nil, err
	}
	if from < 1 || to > 12 {
		return nil, fmt.Errorf("invalid months %q: must lie within 1-12", a.Months)
	}
	var out []matrix.Window
	for _, y := range years {
		out = append(out, matrix.Monthly(y, from, to)...)
	}
	return out, nil
}

// parseYears expands "2010" and "2008-2012" values in order, dropping
// repeats.
func parseYears(values []string) ([]int, error) {
	var out []int
	seen := make(map[int]bool)
	for _, v := range values {
		from, to, err := parseRange(v, "year")
		if err != nil {
			return nil, err
		}
		for y := from; y <= to; y++ {
			if !seen[y] {
				seen[y] = true
				out = append(out, y)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one --year is required")
	}
	return out, nil
}

func parseRange(s, name string) (int, int, error) {
	lo, hi, isRange := strings.Cut(strings.TrimSpace(s), "-")
	from, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	to := from
	if isRange {
		if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return 0, 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
		}
	}
	if to < from {
		return 0, 0, fmt.Errorf("invalid %s %q: end before start", name, s)
	}
	return from, to, nil
}
