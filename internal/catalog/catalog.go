// Package catalog holds the satellite, indicator and band tables that drive
// indicator resolution, and resolves (year, indicator) pairs against them.
package catalog

import (
	"fmt"
	"strings"
)

// Formula is the derivation applied to the resolved bands.
type Formula string

const (
	NormalizedDifference Formula = "NormalizedDifference"
	Mean                 Formula = "Mean"
	EmpiricalExpression  Formula = "EmpiricalExpression"
)

// EVI is the expression used for rules declared with the "evi" formula name.
const EVI = "2.5 * ((NIR - RED) / (NIR + 6 * RED - 7.5 * BLUE + 1))"

// eviVariables are the EVI identifiers, bound in order to a rule's first
// three band slots.
var eviVariables = []string{"NIR", "RED", "BLUE"}

// ParseFormula accepts the table spellings of a formula kind.
func ParseFormula(s string) (Formula, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normalized_diff", "normalizeddifference", "normalized_difference", "nd":
		return NormalizedDifference, nil
	case "mean":
		return Mean, nil
	case "evi", "expression", "empiricalexpression", "empirical_expression":
		return EmpiricalExpression, nil
	default:
		return "", fmt.Errorf("unknown formula type %q", s)
	}
}

// minBands is the number of logical bands each formula needs.
func (f Formula) minBands() int {
	switch f {
	case NormalizedDifference:
		return 2
	default:
		return 1
	}
}

// Satellite is one remote dataset with its native resolution and the years it covers.
type Satellite struct {
	ID         string
	Dataset    string
	Resolution float64
	StartYear  int
	EndYear    int

	// Optional preprocessing; zero values mean none.
	CloudCoverMax *float64
	ScaleFactor   float64
	Offset        float64
}

// Covers reports whether year falls inside the satellite's inclusive valid range.
func (s Satellite) Covers(year int) bool {
	return s.StartYear <= year && year <= s.EndYear
}

// Rule maps an indicator to a satellite, a formula and up to four logical band
// names. Empty band slots are allowed and skipped.
//
// Variables binds expression identifiers to logical band names. Identifiers
// without an entry must be band names themselves.
type Rule struct {
	Indicator   string
	SatelliteID string
	Formula     Formula
	Bands       []string
	Expression  string
	Variables   map[string]string
}

// usedBands returns the non-empty band slots in order.
func (r Rule) usedBands() []string {
	out := make([]string, 0, len(r.Bands))
	for _, b := range r.Bands {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// identifiers lists every name the rule's expression may reference.
func (r Rule) identifiers() []string {
	out := r.usedBands()
	for v := range r.Variables {
		out = append(out, v)
	}
	return out
}

// Band maps a logical band name of one satellite to its physical code.
type Band struct {
	SatelliteID string
	Name        string
	Code        string
}

// Tables is the raw content of the three configuration tables, in declared order.
type Tables struct {
	Satellites []Satellite
	Rules      []Rule
	Bands      []Band
}

// BandRef is a resolved band: the logical name from the rule and the physical code.
type BandRef struct {
	Name string
	Code string
}

// Template is the result of a successful resolution.
type Template struct {
	Indicator   string
	SatelliteID string
	Dataset     string
	Scale       float64
	Formula     Formula
	Bands       []BandRef
	Expression  string
	Variables   map[string]string

	CloudCoverMax *float64
	ScaleFactor   float64
	Offset        float64
}

// Codes returns the physical band codes in rule order.
func (t Template) Codes() []string {
	codes := make([]string, len(t.Bands))
	for i, b := range t.Bands {
		codes[i] = b.Code
	}
	return codes
}

// Identifiers maps every identifier the expression may use to a physical band
// code: the logical band names, then the variables bound to them.
func (t Template) Identifiers() map[string]string {
	out := make(map[string]string, len(t.Bands)+len(t.Variables))
	for _, b := range t.Bands {
		out[b.Name] = b.Code
	}
	for v, name := range t.Variables {
		if code, ok := out[name]; ok {
			out[v] = code
		}
	}
	return out
}
