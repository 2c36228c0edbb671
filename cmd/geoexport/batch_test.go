package main

import (
	"testing"

	"github.com/tendant/simple-geoexport/internal/matrix"
)

func TestParseBBox(t *testing.T) {
	r, err := parseBBox("bay_area = -123.0, 37.0, -121.5, 38.5")
	if err != nil {
		t.Fatalf("parseBBox returned error: %v", err)
	}
	if r.Name != "bay_area" || r.BBox == nil || *r.BBox != [4]float64{-123, 37, -121.5, 38.5} {
		t.Fatalf("unexpected region: %+v", r)
	}

	for _, bad := range []string{"-123,37,-121,38", "x=1,2,3", "x=a,2,3,4", "=1,2,3,4"} {
		if _, err := parseBBox(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseYears(t *testing.T) {
	years, err := parseYears([]string{"2010-2012", "2011", "2008"})
	if err != nil {
		t.Fatalf("parseYears returned error: %v", err)
	}
	want := []int{2010, 2011, 2012, 2008}
	if len(years) != len(want) {
		t.Fatalf("unexpected years: %v", years)
	}
	for i := range want {
		if years[i] != want[i] {
			t.Fatalf("unexpected years: got %v want %v", years, want)
		}
	}

	if _, err := parseYears([]string{"2012-2010"}); err == nil {
		t.Fatal("expected error for reversed range")
	}
	if _, err := parseYears(nil); err == nil {
		t.Fatal("expected error without years")
	}
}

func TestBatchArgsWindows(t *testing.T) {
	monthly, err := batchArgs{Years: []string{"2008"}, Months: "1-7"}.windows()
	if err != nil {
		t.Fatalf("windows returned error: %v", err)
	}
	if len(monthly) != 7 {
		t.Fatalf("expected 7 monthly windows, got %d", len(monthly))
	}
	if got := monthly[1].Label(); got != "2008-02-01_to_2008-02-29" {
		t.Fatalf("unexpected label: %s", got)
	}

	annual, err := batchArgs{Years: []string{"2015-2016"}, Annual: true}.windows()
	if err != nil {
		t.Fatalf("windows returned error: %v", err)
	}
	if len(annual) != 2 || annual[0] != matrix.Annual(2015) {
		t.Fatalf("unexpected annual windows: %v", annual)
	}

	if _, err := (batchArgs{Years: []string{"2015"}, Months: "0-13"}).windows(); err == nil {
		t.Fatal("expected error for months outside 1-12")
	}
}

func TestBatchArgsRegions(t *testing.T) {
	regions, err := batchArgs{
		Regions: []string{"New York"},
		CONUS:   true,
		BBoxes:  []string{"box=0,0,1,1"},
	}.regions()
	if err != nil {
		t.Fatalf("regions returned error: %v", err)
	}
	if len(regions) != 3 {
		t.Fatalf("expected 3 regions, got %d", len(regions))
	}
	if regions[0].Slug() != "new_york" || regions[1].Name != "CONUS" || regions[2].BBox == nil {
		t.Fatalf("unexpected regions: %+v", regions)
	}

	if _, err := (batchArgs{}).regions(); err == nil {
		t.Fatal("expected error without regions")
	}
}
