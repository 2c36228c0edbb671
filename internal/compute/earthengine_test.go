package compute

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-geoexport/internal/catalog"
	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/internal/process"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

// eeServer replays fixtures from testdata. Each path maps to the fixtures
// returned on successive calls; the last one repeats.
type eeServer struct {
	mu       sync.Mutex
	routes   map[string][]string
	status   int
	requests []recordedRequest
}

func newEEServer(t *testing.T, routes map[string][]string) (*eeServer, *EarthEngine) {
	s := &eeServer{routes: routes}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, newEarthEngine(srv.Client(), srv.URL+"/v1", "demo")
}

func (s *eeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	status := s.status
	fixtures := s.routes[r.URL.Path]
	var name string
	if len(fixtures) > 0 {
		name = fixtures[0]
		if len(fixtures) > 1 {
			s.routes[r.URL.Path] = fixtures[1:]
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"refused"}}`))
		return
	}
	if name == "" {
		http.NotFound(w, r)
		return
	}
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

func (s *eeServer) fail(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *eeServer) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func TestEarthEngineSubmit(t *testing.T) {
	srv, ee := newEEServer(t, map[string][]string{
		"/v1/projects/demo/image:export": {"operation_running.json"},
	})
	job := landsatJob(catalog.NormalizedDifference, []catalog.BandRef{{Name: "NIR", Code: "SR_B4"}, {Name: "RED", Code: "SR_B3"}}, "")
	req := NewRequest(job, Defaults{Folder: "earthengine_exports", CRS: "EPSG:4326", MaxPixels: 1e13})
	req.Export.RequestID = "6f1c2a7e-0d7b-4c55-9a53-1f0b2f4d9e11"

	id, err := ee.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "projects/demo/operations/MTVKZ5ZZQ3CF5ORJLJUNMUNF", id)

	reqs := srv.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)

	var sent map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(reqs[0].Body, &sent))
	assert.JSONEq(t, `"6f1c2a7e-0d7b-4c55-9a53-1f0b2f4d9e11"`, string(sent["requestId"]))
	assert.JSONEq(t, `"10000000000000"`, string(sent["maxPixels"]))
	assert.JSONEq(t, `"NDVI_california_2008-03-01_to_2008-03-31"`, string(sent["description"]))
	assert.JSONEq(t, `{"crsCode":"EPSG:4326"}`, string(sent["grid"]))
	assert.JSONEq(t, `{
		"fileFormat": "GEO_TIFF",
		"driveDestination": {
			"folder": "earthengine_exports",
			"filenamePrefix": "ndvi_california_2008-03-01_to_2008-03-31"
		}
	}`, string(sent["fileExportOptions"]))

	want, err := ImageExpression(req.Image, req.Export.Scale)
	require.NoError(t, err)
	wantJSON, err := json.Marshal(want)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantJSON), string(sent["expression"]))
}

func TestEarthEngineSubmitToBucket(t *testing.T) {
	srv, ee := newEEServer(t, map[string][]string{
		"/v1/projects/demo/image:export": {"operation_running.json"},
	})
	job := landsatJob(catalog.Mean, []catalog.BandRef{{Name: "LST", Code: "ST_B6"}}, "")
	req := NewRequest(job, Defaults{Bucket: "geo-exports", Folder: "raw", MaxPixels: 1e13})

	_, err := ee.Submit(context.Background(), req)
	require.NoError(t, err)

	var sent struct {
		FileExportOptions json.RawMessage `json:"fileExportOptions"`
		Grid              json.RawMessage `json:"grid"`
	}
	require.NoError(t, json.Unmarshal(srv.recorded()[0].Body, &sent))
	assert.JSONEq(t, `{
		"fileFormat": "GEO_TIFF",
		"cloudStorageDestination": {
			"bucket": "geo-exports",
			"filenamePrefix": "raw/ndvi_california_2008-03-01_to_2008-03-31"
		}
	}`, string(sent.FileExportOptions))
	assert.Empty(t, sent.Grid)
}

func TestEarthEngineSubmitErrors(t *testing.T) {
	job := landsatJob(catalog.NormalizedDifference, []catalog.BandRef{{Name: "NIR", Code: "SR_B4"}, {Name: "RED", Code: "SR_B3"}}, "")
	req := NewRequest(job, Defaults{Folder: "earthengine_exports"})

	srv, ee := newEEServer(t, nil)
	srv.fail(http.StatusBadRequest)
	_, err := ee.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrRejected)

	srv.fail(http.StatusServiceUnavailable)
	_, err = ee.Submit(context.Background(), req)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))

	bad := req
	bad.Image.Formula = "ratio"
	_, err = ee.Submit(context.Background(), bad)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestEarthEnginePollStatus(t *testing.T) {
	srv, ee := newEEServer(t, map[string][]string{
		"/v1/projects/demo/operations/MTVKZ5ZZQ3CF5ORJLJUNMUNF": {"operation_running.json", "operation_succeeded.json"},
		"/v1/projects/demo/operations/QAZXSWEDCVFRTGBNHYUJMKIO": {"operation_failed.json"},
	})
	ctx := context.Background()

	st, err := ee.PollStatus(ctx, "projects/demo/operations/MTVKZ5ZZQ3CF5ORJLJUNMUNF")
	require.NoError(t, err)
	assert.Equal(t, process.StateRunning, st.State)

	st, err = ee.PollStatus(ctx, "projects/demo/operations/MTVKZ5ZZQ3CF5ORJLJUNMUNF")
	require.NoError(t, err)
	assert.Equal(t, process.StateSucceeded, st.State)

	st, err = ee.PollStatus(ctx, "projects/demo/operations/QAZXSWEDCVFRTGBNHYUJMKIO")
	require.NoError(t, err)
	assert.Equal(t, Status{State: process.StateFailed, Message: "Image.select: Pattern 'SR_B9' did not match any bands."}, st)

	_, err = ee.PollStatus(ctx, "projects/demo/operations/UNKNOWN")
	assert.Error(t, err)

	for _, r := range srv.recorded() {
		assert.Equal(t, http.MethodGet, r.Method)
	}
}

func TestEarthEngineProbeFeatureCount(t *testing.T) {
	srv, ee := newEEServer(t, map[string][]string{
		"/v1/projects/demo/value:compute": {"value_compute_count.json"},
	})
	w := matrix.Annual(2015)
	n, err := ee.ProbeFeatureCount(context.Background(), matrix.Filter{
		Dataset: "MODIS/061/MOD13A1",
		Start:   w.Start,
		End:     w.End,
		Region:  matrix.BBoxRegion("conus_box", -125, 24.5, -66.5, 49.5),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)

	reqs := srv.recorded()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, fixture(t, "count_request.json"), string(reqs[0].Body))
}

func TestToCount(t *testing.T) {
	for raw, want := range map[string]int64{`14`: 14, `3.0`: 3, `"27"`: 27} {
		got, err := toCount(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := toCount(json.RawMessage(`{"type":"Image"}`))
	assert.Error(t, err)
}
