package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/internal/process"
)

const (
	earthEngineURL   = "https://earthengine.googleapis.com/v1/"
	earthEngineScope = "https://www.googleapis.com/auth/earthengine"
	cloudScope       = "https://www.googleapis.com/auth/cloud-platform"

	fileFormatGeoTIFF = "GEO_TIFF"
)

// EarthEngine submits exports to the Earth Engine REST API and writes them
// to a Drive folder or a Cloud Storage bucket.
type EarthEngine struct {
	client  *http.Client
	baseURL string
	parent  string
}

// NewEarthEngine connects to Earth Engine on behalf of a cloud project. opts
// usually carry the service account credentials.
func NewEarthEngine(ctx context.Context, project string, opts ...option.ClientOption) (*EarthEngine, error) {
	if project == "" {
		return nil, errors.New("earth engine project is required")
	}
	opts = append([]option.ClientOption{option.WithScopes(earthEngineScope, cloudScope)}, opts...)
	client, _, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create earth engine client: %w", err)
	}
	return newEarthEngine(client, earthEngineURL, project), nil
}

func newEarthEngine(client *http.Client, baseURL, project string) *EarthEngine {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &EarthEngine{client: client, baseURL: baseURL, parent: "projects/" + project}
}

type exportImageRequest struct {
	Expression        *Expression             `json:"expression"`
	Description       string                  `json:"description,omitempty"`
	FileExportOptions *imageFileExportOptions `json:"fileExportOptions"`
	Grid              *pixelGrid              `json:"grid,omitempty"`
	MaxPixels         int64                   `json:"maxPixels,string,omitempty"`
	RequestID         string                  `json:"requestId,omitempty"`
}

type imageFileExportOptions struct {
	FileFormat              string                   `json:"fileFormat"`
	DriveDestination        *driveDestination        `json:"driveDestination,omitempty"`
	CloudStorageDestination *cloudStorageDestination `json:"cloudStorageDestination,omitempty"`
}

type driveDestination struct {
	Folder         string `json:"folder,omitempty"`
	FilenamePrefix string `json:"filenamePrefix"`
}

type cloudStorageDestination struct {
	Bucket         string `json:"bucket"`
	FilenamePrefix string `json:"filenamePrefix"`
}

type pixelGrid struct {
	CrsCode string `json:"crsCode,omitempty"`
}

type operation struct {
	Name     string          `json:"name"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Done     bool            `json:"done,omitempty"`
	Error    *operationError `json:"error,omitempty"`
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type operationMetadata struct {
	State string `json:"state"`
}

type computeValueRequest struct {
	Expression *Expression `json:"expression"`
}

type computeValueResponse struct {
	Result json.RawMessage `json:"result"`
}

func (e *EarthEngine) Submit(ctx context.Context, req Request) (string, error) {
	expr, err := ImageExpression(req.Image, req.Export.Scale)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	body := exportImageRequest{
		Expression:        expr,
		Description:       req.Export.Description,
		FileExportOptions: fileExportOptions(req.Export),
		MaxPixels:         req.Export.MaxPixels,
		RequestID:         req.Export.RequestID,
	}
	if req.Export.CRS != "" {
		body.Grid = &pixelGrid{CrsCode: req.Export.CRS}
	}
	var op operation
	if err := e.do(ctx, http.MethodPost, e.parent+"/image:export", body, &op); err != nil {
		return "", classify(fmt.Errorf("export %s: %w", req.Export.FilePrefix, err))
	}
	if op.Name == "" {
		return "", fmt.Errorf("export %s: response has no operation name", req.Export.FilePrefix)
	}
	return op.Name, nil
}

func fileExportOptions(p ExportParams) *imageFileExportOptions {
	opts := &imageFileExportOptions{FileFormat: fileFormatGeoTIFF}
	if p.Bucket != "" {
		prefix := p.FilePrefix
		if p.Folder != "" {
			prefix = path.Join(p.Folder, p.FilePrefix)
		}
		opts.CloudStorageDestination = &cloudStorageDestination{
			Bucket:         p.Bucket,
			FilenamePrefix: prefix,
		}
		return opts
	}
	opts.DriveDestination = &driveDestination{
		Folder:         p.Folder,
		FilenamePrefix: p.FilePrefix,
	}
	return opts
}

func (e *EarthEngine) PollStatus(ctx context.Context, remoteID string) (Status, error) {
	var op operation
	if err := e.do(ctx, http.MethodGet, remoteID, nil, &op); err != nil {
		return Status{}, fmt.Errorf("get operation %s: %w", remoteID, err)
	}
	return operationStatus(op)
}

// operationStatus maps an Earth Engine operation to a task state.
func operationStatus(op operation) (Status, error) {
	var md operationMetadata
	if len(op.Metadata) > 0 {
		if err := json.Unmarshal(op.Metadata, &md); err != nil {
			return Status{}, fmt.Errorf("decode operation metadata: %w", err)
		}
	}
	if op.Error != nil {
		if md.State == "CANCELLED" {
			return Status{State: process.StateCancelled, Message: op.Error.Message}, nil
		}
		return Status{State: process.StateFailed, Message: op.Error.Message}, nil
	}
	switch md.State {
	case "RUNNING", "CANCELLING":
		return Status{State: process.StateRunning}, nil
	case "SUCCEEDED":
		return Status{State: process.StateSucceeded}, nil
	case "FAILED":
		return Status{State: process.StateFailed}, nil
	case "CANCELLED":
		return Status{State: process.StateCancelled}, nil
	}
	if op.Done {
		return Status{State: process.StateSucceeded}, nil
	}
	return Status{State: process.StatePending}, nil
}

func (e *EarthEngine) ProbeFeatureCount(ctx context.Context, f matrix.Filter) (int64, error) {
	var resp computeValueResponse
	err := e.do(ctx, http.MethodPost, e.parent+"/value:compute", computeValueRequest{Expression: CountExpression(f)}, &resp)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", f.Dataset, err)
	}
	return toCount(resp.Result)
}

func toCount(raw json.RawMessage) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("decode count result: %w", err)
	}
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		return int64(f), err
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unexpected count result %T", v)
}

// do sends one JSON request. Error responses come back as *googleapi.Error.
func (e *EarthEngine) do(ctx context.Context, method, name string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+name, &body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify marks client errors other than throttling as rejections.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return err
}
