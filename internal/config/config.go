// Package config reads geoexport settings from a .env file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-geoexport/internal/compute"
	"github.com/tendant/simple-geoexport/internal/objstore"
	"github.com/tendant/simple-geoexport/internal/tracker"
)

const (
	ComputeEarthEngine = "earthengine"
	ComputeDry         = "dry"
)

type Config struct {
	ComputeBackend  string
	EEProject       string
	CredentialsFile string

	CatalogPath        string
	CatalogDatabaseURL string

	ExportFolder    string
	ExportFolderID  string
	ExportBucket    string
	ExportCRS       string
	ExportMaxPixels int64

	DataDir string

	PollInterval        time.Duration
	PollMaxInterval     time.Duration
	PollMultiplier      float64
	PollMaxWait         time.Duration
	MaxPollErrors       int
	PollConcurrency     int
	SubmitRate          float64
	SubmitRetries       int
	ProbeRetries        int
	DownloadConcurrency int

	StorageBackend string
	S3             objstore.S3Options

	NATSURL       string
	ResultSubject string

	MetricsTextfile string

	// Quicklook previews only rasters the image decoders can read (8 and 16
	// bit integer TIFF, PNG, JPEG). Float GeoTIFFs are skipped.
	Quicklook     bool
	QuicklookSize int

	LogLevel string
}

// Load reads envFile (".env" when empty) if it exists, then the
// environment. Variables already set in the environment win.
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		ComputeBackend:     getenv("COMPUTE_BACKEND", ComputeEarthEngine),
		EEProject:          getenv("EE_PROJECT", ""),
		CredentialsFile:    getenv("GOOGLE_CREDENTIALS_FILE", ""),
		CatalogPath:        getenv("CATALOG_PATH", "satellite_config.yaml"),
		CatalogDatabaseURL: getenv("CATALOG_DATABASE_URL", ""),
		ExportFolder:       getenv("EXPORT_FOLDER", "earthengine_exports"),
		ExportFolderID:     getenv("EXPORT_FOLDER_ID", ""),
		ExportBucket:       getenv("EXPORT_BUCKET", ""),
		ExportCRS:          getenv("EXPORT_CRS", "EPSG:4326"),
		DataDir:            getenv("DATA_DIR", "./data/raw"),
		StorageBackend:     getenv("STORAGE_BACKEND", objstore.BackendDrive),
		S3: objstore.S3Options{
			Bucket:          getenv("AWS_S3_BUCKET", ""),
			Region:          getenv("AWS_S3_REGION", "us-east-1"),
			AccessKeyID:     getenv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getenv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        getenv("AWS_S3_ENDPOINT", ""),
			UsePathStyle:    getenvBool("AWS_S3_USE_PATH_STYLE", false),
		},
		NATSURL:         getenv("NATS_URL", ""),
		ResultSubject:   getenv("RESULT_SUBJECT", "geoexport.batch.done"),
		MetricsTextfile: getenv("METRICS_TEXTFILE", ""),
		Quicklook:       getenvBool("QUICKLOOK", false),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.ExportMaxPixels, err = parsePositiveInt64(getenv("EXPORT_MAX_PIXELS", "10000000000000"), "EXPORT_MAX_PIXELS")
	collect(err)
	cfg.PollInterval, err = parseDuration(getenv("POLL_INTERVAL", "10s"), "POLL_INTERVAL")
	collect(err)
	cfg.PollMaxInterval, err = parseDuration(getenv("POLL_MAX_INTERVAL", "2m"), "POLL_MAX_INTERVAL")
	collect(err)
	cfg.PollMaxWait, err = parseDuration(getenv("POLL_MAX_WAIT", "6h"), "POLL_MAX_WAIT")
	collect(err)
	cfg.PollMultiplier, err = parsePositiveFloat(getenv("POLL_MULTIPLIER", "1.5"), "POLL_MULTIPLIER")
	collect(err)
	cfg.SubmitRate, err = parsePositiveFloat(getenv("SUBMIT_RATE", "2"), "SUBMIT_RATE")
	collect(err)
	cfg.MaxPollErrors, err = parsePositiveInt(getenv("MAX_POLL_ERRORS", "5"), "MAX_POLL_ERRORS")
	collect(err)
	cfg.PollConcurrency, err = parsePositiveInt(getenv("POLL_CONCURRENCY", "8"), "POLL_CONCURRENCY")
	collect(err)
	cfg.SubmitRetries, err = parseNonNegativeInt(getenv("SUBMIT_RETRIES", "3"), "SUBMIT_RETRIES")
	collect(err)
	cfg.ProbeRetries, err = parseNonNegativeInt(getenv("PROBE_RETRIES", "2"), "PROBE_RETRIES")
	collect(err)
	cfg.DownloadConcurrency, err = parsePositiveInt(getenv("DOWNLOAD_CONCURRENCY", "4"), "DOWNLOAD_CONCURRENCY")
	collect(err)
	cfg.QuicklookSize, err = parsePositiveInt(getenv("QUICKLOOK_SIZE", "512"), "QUICKLOOK_SIZE")
	collect(err)

	switch cfg.ComputeBackend {
	case ComputeEarthEngine:
		if cfg.EEProject == "" {
			errs = append(errs, errors.New("EE_PROJECT is required for the earthengine backend"))
		}
	case ComputeDry:
	default:
		errs = append(errs, fmt.Errorf("unknown COMPUTE_BACKEND %q", cfg.ComputeBackend))
	}
	if cfg.StorageBackend == objstore.BackendS3 && cfg.S3.Bucket == "" {
		errs = append(errs, errors.New("AWS_S3_BUCKET is required for the s3 storage backend"))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// Tracker returns the submission and polling settings.
func (c Config) Tracker() tracker.Options {
	return tracker.Options{
		PollInterval:  c.PollInterval,
		MaxInterval:   c.PollMaxInterval,
		Multiplier:    c.PollMultiplier,
		MaxWait:       c.PollMaxWait,
		MaxPollErrors: c.MaxPollErrors,
		Concurrency:   c.PollConcurrency,
		SubmitRate:    c.SubmitRate,
		SubmitRetries: uint64(c.SubmitRetries),
		Export: compute.Defaults{
			Bucket:    c.ExportBucket,
			Folder:    c.ExportFolder,
			CRS:       c.ExportCRS,
			MaxPixels: c.ExportMaxPixels,
		},
	}
}

// Storage returns the object store settings.
func (c Config) Storage() objstore.Options {
	return objstore.Options{
		Backend:         c.StorageBackend,
		CredentialsFile: c.CredentialsFile,
		S3:              c.S3,
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true"
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseNonNegativeInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %d)", name, v)
	}
	return v, nil
}

func parsePositiveInt64(value string, name string) (int64, error) {
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parsePositiveFloat(value string, name string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %g)", name, v)
	}
	return v, nil
}

func parseDuration(value string, name string) (time.Duration, error) {
	v, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %s)", name, v)
	}
	return v, nil
}
