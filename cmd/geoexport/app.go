package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	slogctx "github.com/veqryn/slog-context"
	"google.golang.org/api/option"

	"github.com/tendant/simple-geoexport/internal/bus"
	"github.com/tendant/simple-geoexport/internal/catalog"
	"github.com/tendant/simple-geoexport/internal/compute"
	"github.com/tendant/simple-geoexport/internal/config"
	"github.com/tendant/simple-geoexport/internal/img"
	"github.com/tendant/simple-geoexport/internal/objstore"
	"github.com/tendant/simple-geoexport/internal/pipeline"
	"github.com/tendant/simple-geoexport/internal/reconcile"
	"github.com/tendant/simple-geoexport/internal/tracker"
)

// app holds the collaborators of one command invocation.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	catalog *catalog.Store
	compute compute.Service
	store   objstore.Store
	nats    *bus.Client
	events  *bus.Publisher
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// setup loads the configuration and opens the collaborators a command needs.
// The returned app must be closed on every path.
func setup(ctx context.Context, envFile string, withCompute bool) (context.Context, *app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return ctx, nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{cfg: cfg, logger: newLogger(cfg.LogLevel)}
	slog.SetDefault(a.logger)
	ctx = slogctx.NewCtx(ctx, a.logger)

	if a.catalog, err = loadCatalog(ctx, cfg); err != nil {
		return ctx, a, fmt.Errorf("load catalog: %w", err)
	}
	a.logger.Info("loaded catalog", "indicators", a.catalog.Indicators())

	if a.store, err = objstore.Open(ctx, cfg.Storage()); err != nil {
		return ctx, a, fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}
	a.logger.Info("opened object store", "backend", cfg.StorageBackend)

	if withCompute {
		if a.compute, err = openCompute(ctx, cfg, a.store); err != nil {
			return ctx, a, err
		}
		a.logger.Info("compute service ready", "backend", cfg.ComputeBackend, "project", cfg.EEProject)
	}

	if cfg.NATSURL != "" {
		if a.nats, err = bus.Connect(cfg.NATSURL); err != nil {
			return ctx, a, fmt.Errorf("connect to NATS: %w", err)
		}
		a.events = bus.NewPublisher(a.nats, cfg.ResultSubject)
		a.logger.Info("connected to NATS", "nats_url", cfg.NATSURL, "subject", cfg.ResultSubject)
	}
	return ctx, a, nil
}

func loadCatalog(ctx context.Context, cfg config.Config) (*catalog.Store, error) {
	if cfg.CatalogDatabaseURL == "" {
		return catalog.LoadFile(cfg.CatalogPath)
	}
	pool, err := pgxpool.New(ctx, cfg.CatalogDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect catalog database: %w", err)
	}
	defer pool.Close()
	return catalog.LoadPostgres(ctx, pool)
}

func openCompute(ctx context.Context, cfg config.Config, store objstore.Store) (compute.Service, error) {
	if cfg.ComputeBackend == config.ComputeDry {
		mem, _ := store.(*objstore.Memory)
		return compute.NewDry(mem), nil
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	ee, err := compute.NewEarthEngine(ctx, cfg.EEProject, opts...)
	if err != nil {
		return nil, err
	}
	return ee, nil
}

// container resolves the store area exports land in.
func (a *app) container(ctx context.Context) (string, error) {
	if a.cfg.ExportFolderID != "" {
		return a.cfg.ExportFolderID, nil
	}
	if d, ok := a.store.(*objstore.Drive); ok {
		id, err := d.FindFolder(ctx, a.cfg.ExportFolder)
		if err != nil {
			return "", fmt.Errorf("resolve export folder: %w", err)
		}
		return id, nil
	}
	return a.cfg.ExportFolder, nil
}

func (a *app) runner(ctx context.Context) (*pipeline.Runner, error) {
	container, err := a.container(ctx)
	if err != nil {
		return nil, err
	}
	r := &pipeline.Runner{
		Catalog:      a.catalog,
		Compute:      a.compute,
		Store:        a.store,
		Tracker:      a.cfg.Tracker(),
		ProbeRetries: uint64(a.cfg.ProbeRetries),
		Reconcile: reconcile.Options{
			Container:   container,
			Concurrency: a.cfg.DownloadConcurrency,
		},
		OnProgress: func(p tracker.Progress) {
			a.logger.Info(p.String())
		},
	}
	if a.cfg.Quicklook {
		r.Reconcile.Previewer = img.Quicklook{Size: a.cfg.QuicklookSize}
	}
	if a.events != nil {
		r.Events = a.events
	}
	return r, nil
}

// indicators defaults to every configured indicator.
func (a *app) indicators(requested []string) []string {
	if len(requested) > 0 {
		out := make([]string, len(requested))
		for i, ind := range requested {
			out[i] = strings.TrimSpace(ind)
		}
		return out
	}
	return a.catalog.Indicators()
}

func (a *app) writeMetrics() {
	if a.cfg.MetricsTextfile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(a.cfg.MetricsTextfile, prometheus.DefaultGatherer); err != nil {
		a.logger.Warn("write metrics textfile failed", "path", a.cfg.MetricsTextfile, "err", err)
	}
}

func (a *app) Close() {
	if a == nil {
		return
	}
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.logger.Warn("close NATS connection", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close object store", "err", err)
		}
	}
}
