// Package app initializes and holds the long-lived services of a crawl run,
// acting as the dependency injection container between configuration and the
// orchestrator.
package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-watch/internal/api"
	"github.com/JakeFAU/storefront-watch/internal/browser"
	chromedpbrowser "github.com/JakeFAU/storefront-watch/internal/browser/chromedp"
	rodbrowser "github.com/JakeFAU/storefront-watch/internal/browser/rod"
	"github.com/JakeFAU/storefront-watch/internal/browser/static"
	"github.com/JakeFAU/storefront-watch/internal/clock"
	"github.com/JakeFAU/storefront-watch/internal/config"
	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/dataset"
	"github.com/JakeFAU/storefront-watch/internal/extract"
	"github.com/JakeFAU/storefront-watch/internal/frontier"
	"github.com/JakeFAU/storefront-watch/internal/id/uuid"
	"github.com/JakeFAU/storefront-watch/internal/notify"
	"github.com/JakeFAU/storefront-watch/internal/orchestrator"
	queuemem "github.com/JakeFAU/storefront-watch/internal/queue/memory"
	"github.com/JakeFAU/storefront-watch/internal/snapshot"
	snapmem "github.com/JakeFAU/storefront-watch/internal/snapshot/memory"
	"github.com/JakeFAU/storefront-watch/internal/snapshot/postgres"
	"github.com/JakeFAU/storefront-watch/internal/snapshot/redisstore"
	"github.com/JakeFAU/storefront-watch/internal/storage"
	"github.com/JakeFAU/storefront-watch/internal/storage/gcs"
	"github.com/JakeFAU/storefront-watch/internal/storage/local"
	blobmem "github.com/JakeFAU/storefront-watch/internal/storage/memory"
	"github.com/JakeFAU/storefront-watch/internal/telemetry"
)

// App holds every service a crawl run needs. Fields are exported so tests and
// the CLI can swap a collaborator before Run.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Browser   crawler.Browser
	Snapshots crawler.SnapshotStore
	Blobs     crawler.BlobStore
	Sinks     []notify.Sink
	Output    crawler.Output
	Clock     crawler.Clock
	IDs       crawler.IDGenerator

	checks  map[string]api.ReadyCheck
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New builds every service from cfg. It fails fast: when one service cannot
// be initialized, everything built so far is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{
		Config: cfg,
		Logger: logger,
		Clock:  clock.System{},
		IDs:    uuid.NewGenerator(),
		checks: map[string]api.ReadyCheck{},
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	logger.Info("initializing application services",
		zap.String("driver", cfg.Browser.Driver),
		zap.String("snapshot_backend", cfg.Snapshot.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ProjectID:   cfg.Telemetry.ProjectID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return a, fmt.Errorf("init tracing: %w", err)
	}
	a.onClose("tracing", func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(flushCtx)
	})

	if a.Output, err = a.openOutput(); err != nil {
		return a, err
	}
	if a.Snapshots, err = a.openSnapshots(ctx); err != nil {
		return a, err
	}
	if a.Blobs, err = a.openBlobs(ctx); err != nil {
		return a, err
	}
	if a.Sinks, err = a.openSinks(ctx); err != nil {
		return a, err
	}
	if a.Browser, err = a.openBrowser(); err != nil {
		return a, err
	}
	logger.Info("application services initialized", zap.Int("sinks", len(a.Sinks)))
	return a, nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) openOutput() (crawler.Output, error) {
	out, err := dataset.Open(a.Config.Output.Path)
	if err != nil {
		return nil, err
	}
	a.onClose("output", out.Close)
	return out, nil
}

func (a *App) openSnapshots(ctx context.Context) (crawler.SnapshotStore, error) {
	cfg := a.Config
	switch cfg.Snapshot.Backend {
	case "redis":
		a.Logger.Info("using redis snapshot store", zap.String("addr", cfg.Redis.Addr))
		store, err := redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Snapshot.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("init snapshot store: %w", err)
		}
		a.onClose("redis snapshot store", store.Close)
		a.checks["snapshots"] = func(ctx context.Context) error {
			_, _, err := store.Get(ctx, cfg.Snapshot.Prefix+"readiness")
			return err
		}
		return store, nil
	case "postgres":
		a.Logger.Info("using postgres snapshot store", zap.String("table", cfg.DB.Table))
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxOpenConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init snapshot store: %w", err)
		}
		a.onClose("postgres snapshot store", func() error { store.Close(); return nil })
		a.checks["snapshots"] = func(ctx context.Context) error {
			_, _, err := store.Get(ctx, cfg.Snapshot.Prefix+"readiness")
			return err
		}
		return store, nil
	case "memory", "":
		a.Logger.Info("using in-memory snapshot store; changes are only detected within this run")
		return snapmem.New(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s", cfg.Snapshot.Backend)
	}
}

func (a *App) openBlobs(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.Config.Storage
	var store crawler.BlobStore
	switch cfg.Backend {
	case "gcs":
		a.Logger.Info("using gcs blob store", zap.String("bucket", cfg.GCSBucket))
		gcsStore, closeFn, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init blob store: %w", err)
		}
		a.onClose("gcs client", closeFn)
		store = gcsStore
	case "local":
		localStore, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init blob store: %w", err)
		}
		store = localStore
	case "memory", "":
		store = blobmem.NewBlobStore()
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
	if cfg.Prefix != "" {
		store = storage.WithPrefix(store, cfg.Prefix)
	}
	return store, nil
}

func (a *App) openSinks(ctx context.Context) ([]notify.Sink, error) {
	cfg := a.Config
	var sinks []notify.Sink
	if cfg.Notify.WebhookURL != "" || cfg.Notify.ChatWebhookURL != "" {
		poster := notify.NewHTTPPoster(cfg.Notify.Timeout, cfg.Crawler.UserAgent)
		if cfg.Notify.WebhookURL != "" {
			sinks = append(sinks, notify.NewWebhook(cfg.Notify.WebhookURL, poster))
		}
		if cfg.Notify.ChatWebhookURL != "" {
			sinks = append(sinks, notify.NewChat(cfg.Notify.ChatWebhookURL, poster))
		}
	}
	if cfg.Notify.PubSubProject != "" && cfg.Notify.PubSubTopic != "" {
		client, err := pubsub.NewClient(ctx, cfg.Notify.PubSubProject)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Notify.PubSubTopic)
		a.onClose("pubsub client", func() error {
			topic.Stop()
			return client.Close()
		})
		sinks = append(sinks, notify.NewPubSub(topic))
	}
	if cfg.Notify.RedisStream != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.onClose("redis stream client", client.Close)
		a.checks["redis_stream"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		sinks = append(sinks, notify.NewRedisStream(client, cfg.Notify.RedisStream, cfg.Notify.RedisStreamLen))
	}
	return sinks, nil
}

func (a *App) openBrowser() (crawler.Browser, error) {
	cfg := a.Config
	bcfg := browser.Config{
		MaxParallel:       cfg.Browser.MaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: cfg.Browser.NavTimeout,
		DomainQPS:         cfg.Crawler.DomainQPS,
		BrowserBin:        cfg.Browser.Bin,
	}
	var (
		b   crawler.Browser
		err error
	)
	switch cfg.Browser.Driver {
	case "chromedp", "":
		b, err = chromedpbrowser.New(bcfg, a.Logger)
	case "rod":
		b, err = rodbrowser.New(bcfg, a.Logger)
	case "static":
		b = static.New(bcfg, a.Logger)
	default:
		return nil, fmt.Errorf("unknown browser driver: %s", cfg.Browser.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	a.onClose("browser", b.Close)
	policy := browser.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Browser.MaxAttempts
	return browser.WithRetry(b, policy, a.Logger), nil
}

// Seeds converts the input section of the config into orchestrator seeds.
func (a *App) Seeds() orchestrator.Seeds {
	in := a.Config.Input
	return orchestrator.Seeds{
		ProductURLs:   in.ProductURLs,
		SellerHandles: in.SellerHandles,
		Keywords:      in.Keywords,
		CategoryURLs:  in.CategoryURLs,
		BaseURL:       in.BaseURL,
	}
}

// Run seeds the frontier and crawls until the queue drains, a budget is
// reached, or ctx is canceled. When metrics.port is set the ops server runs
// alongside the crawl.
func (a *App) Run(ctx context.Context) (frontier.Stats, error) {
	cfg := a.Config
	runID := uuid.NewGenerator().NewRunID()
	logger := a.Logger.With(zap.String("run_id", runID))

	q := queuemem.NewQueue()
	defer q.Close()
	f := frontier.New(q, frontier.Options{
		MaxLinksPerPage: cfg.Crawler.MaxLinksPerPage,
		MaxItems:        cfg.Crawler.MaxItems,
		MaxRequests:     cfg.Crawler.MaxRequests,
	}, logger)

	engine, err := snapshot.New(a.Snapshots, cfg.Snapshot.Prefix, logger)
	if err != nil {
		return frontier.Stats{}, err
	}
	pipeline := extract.New(extract.Options{
		MaxCreators:     cfg.Crawler.MaxCreators,
		IncludeCreators: cfg.Crawler.IncludeCreatorVideos,
	}, a.Clock, logger)

	var dispatcher *notify.Dispatcher
	if len(a.Sinks) > 0 {
		dispatcher = notify.NewDispatcher(a.Sinks, a.IDs, a.Clock, logger, notify.WithTimeout(cfg.Notify.Timeout))
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Concurrency:        cfg.Crawler.Concurrency,
		RequestTimeout:     cfg.Crawler.RequestTimeout,
		ScrollSteps:        cfg.Crawler.ScrollSteps,
		ScrollPause:        cfg.Crawler.ScrollPause,
		CaptureScreenshots: cfg.Crawler.CaptureScreenshots,
		AcceptLanguage:     orchestrator.AcceptLanguage(cfg.Input.AcceptLanguage, cfg.Input.Region),
	}, orchestrator.Deps{
		Browser:    a.Browser,
		Queue:      q,
		Frontier:   f,
		Pipeline:   pipeline,
		Snapshots:  engine,
		Dispatcher: dispatcher,
		Blobs:      a.Blobs,
		Output:     a.Output,
		Clock:      a.Clock,
		Logger:     logger,
	})
	if err != nil {
		return frontier.Stats{}, err
	}

	if cfg.Metrics.Port > 0 {
		opsCtx, stopOps := context.WithCancel(ctx)
		defer stopOps()
		server := api.NewServer(f, a.checks, logger)
		addr := ":" + strconv.Itoa(cfg.Metrics.Port)
		go func() {
			if err := server.ListenAndServe(opsCtx, addr); err != nil {
				logger.Error("ops server failed", zap.Error(err))
			}
		}()
	}

	seeded, err := orchestrator.SeedFrontier(ctx, f, a.Seeds())
	if err != nil {
		return f.Stats(), fmt.Errorf("seed frontier: %w", err)
	}
	logger.Info("crawl starting", zap.Int("seeds", seeded), zap.Int("concurrency", cfg.Crawler.Concurrency))
	return orch.Run(ctx)
}

// Close shuts services down in reverse order of creation. Errors are logged;
// a failing closer does not stop the others.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
