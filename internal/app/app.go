package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	"DropTracker/internal/asset"
	"DropTracker/internal/collection"
	"DropTracker/internal/config"
	"DropTracker/internal/domain"
	"DropTracker/internal/infrastructure/b2"
	"DropTracker/internal/infrastructure/httpapi"
	"DropTracker/internal/infrastructure/queue"
	"DropTracker/internal/infrastructure/s3"
	"DropTracker/internal/infrastructure/scheduler"
	"DropTracker/internal/infrastructure/storage"
	"DropTracker/internal/metrics"
	"DropTracker/internal/ports"
	"DropTracker/internal/usecase"
)

// Application wires configuration to adapters, the record service and the
// HTTP server.
type Application struct {
	cfg     config.Config
	logger  *zap.Logger
	server  *httpapi.Server
	closers []func(context.Context) error
}

// New connects every configured adapter. Call Close when done, also after a
// failed Run.
func New(ctx context.Context, cfg config.Config, baseLogger *zap.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	registry, err := collection.NewRegistry(collectionEntries(cfg.Collections))
	if err != nil {
		return nil, fmt.Errorf("build collection registry: %w", err)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.closeQuietly()
		return nil, err
	}

	q, err := a.openQueue(ctx)
	if err != nil {
		a.closeQuietly()
		return nil, err
	}

	m := metrics.New()
	deps := usecase.Deps{
		Registry: registry,
		Store:    store,
		Queue:    q,
		Logger:   baseLogger.With(zap.String("component", "records")),
		Metrics:  m,
	}
	if auth := a.assetAuthorizer(m); auth != nil {
		deps.Assets = auth
		a.startLeaseWarmer(ctx, auth)
	}
	svc := usecase.NewService(deps)

	a.server = httpapi.NewServer(httpapi.Config{
		Address:         cfg.HTTP.Address,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		JWTSecret:       cfg.HTTP.JWTSecret,
		Debug:           cfg.HTTP.Debug,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, svc, m, baseLogger.With(zap.String("component", "http")))

	return a, nil
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutdown requested")
	if err := a.server.Shutdown(context.Background()); err != nil {
		return err
	}
	return <-errCh
}

// Close stops background jobs and releases storage and queue connections.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *Application) closeQuietly() {
	_ = a.Close(context.Background())
}

func (a *Application) openStore(ctx context.Context) (ports.RecordStore, error) {
	st := a.cfg.Storage
	log := a.logger.With(zap.String("component", "storage"), zap.String("engine", st.Engine))

	switch st.Engine {
	case config.EnginePostgres:
		db, err := storage.OpenPostgres(ctx, st.Postgres.DSN, storage.PoolConfig{
			MaxOpenConns:    st.Postgres.MaxOpenConns,
			MaxIdleConns:    st.Postgres.MaxIdleConns,
			ConnMaxLifetime: st.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, domain.Unavailable("open postgres", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		log.Info("record store ready")
		return storage.NewPostgresRepository(db), nil

	case config.EngineMongo:
		client, err := storage.OpenMongo(ctx, st.Mongo.URI)
		if err != nil {
			return nil, domain.Unavailable("open mongo", err)
		}
		a.closers = append(a.closers, func(ctx context.Context) error { return disconnectMongo(ctx, client) })
		log.Info("record store ready", zap.String("database", st.Mongo.Database))
		return storage.NewMongoRepository(client.Database(st.Mongo.Database)), nil

	default:
		log.Warn("using in-memory record store; data is lost on restart")
		return storage.NewMemoryRepository(), nil
	}
}

func disconnectMongo(ctx context.Context, client *mongo.Client) error {
	return client.Disconnect(ctx)
}

func (a *Application) openQueue(ctx context.Context) (ports.ExtractionQueue, error) {
	qc := a.cfg.Queue
	if qc.Engine != config.EngineRedis {
		return queue.NewMemoryQueue(), nil
	}

	rcfg := queue.Config{
		Address:  qc.Address,
		Password: qc.Password,
		DB:       qc.DB,
		Stream:   qc.Stream,
		MaxLen:   qc.MaxLen,
	}
	client, err := queue.NewClient(ctx, rcfg)
	if err != nil {
		return nil, domain.Unavailable("connect extraction queue", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return closeRedis(client) })
	return queue.NewRedisQueue(client, rcfg, a.logger.With(zap.String("component", "queue"))), nil
}

func closeRedis(client *redis.Client) error {
	return client.Close()
}

// startLeaseWarmer renews the asset lease in the background well before it
// enters the renewal margin.
func (a *Application) startLeaseWarmer(ctx context.Context, auth *asset.Authorizer) {
	log := a.logger.With(zap.String("component", "lease-warmer"))
	ticker := scheduler.NewTicker(auth.RenewalMargin() / 2)

	ticker.Start(context.WithoutCancel(ctx), func(ctx context.Context, _ time.Time) {
		if err := auth.Warm(ctx); err != nil {
			log.Warn("asset lease refresh failed", zap.Error(err))
		}
	})
	a.closers = append(a.closers, ticker.Stop)
}

func (a *Application) assetAuthorizer(m *metrics.Metrics) *asset.Authorizer {
	ac := a.cfg.Assets

	var upstream ports.AssetUpstream
	switch ac.Provider {
	case config.ProviderB2:
		upstream = b2.NewClient(b2.Config{
			KeyID:        ac.B2.KeyID,
			AppKey:       ac.B2.AppKey,
			BucketID:     ac.B2.BucketID,
			BucketName:   ac.B2.BucketName,
			DownloadHost: ac.B2.DownloadHost,
			AuthURL:      ac.B2.AuthURL,
		})
	case config.ProviderS3:
		upstream = s3.NewPresigner(s3.Config{
			Region:          ac.S3.Region,
			Bucket:          ac.S3.Bucket,
			Endpoint:        ac.S3.Endpoint,
			AccessKeyID:     ac.S3.AccessKeyID,
			SecretAccessKey: ac.S3.SecretAccessKey,
			UsePathStyle:    ac.S3.UsePathStyle,
		})
	default:
		return nil
	}

	return asset.NewAuthorizer(upstream, asset.Options{
		RenewalMargin: ac.RenewalMargin,
		DefaultTTL:    ac.DefaultTTL,
		MaxTTL:        ac.MaxTTL,
		Logger:        a.logger.With(zap.String("component", "assets"), zap.String("provider", ac.Provider)),
		Metrics:       m,
	})
}

func collectionEntries(cols []config.CollectionConfig) []collection.Entry {
	entries := make([]collection.Entry, 0, len(cols))
	for _, c := range cols {
		entries = append(entries, collection.Entry{
			Name:            c.Name,
			Table:           c.Table,
			Workflow:        domain.WorkflowKind(c.Workflow),
			UniqueSourceURL: c.UniqueSourceURL,
		})
	}
	return entries
}
