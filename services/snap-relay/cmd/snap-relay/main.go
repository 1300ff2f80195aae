package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/firesnaps/snaprelay/libs/config"
	"github.com/firesnaps/snaprelay/libs/db"
	"github.com/firesnaps/snaprelay/libs/httpx"
	"github.com/firesnaps/snaprelay/libs/kafkax"
	otelx "github.com/firesnaps/snaprelay/libs/otel"
	"github.com/firesnaps/snaprelay/libs/redisx"
	"github.com/firesnaps/snaprelay/libs/runtime"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/failures"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/objects"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/relay"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/sessions"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/tagging"
	"github.com/firesnaps/snaprelay/services/snap-relay/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	service := config.String("SERVICE_NAME", "snap-relay")
	logger := runtime.NewLogger(service)

	cfg, err := loadSettings()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		panic(err)
	}

	ctx, stop := runtime.SignalContext(logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	rdb, err := redisx.Connect(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer rdb.Close()

	mongoClient, err := tagging.Connect(ctx, cfg.MongoURI)
	if err != nil {
		logger.Error("mongo connection failed", "err", err)
		panic(err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(disconnectCtx)
	}()
	imageTags := mongoClient.Database(cfg.MongoDB).Collection(tagging.CollectionName)
	if err := tagging.EnsureIndexes(ctx, imageTags); err != nil {
		logger.Error("mongo index setup failed", "err", err)
		panic(err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		logger.Error("aws config failed", "err", err)
		panic(err)
	}
	objectStore := objects.New(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Region)

	sink := relay.Sinks{relay.LogSink{Logger: logger}}
	var (
		pool    *db.Pool
		journal *failures.Journal
	)
	if cfg.DB.URL != "" {
		pool, err = db.Open(ctx, cfg.DB)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		applied, err := db.Migrate(ctx, pool, migrations.Files)
		if err != nil {
			logger.Error("db migration failed", "err", err)
			panic(err)
		}
		if len(applied) > 0 {
			logger.Info("db migrations applied", "migrations", applied)
		}
		journal = failures.NewJournal(pool, logger)
		sink = append(sink, journal)
	}

	transport, err := relay.NewKafkaTransport(relay.TransportConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topics:  cfg.Topics,
	})
	if err != nil {
		logger.Error("kafka transport setup failed", "err", err)
		panic(err)
	}
	defer transport.Close()

	dispatcher := relay.NewDispatcher(objectStore, sessions.New(rdb), tagging.New(imageTags), logger)
	consumer := relay.NewConsumer(transport, dispatcher, sink, logger, cfg.Consumer)

	checks := []runtime.ReadyCheck{
		{Name: "kafka", Check: kafkax.ReadyCheck(cfg.Brokers)},
		{Name: "redis", Check: redisx.ReadyCheck(rdb)},
		{Name: "mongo", Check: tagging.ReadyCheck(mongoClient)},
		{Name: "s3", Check: objectStore.ReadyCheck()},
		{Name: "relay", Check: consumer.ReadyCheck(cfg.StallTimeout)},
	}
	if pool != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}
	mux := runtime.NewHealthMux(runtime.HealthConfig{
		Checks:       checks,
		CheckTimeout: cfg.ReadyCheckTimeout,
		Status:       func() any { return consumer.Status() },
	})
	if journal != nil {
		mux.Handle("/failures", failures.Handler(journal))
	}
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger, "/healthz", "/readyz"),
		httpx.WithRecover(logger),
		httpx.WithMethods(http.MethodGet, http.MethodHead),
		httpx.WithTimeout(10*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "snap-relay")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		consumer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.JoinTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		return nil
	})

	<-gctx.Done()
	logger.Info("shutting down", "join_timeout", cfg.JoinTimeout)
	join(logger, g.Wait, cfg.JoinTimeout)
}

// join waits for wait to return, at most timeout. A worker still running after that is
// abandoned; its uncommitted batch is redelivered on the next start.
func join(logger *slog.Logger, wait func() error, timeout time.Duration) bool {
	done := make(chan error, 1)
	go func() { done <- wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			logger.Error("snap-relay stopped with error", "err", err)
		} else {
			logger.Info("snap-relay stopped")
		}
		return true
	case <-timer.C:
		logger.Error("relay worker did not stop in time, abandoning it", "timeout", timeout)
		return false
	}
}
