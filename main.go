package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/anonymizer"
	"github.com/00vip7-stack/hedge-dashboard/src/archive"
	"github.com/00vip7-stack/hedge-dashboard/src/config"
	"github.com/00vip7-stack/hedge-dashboard/src/dictionary"
	"github.com/00vip7-stack/hedge-dashboard/src/handlers"
	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/metrics"
	"github.com/00vip7-stack/hedge-dashboard/src/processors"
	"github.com/00vip7-stack/hedge-dashboard/src/resolver"
	"github.com/00vip7-stack/hedge-dashboard/src/security"
	"github.com/00vip7-stack/hedge-dashboard/src/services"
	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const recoveryTimeout = 2 * time.Minute

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Hedge dashboard server starting...")

	if len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}
	if config.Cfg.AdminPasswordHash == "" {
		logger.L.Warn("ADMIN_PASSWORD_HASH is not set; token issuance is disabled.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.L.Error("Server exited with error", "error", err)
		stdlog.Fatalf("server: %v", err)
	}
	logger.L.Info("Server stopped gracefully.")
}

func run(ctx context.Context) error {
	cfg := config.Cfg

	logger.L.Info("Loading field dictionary...", "path", cfg.DictionaryPath)
	dict, err := loadDictionary(cfg.DictionaryPath)
	if err != nil {
		return err
	}

	m := metrics.New()
	arch := openArchive(cfg, m.RecordEvictions)
	defer func() {
		if err := arch.Close(); err != nil {
			logger.L.Error("Failed to close archive", "error", err)
		}
	}()
	m.SetDegraded(arch.Mode().Degraded)

	notifier := services.NewNotifier(services.NotifierConfig{
		Provider:      cfg.AlertProvider,
		MailgunDomain: cfg.MailgunDomain,
		MailgunAPIKey: cfg.MailgunPrivateAPIKey,
		SenderEmail:   cfg.SenderEmail,
		SenderName:    cfg.SenderName,
		Recipient:     cfg.AlertRecipient,
	})

	anon := anonymizer.New(anonymizer.DefaultTemplate())
	var transmitter services.Transmitter
	if cfg.TransmitEndpoint != "" {
		client := services.NewOAuthClient(ctx, cfg.TransmitOAuthClientID, cfg.TransmitOAuthClientSecret, cfg.TransmitOAuthTokenURL)
		transmitter = services.NewHTTPTransmitter(cfg.TransmitEndpoint, client, anon, cfg.TransmitTimeout)
		logger.L.Info("Transmission enabled", "endpoint", cfg.TransmitEndpoint, "oauth", cfg.TransmitOAuthClientID != "")
	} else {
		logger.L.Info("No TRANSMIT_ENDPOINT configured; hedge results are estimated locally.")
	}

	thresholds := resolver.DefaultThresholds()
	thresholds.Accept = cfg.ResolverAcceptThreshold
	thresholds.ExactCutoff = cfg.ResolverExactCutoff
	thresholds.FuzzyCutoff = cfg.ResolverFuzzyCutoff

	pipeline := services.NewPipeline(services.PipelineDeps{
		Dictionary:  dict,
		Resolver:    resolver.New(dict, resolver.WithThresholds(thresholds), resolver.WithCacheTTL(cfg.ResolverCacheTTL)),
		Extractor:   processors.NewPositionExtractor(),
		Anonymizer:  anon,
		Estimator:   processors.NewHedgeCalculator(nil),
		Transmitter: transmitter,
		Archive:     arch,
		Observers: []services.Observer{
			services.NewLogObserver(),
			services.NewMetricsObserver(m),
			services.NewAlertObserver(notifier),
		},
		Cache: cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval),
	}, services.PipelineConfig{
		TargetHedgeRatio: cfg.TargetHedgeRatio,
		AutoApprove:      cfg.AutoApprove,
	})

	authService := security.NewAuthService(cfg.JWTSecret, cfg.AccessTokenExpiry, cfg.AdminUsername, cfg.AdminPasswordHash)

	logger.L.Info("Configuring routes...")
	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:           authService,
		Uploads:        pipeline,
		Archive:        arch,
		Metrics:        m.Handler(),
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadSizeBytes,
		Limiter:        rate.NewLimiter(rate.Every(100*time.Millisecond), 30),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := cron.New()
	if _, err := arch.ScheduleRecovery(scheduler, cfg.RecoverySchedule, recoveryTimeout); err != nil {
		return err
	}
	if _, err := scheduler.AddFunc(cfg.RecoverySchedule, func() { m.SetDegraded(arch.Mode().Degraded) }); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.L.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func loadDictionary(path string) (*dictionary.Dictionary, error) {
	if path == "" {
		return dictionary.Default()
	}
	return dictionary.Load(path)
}

// openArchive never fails: without a primary the archive starts degraded
// and serves from its fallback tiers.
func openArchive(cfg *config.AppConfig, onEvict archive.EvictionHook) *archive.Archive {
	var opts []archive.Option
	if cfg.RedisURL != "" {
		rs, err := archive.NewRedisStore(cfg.RedisURL, cfg.FallbackRetain)
		if err != nil {
			logger.L.Error("Redis fallback unavailable, using file ring", "error", err)
		} else {
			rs.OnEvict(onEvict)
			opts = append(opts, archive.WithFallback(rs))
		}
	}
	if len(opts) == 0 {
		ring, err := archive.NewRingFileStore(cfg.FallbackDir, cfg.FallbackRetain)
		if err != nil {
			logger.L.Error("File fallback unavailable", "dir", cfg.FallbackDir, "error", err)
		} else {
			ring.OnEvict(onEvict)
			opts = append(opts, archive.WithFallback(ring))
		}
	}

	logger.L.Info("Initializing archive database...", "path", cfg.DatabasePath)
	primary, err := archive.OpenSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.L.Error("Archive database unavailable; starting degraded", "error", err)
		return archive.New(nil, opts...)
	}
	logger.L.Info("Archive database initialized successfully.")
	return archive.New(primary, opts...)
}
