package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"gowa-gateway/config"
	"gowa-gateway/database"
	"gowa-gateway/internal/handler"
	"gowa-gateway/internal/helper"
	customMiddleware "gowa-gateway/internal/middleware"
	"gowa-gateway/internal/model"
	"gowa-gateway/internal/protocol"
	"gowa-gateway/internal/service"
	"gowa-gateway/internal/whatsapp"
	"gowa-gateway/internal/worker"
	"gowa-gateway/internal/ws"
)

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

func main() {
	createSchema := pflag.Bool("createschema", false, "create the instances status table and exit")
	addr := pflag.String("addr", "", "listen address, overrides PORT")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		l := newLogger("info", "console")
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	log := newLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// optional status mirror
	var appDB *sql.DB
	var recorder service.StatusRecorder
	if cfg.AppDatabaseURL != "" {
		db, driver, err := database.Open(ctx, cfg.AppDatabaseURL, time.Minute, log)
		if err != nil {
			log.Fatal().Err(err).Msg("app database unavailable")
		}
		appDB = db
		defer appDB.Close()

		if *createSchema {
			if err := helper.InitSchema(ctx, appDB, driver); err != nil {
				log.Fatal().Err(err).Msg("create schema failed")
			}
			log.Info().Str("driver", driver).Msg("schema ready")
			return
		}
		recorder = service.NewStoreRecorder(model.NewInstanceStore(appDB, driver))
	} else if *createSchema {
		log.Fatal().Msg("--createschema needs APP_DATABASE_URL")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(reg)

	var publishers []ws.RealtimePublisher
	var hub *ws.Hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	if cfg.EnableWebsocket {
		hub = ws.NewHub(log)
		go hub.Run(hubCtx)
		publishers = append(publishers, hub)
	}
	if cfg.WebhookURL != "" {
		webhook := service.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookEvents, log)
		go webhook.Run(hubCtx)
		publishers = append(publishers, webhook)
	}

	tenantPattern, err := regexp.Compile(cfg.TenantPattern)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid TENANT_PATTERN")
	}

	opts := service.Options{
		SessionsDir: cfg.SessionsDir,
		Connect: protocol.Options{
			ConnectTimeout:   cfg.ConnectTimeout,
			QueryTimeout:     cfg.QueryTimeout,
			MsgRetryDelay:    cfg.MsgRetryDelay,
			MaxMsgRetries:    cfg.MaxMsgRetries,
			SyncFullHistory:  cfg.SyncFullHistory,
			CommitRetries:    cfg.CommitRetries,
			CommitRetryDelay: cfg.CommitRetryDelay,
			DeviceName:       cfg.DeviceName,
		},
		Policy: service.Policy{
			MaxAttempts:             cfg.MaxReconnectAttempts,
			UnclassifiedDelay:       cfg.UnclassifiedRetryDelay,
			UnclassifiedMaxAttempts: cfg.UnclassifiedMaxAttempts,
		},
		KeepAliveInterval: cfg.KeepAliveInterval,
		IdleThreshold:     cfg.IdleThreshold,
		TenantPattern:     tenantPattern,
	}
	if err := os.MkdirAll(opts.SessionsDir, 0o700); err != nil {
		log.Fatal().Err(err).Str("dir", opts.SessionsDir).Msg("cannot create sessions dir")
	}

	manager := service.NewManager(service.Config{
		Dialer:     whatsapp.NewDialer(log),
		AuthStore:  whatsapp.NewAuthStore(log),
		Options:    opts,
		Logger:     log,
		Publishers: publishers,
		Recorder:   recorder,
		Metrics:    metrics,
	})
	reg.MustRegister(manager.Collector())

	maintenance, err := worker.NewMaintenanceWorker(manager, worker.Options{
		ReaperSchedule:      cfg.ReaperSchedule,
		ConsolidateSchedule: cfg.ConsolidateSchedule,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid maintenance schedule")
	}
	maintenance.Start()

	// Setup Echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler(log)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Error != nil {
				evt = log.Warn().Err(v.Error)
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.PUT,
			echo.PATCH,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
			customMiddleware.APIKeyHeader,
		},
	}))
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimitPerSec),
				Burst:     cfg.RateLimitBurst,
				ExpiresIn: time.Duration(cfg.RateLimitWindow) * time.Minute,
			},
		),
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	handler.New(manager, hub, handler.Options{
		QRWait:        cfg.QRWait,
		WebhookURL:    cfg.WebhookURL,
		WebhookEvents: cfg.WebhookEvents,
	}, log).Register(e, customMiddleware.APIKeyAuthMiddleware(cfg.APIKey))

	listen := *addr
	if listen == "" {
		listen = ":" + cfg.Port
	}

	go func() {
		log.Info().Str("addr", listen).Str("sessions_dir", opts.SessionsDir).Msg("server starting")
		if err := e.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	if cfg.RestoreOnStart {
		go func() {
			if _, err := manager.Restore(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to restore sessions")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	maintenance.Stop()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("sessions did not close in time")
	}
	stopHub()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}
	log.Info().Msg("bye")
}
