package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"websocket-kanban/api"
	"websocket-kanban/config"
	"websocket-kanban/realtime"
	"websocket-kanban/storage"
	"websocket-kanban/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	tp := newTracerProvider(cfg.TraceSampleRatio)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	tasks := storage.NewTaskStore()
	if cfg.SeedTasks {
		tasks.Seed(storage.DemoTasks(time.Now().UTC()))
		logger.WithField("tasks", tasks.Len()).Info("seeded demo tasks")
	}
	users := storage.NewUserStore()

	var (
		activity api.ActivityRecorder = users
		deduper  realtime.Deduper
		mirror   realtime.Mirror
	)
	if cfg.Redis.URL != "" {
		opts, err := cfg.Redis.Options()
		if err != nil {
			return err
		}
		rc := redis.NewClient(opts)
		defer rc.Close()

		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = rc.Ping(pctx).Err()
		cancel()
		if err != nil {
			logger.WithError(err).Warn("redis not reachable yet, continuing")
		}

		activity = storage.NewRedisActivity(rc, cfg.Redis.ActivityTTL)
		deduper = realtime.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
		m := subscription.NewMirror(rc, cfg.Redis.EventsChannel, 0, logger)
		go m.Run(ctx)
		mirror = m
		logger.WithField("channel", cfg.Redis.EventsChannel).Info("redis enabled")
	}

	authCfg := api.AuthConfig{
		Secret:       []byte(cfg.Auth.Secret),
		TokenTTL:     cfg.Auth.TokenTTL,
		Issuer:       cfg.Auth.Issuer,
		Audience:     cfg.Auth.Audience,
		JWKSCacheTTL: cfg.Auth.JWKSCacheTTL,
	}
	if cfg.Auth.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.Auth.JWKSURL, keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			return err
		}
		defer jwks.EndBackground()
		authCfg.JWKS = jwks
	}
	auth := api.NewAuth(authCfg)
	accounts := api.NewAccounts(users, auth, cfg.Auth.AdminEmails)

	uploader, err := api.NewUploader(cfg.Upload.Dir, cfg.Upload.MaxBytes, logger)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(realtime.Config{
		Store:          tasks,
		Deduper:        deduper,
		Mirror:         mirror,
		Logger:         logger,
		QueueSize:      cfg.Sync.QueueSize,
		HandoffTimeout: cfg.Sync.HandoffTimeout,
		ClientBuffer:   cfg.Sync.ClientBuffer,
		WriteTimeout:   cfg.Sync.WriteTimeout,
		PingInterval:   cfg.Sync.PingInterval,
		OriginPatterns: cfg.WebSocketOrigins(),
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.Decompress())
	e.Use(requestLogger(logger))
	if cfg.Debug {
		pprof.Register(e)
	}

	api.Register(e, api.Services{
		Tasks:    tasks,
		Users:    users,
		Accounts: accounts,
		Auth:     auth,
		Activity: activity,
		Uploader: uploader,
		Conns:    hub,
	}, logger)
	realtime.Register(e, hub, auth)

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr()).Info("listening")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stopHub()
		<-hubDone
		return err
	}

	logger.Info("shutting down")
	// close sockets first; hijacked connections are not tracked by Shutdown
	stopHub()
	<-hubDone

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
