package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-softphone/internal/backend"
	"agent-softphone/internal/calls"
	"agent-softphone/internal/config"
	"agent-softphone/internal/credential"
	"agent-softphone/internal/httpapi"
	"agent-softphone/internal/notice"
	"agent-softphone/internal/presence"
	"agent-softphone/internal/reporting"
	"agent-softphone/internal/session"
	"agent-softphone/internal/signaling"
	"agent-softphone/internal/telephony"
	"agent-softphone/pkg/logger"
	"agent-softphone/pkg/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.ForAgent(logger.New(cfg.App.Env, cfg.App.LogLevel), cfg.Agent.ID, cfg.Agent.Identity)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := openStores(rootCtx, cfg)
	if err != nil {
		log.Error("store init failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	api := backend.New(backend.Config{
		BaseURL: cfg.Backend.URL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.RequestTimeout,
		Logger:  log,
	})
	creds := credential.NewManager(api, st.tokens, log)

	policy := signaling.ReconnectPolicy{
		Base:        cfg.Signaling.BackoffBase,
		Max:         cfg.Signaling.BackoffMax,
		MaxAttempts: cfg.Signaling.MaxReconnectAttempts,
	}
	channel := signaling.NewChannel(signaling.Config{
		URL: cfg.Signaling.URL,
		Dialer: signaling.WebsocketDialer{
			Header:           signaling.BearerHeader(cfg.Backend.APIKey),
			HandshakeTimeout: 10 * time.Second,
		},
		Policy: policy,
		Logger: log,
	})

	device := telephony.NewBridgeDevice(telephony.BridgeConfig{
		URL:            cfg.Softphone.URL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		Logger:         log,
	})
	endpoint := telephony.NewAdapter(device, log)

	notices := notice.NewService(notice.NewMemoryRepo(0))
	onReject := session.SilentReject(log)
	if cfg.Session.RejectPolicy == "notice" {
		onReject = session.NoticeReject(notices, log)
	}

	coord := session.NewCoordinator(session.Config{
		AgentID:           cfg.Agent.ID,
		Identity:          cfg.Agent.Identity,
		Endpoint:          endpoint,
		Channel:           channel,
		Credentials:       creds,
		Presence:          presence.NewReporter(api, log),
		Dialer:            api,
		Ringer:            device,
		CallLog:           st.calls,
		Notices:           notices,
		OnReject:          onReject,
		OfferTTL:          cfg.Session.OfferTTL,
		RegistrationRetry: policy,
		OpTimeout:         cfg.Backend.RequestTimeout,
		Logger:            log,
	})

	// The session outlives rootCtx; it is stopped explicitly below so the
	// final offline report is sent.
	go func() {
		if err := coord.Run(context.WithoutCancel(rootCtx)); err != nil {
			log.Error("session failed", "err", err)
			stop()
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Session:       coord,
		Notices:       notices,
		History:       st.calls,
		Summaries:     reporting.NewService(st.calls),
		AgentIdentity: cfg.Agent.Identity,
	}, httpapi.RequireControlToken(cfg.App.ControlToken))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("control api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.Error("session shutdown failed", "err", err)
	}
}

// stores holds the durable client state picked by STORE_DRIVER.
type stores struct {
	tokens credential.Store
	calls  calls.Repository
	close  []func() error
}

func (s stores) Close() {
	for _, fn := range s.close {
		_ = fn()
	}
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.Store.Driver {
	case "memory":
		return stores{tokens: credential.NewMemoryStore(), calls: calls.NewMemoryRepo()}, nil

	case "sqlite":
		db, err := openMigrated(ctx, utils.DriverSQLite, cfg.Store.SQLitePath)
		if err != nil {
			return stores{}, err
		}
		return stores{
			tokens: credential.NewSQLStore(db, utils.DriverSQLite),
			calls:  calls.NewSQLRepo(db, utils.DriverSQLite),
			close:  []func() error{db.Close},
		}, nil

	case "postgres":
		db, err := openMigrated(ctx, utils.DriverPostgres, cfg.PostgresDSN())
		if err != nil {
			return stores{}, err
		}
		return stores{
			tokens: credential.NewSQLStore(db, utils.DriverPostgres),
			calls:  calls.NewSQLRepo(db, utils.DriverPostgres),
			close:  []func() error{db.Close},
		}, nil

	case "redis":
		// Redis only holds tokens; call history stays on the local sqlite file.
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Backend.RequestTimeout,
		})
		if err != nil {
			return stores{}, err
		}
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "agent-softphone.db"
		}
		db, err := openMigrated(ctx, utils.DriverSQLite, path)
		if err != nil {
			_ = rdb.Close()
			return stores{}, err
		}
		return stores{
			tokens: credential.NewRedisStore(rdb),
			calls:  calls.NewSQLRepo(db, utils.DriverSQLite),
			close:  []func() error{db.Close, rdb.Close},
		}, nil

	default:
		return stores{}, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func openMigrated(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := utils.OpenSQL(ctx, driver, dsn, utils.SQLPoolConfig{})
	if err != nil {
		return nil, err
	}
	if err := utils.RunMigrations(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
