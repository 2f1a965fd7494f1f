package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tangled.org/arabica.social/arbiter/internal/database/boltstore"
	"tangled.org/arabica.social/arbiter/internal/database/sqlitestore"
	"tangled.org/arabica.social/arbiter/internal/email"
	"tangled.org/arabica.social/arbiter/internal/handlers"
	"tangled.org/arabica.social/arbiter/internal/metrics"
	"tangled.org/arabica.social/arbiter/internal/middleware"
	"tangled.org/arabica.social/arbiter/internal/moderation"
	"tangled.org/arabica.social/arbiter/internal/notify"
	"tangled.org/arabica.social/arbiter/internal/routing"
	"tangled.org/arabica.social/arbiter/internal/tracing"
)

func main() {
	// A missing .env file is normal in production
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	setupLogging(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stdout)

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Starting arbiter moderation engine")
	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server stopped")
}

// openStore opens the configured backend and returns it with its closer.
func openStore(ctx context.Context, cfg *config) (moderation.Store, io.Closer, error) {
	switch cfg.Store {
	case "sqlite":
		db, err := sqlitestore.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return sqlitestore.NewModerationStore(db), db, nil
	default:
		db, err := boltstore.Open(boltstore.Options{Path: cfg.DBPath})
		if err != nil {
			return nil, nil, err
		}
		return db.ModerationStore(), db, nil
	}
}

// buildNotifier chains the log notifier with every configured transport.
// The returned closers release transport connections on shutdown.
func buildNotifier(ctx context.Context, cfg *config, book email.AddressBook) (moderation.Notifier, []io.Closer, error) {
	chain := moderation.MultiNotifier{notify.LogNotifier{}}
	var closers []io.Closer

	if cfg.RedisURL != "" {
		rn, err := notify.NewRedisNotifier(ctx, cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			return nil, closers, fmt.Errorf("redis notifier: %w", err)
		}
		chain = append(chain, rn)
		closers = append(closers, rn)
		log.Info().Msg("Redis notifications enabled")
	}

	if cfg.NATSURL != "" {
		nn, err := notify.NewNATSNotifier(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, closers, fmt.Errorf("nats notifier: %w", err)
		}
		chain = append(chain, nn)
		closers = append(closers, nn)
		log.Info().Msg("NATS notifications enabled")
	}

	sender := email.NewSender(cfg.SMTP)
	if sender.Enabled() {
		chain = append(chain, email.NewNotifier(sender, book))
		log.Info().Str("host", cfg.SMTP.Host).Msg("Email notifications enabled")
	}

	return chain, closers, nil
}

func run(ctx context.Context, cfg *config) error {
	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.Init(ctx)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
		log.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("Tracing enabled")
	}

	store, storeCloser, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer storeCloser.Close()
	log.Info().Str("backend", cfg.Store).Str("path", cfg.DBPath).Msg("Database opened")

	directory, err := moderation.NewConfigDirectory(cfg.ModeratorsConfig)
	if err != nil {
		return fmt.Errorf("load moderators config: %w", err)
	}

	notifier, closers, err := buildNotifier(ctx, cfg, directory)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	if err != nil {
		return err
	}

	var content moderation.ContentStore = moderation.NopContentStore{}
	if cfg.ContentURL != "" {
		hc, err := moderation.NewHTTPContentStore(cfg.ContentURL)
		if err != nil {
			return fmt.Errorf("content service: %w", err)
		}
		content = hc
	}

	broker := moderation.NewBroker(256)
	engine, err := moderation.NewEngine(moderation.Options{
		Store:     store,
		Directory: directory,
		Content:   content,
		Notifier:  notifier,
		Broker:    broker,
	})
	if err != nil {
		return err
	}

	metrics.StartCollector(ctx, metrics.StatsSource{
		QueueDepthByPriority: func() map[int]int {
			depth, err := engine.QueueDepth(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to read queue depth")
				return nil
			}
			return depth
		},
		ActiveRestrictionsByKind: func() map[string]int {
			counts, err := engine.ActiveRestrictionCounts(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to count restrictions")
				return nil
			}
			return counts
		},
		StoreReachable:   func() bool { return engine.Ping(ctx) == nil },
		EventSubscribers: broker.Subscribers,
	}, 30*time.Second)

	moderation.StartSweeper(ctx, engine, cfg.SweepInterval)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, max(1, cfg.RateLimit/4), defaultRateLimitIdle)
	}

	handler := routing.SetupRouter(routing.Config{
		Handlers:    handlers.NewHandler(engine),
		Logger:      log.Logger,
		JWTSecret:   []byte(cfg.JWTSecret),
		RateLimiter: limiter,
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("address", server.Addr).
			Str("url", "http://localhost:"+cfg.Port).
			Int("staff", len(directory.ListStaff())).
			Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	// SIGHUP reloads the moderators file without a restart
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := directory.Reload(); err != nil {
					log.Error().Err(err).Msg("Failed to reload moderators config")
				}
			}
		}
	})

	if limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(defaultRateLimitIdle)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := limiter.Cleanup(); n > 0 {
						log.Debug().Int("removed", n).Msg("Rate limiter cleanup")
					}
				}
			}
		})
	}

	return g.Wait()
}
