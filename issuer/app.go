package issuer

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coolbank/cardflow/internal/expiry"
	"github.com/coolbank/cardflow/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
)

// App is the main application, it contains all the components of the issuer service
// and is responsible for starting and stopping them.
type App struct {
	srv    *http.Server
	wg     *sync.WaitGroup
	Addr   string
	logger *slog.Logger
	config *Config

	db         *sql.DB
	repository *Repository
	cache      *CachedStore
	redis      *redis.Client
	kafka      *KafkaPublisher
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "issuer"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	if err := a.config.Validate(); err != nil {
		return err
	}

	if a.config.ExpiryTZ != "" {
		loc, err := time.LoadLocation(a.config.ExpiryTZ)
		if err != nil {
			return fmt.Errorf("loading expiry timezone: %w", err)
		}
		expiry.SetDefaultExpiryLocation(loc)
	}

	if err := a.openRepository(); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(registry)

	var cards CardStore = a.repository
	if a.config.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: a.config.RedisAddr})
		a.cache = NewCachedStore(a.repository, a.redis, a.config.CacheTTL, []byte(a.config.PANHashKey), a.logger, metrics)
		cards = a.cache
		a.logger.Info("card cache enabled", slog.String("redis_addr", a.config.RedisAddr))
	}

	opts := []Option{WithLogger(a.logger), WithMetrics(metrics)}
	if len(a.config.KafkaBrokers) > 0 {
		kafka, err := NewKafkaPublisher(a.config.KafkaBrokers, a.config.KafkaTopic)
		if err != nil {
			return fmt.Errorf("creating kafka publisher: %w", err)
		}
		a.kafka = kafka
		opts = append(opts, WithEvents(kafka))
		a.logger.Info("card events enabled", slog.String("topic", a.config.KafkaTopic))
	}

	iss := NewService(cards, a.repository, a.repository, a.config, opts...)

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.NewStructuredLogger(a.logger))

	api := NewAPI(iss)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/-/ready", a.ready)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) openRepository() error {
	switch a.config.RepoBackend {
	case "mem":
		a.repository = NewRepository()
		a.logger.Warn("using in-memory card repository")
		return nil
	case "pg":
	default:
		return fmt.Errorf("unsupported repo backend %q", a.config.RepoBackend)
	}

	db, err := sql.Open(a.config.DBDriver, a.config.DBDSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging database: %w", err)
	}
	if a.config.MigrateOnStart {
		if err := Migrate(ctx, db, a.logger); err != nil {
			db.Close()
			return err
		}
	}

	a.db = db
	a.repository = NewPGRepository(db)
	return nil
}

// Repository returns the store backing the app. It also serves the account
// and user directories, which tests seed through it.
func (a *App) Repository() *Repository {
	return a.repository
}

func (a *App) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.repository.Ping(ctx); err != nil {
		a.logger.Warn("readiness check failed", slog.Any("err", err))
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	if a.cache != nil {
		if err := a.cache.Ping(ctx); err != nil {
			a.logger.Warn("readiness check failed", slog.Any("err", err))
			http.Error(w, "cache not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Error("shutting down http server", "err", err)
		}
	}

	a.wg.Wait()

	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("closing redis client", "err", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing database", "err", err)
		}
	}

	a.logger.Info("app stopped")
}
