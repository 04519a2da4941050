package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/danielmmetz/hn-reader/api"
	"github.com/danielmmetz/hn-reader/cache"
	"github.com/danielmmetz/hn-reader/fetch"
	"github.com/danielmmetz/hn-reader/hn"
	"github.com/danielmmetz/hn-reader/metrics"
	"github.com/danielmmetz/hn-reader/readability"
	"github.com/danielmmetz/hn-reader/store"
	"github.com/danielmmetz/hn-reader/worker"
)

type storeConfig struct {
	backend   string
	dbPath    string
	badgerDir string
	redis     store.RedisConfig
}

func main() {
	flagSet := flag.NewFlagSet("hn-reader", flag.ExitOnError)

	var (
		addr           string
		port           int
		hnBaseURL      string
		cachePrefix    string
		maxConcurrency int
		warmInterval   time.Duration
		warmCount      int
		sweepInterval  time.Duration
		debug          bool
		sc             storeConfig
	)
	flagSet.StringVar(&addr, "addr", "localhost", "Address to listen on")
	flagSet.IntVar(&port, "port", 8080, "Port to listen on")
	flagSet.StringVar(&hnBaseURL, "hn-base-url", hn.DefaultBaseURL, "Base URL of the Hacker News API")
	flagSet.StringVar(&sc.backend, "cache-backend", "sqlite", "Cache storage backend: sqlite, redis, badger or memory")
	flagSet.StringVar(&cachePrefix, "cache-prefix", cache.DefaultPrefix, "Namespace prefix for cache keys")
	flagSet.StringVar(&sc.dbPath, "db-path", "hn.db", "Path to SQLite database file")
	flagSet.StringVar(&sc.badgerDir, "badger-dir", "hn-badger", "Directory for the Badger database")
	flagSet.StringVar(&sc.redis.Address, "redis-addr", "localhost:6379", "Redis address")
	flagSet.StringVar(&sc.redis.Password, "redis-password", "", "Redis password")
	flagSet.IntVar(&sc.redis.DB, "redis-db", 0, "Redis database number")
	flagSet.IntVar(&maxConcurrency, "max-concurrency", 10, "Max in-flight requests to the Hacker News API")
	flagSet.DurationVar(&warmInterval, "warm-interval", 5*time.Minute, "Cache warm interval (0 disables warming)")
	flagSet.IntVar(&warmCount, "warm-count", 30, "Stories per list to warm")
	flagSet.DurationVar(&sweepInterval, "sweep-interval", time.Hour, "Expired entry sweep interval (0 disables sweeping)")
	flagSet.BoolVar(&debug, "debug", false, "Enable debug logging")

	if err := ff.Parse(flagSet, os.Args[1:], ff.WithEnvVars()); err != nil {
		slog.Error("failed to parse flags", "error", err)
		os.Exit(1)
	}

	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	// Storage
	backing, counter, closeStore, err := openStore(sc)
	if err != nil {
		slog.Error("failed to open cache store", "backend", sc.backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	c := cache.New(backing, cache.WithPrefix(cachePrefix))
	slog.Info("cache ready", "backend", sc.backend, "prefix", cachePrefix)

	// HN client
	hnClient := hn.NewClient(fetch.New(nil), c,
		hn.WithBaseURL(hnBaseURL),
		hn.WithMaxConcurrency(maxConcurrency),
	)
	assembler := worker.NewAssembler(hnClient, c)

	// Article extraction uses its own client and user agent
	extractor := readability.NewExtractor(
		fetch.New(readability.NewHTTPClient(), fetch.WithUserAgent(readability.UserAgent)),
		c,
	)

	// Background worker context
	workerCtx, workerCancel := context.WithCancel(context.Background())

	if warmInterval > 0 {
		poller := worker.NewPoller(hnClient, assembler, warmInterval, warmCount)
		poller.Start(workerCtx)
	} else {
		slog.Info("cache warming disabled")
	}

	if sweepInterval > 0 {
		worker.NewCleaner(c, sweepInterval).Start(workerCtx)
	}

	// API handlers
	storiesHandler := api.NewStoriesHandler(hnClient)
	commentsHandler := api.NewCommentsHandler(hnClient, assembler)
	articlesHandler := api.NewArticlesHandler(hnClient, extractor)
	refreshHandler := api.NewRefreshHandler(hnClient, assembler, extractor, c)
	healthHandler := api.NewHealthHandler(sc.backend, counter)

	// Routes
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/lists/{kind}", storiesHandler.ListStories)
	mux.HandleFunc("GET /api/items/{id}/article", articlesHandler.GetArticle)
	mux.HandleFunc("GET /api/items/{id}/comments", commentsHandler.GetComments)
	mux.HandleFunc("POST /api/items/{id}/refresh", refreshHandler.Refresh)
	mux.HandleFunc("GET /api/items/{id}", storiesHandler.GetStory)
	mux.HandleFunc("GET /api/comments", commentsHandler.GetTree)
	mux.Handle("GET /api/health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	// HTTP server with graceful shutdown
	listenAddr := fmt.Sprintf("%s:%d", addr, port)
	srv := &http.Server{
		Addr:    listenAddr,
		Handler: api.LogRequests(mux),
	}

	go func() {
		slog.Info("server starting", "addr", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("received signal, shutting down", "signal", sig)

	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	refreshHandler.Wait()

	slog.Info("server stopped")
}

// openStore opens the configured backend. The returned counter is nil for
// backends that cannot count entries.
func openStore(sc storeConfig) (cache.Store, api.Counter, func(), error) {
	switch sc.backend {
	case "sqlite":
		db, err := store.Open(sc.dbPath)
		if err != nil {
			return nil, nil, nil, err
		}
		s := store.NewSQLite(db)
		return s, s, func() { db.Close() }, nil
	case "redis":
		client, err := store.OpenRedis(sc.redis)
		if err != nil {
			return nil, nil, nil, err
		}
		return store.NewRedis(client), nil, func() { client.Close() }, nil
	case "badger":
		db, err := store.OpenBadger(store.BadgerConfig{
			Path:   sc.badgerDir,
			Logger: slog.Default().With("component", "badger"),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return store.NewBadger(db), nil, func() { db.Close() }, nil
	case "memory":
		m := store.NewMemory()
		return m, m, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown cache backend %q", sc.backend)
	}
}
