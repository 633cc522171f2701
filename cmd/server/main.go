package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"storyreel/internal/api"
	"storyreel/internal/config"
	"storyreel/internal/files"
	"storyreel/internal/imaging"
	"storyreel/internal/logging"
	"storyreel/internal/store"
	"storyreel/internal/stories"
)

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func printStats(st *store.SQLiteStore, svc *stories.Service) {
	ctx := context.Background()
	kvStats, err := st.GetStats(ctx)
	if err != nil {
		logging.Internal.Fatalf("failed to get stats: %v", err)
	}
	stats := svc.Stats()

	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║           Storyreel Statistics           ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Live Stories:    %-22d║\n", stats.Live)
	fmt.Printf("║  └─ Viewed:       %-22d║\n", stats.Viewed)
	fmt.Println("╠══════════════════════════════════════════╣")
	if stats.Live > 0 {
		fmt.Printf("║  Oldest Story:    %-22s║\n", stats.Oldest.Format("2006-01-02 15:04"))
		fmt.Printf("║  Newest Story:    %-22s║\n", stats.Newest.Format("2006-01-02 15:04"))
		fmt.Printf("║  Next Expiry:     %-22s║\n", stats.Oldest.Add(stories.ExpirationWindow).Format("2006-01-02 15:04"))
	} else {
		fmt.Println("║  No live stories                         ║")
	}
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Persisted Keys:  %-22d║\n", kvStats.Keys)
	fmt.Printf("║  Persisted Size:  %-22s║\n", formatBytes(kvStats.TotalBytes))
	if !kvStats.LastWritten.IsZero() {
		fmt.Printf("║  Last Write:      %-22s║\n", kvStats.LastWritten.Format("2006-01-02 15:04"))
	}
	fmt.Println("╚══════════════════════════════════════════╝")
}

func newStorage(cfg config.Config) (files.Storage, error) {
	if cfg.B2.Enabled() {
		b2Storage, err := files.NewB2Storage(files.B2Config{
			KeyID:     cfg.B2.KeyID,
			AppKey:    cfg.B2.AppKey,
			Bucket:    cfg.B2.Bucket,
			Prefix:    cfg.B2.Prefix,
			PublicURL: cfg.B2.PublicURL,
			Endpoint:  cfg.B2.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize B2 storage: %w", err)
		}
		if cfg.B2.PublicURL != "" {
			logging.Internal.Printf("using Backblaze B2 storage (bucket: %s, public image urls enabled)", cfg.B2.Bucket)
		} else {
			logging.Internal.Printf("using Backblaze B2 storage (bucket: %s)", cfg.B2.Bucket)
		}
		return b2Storage, nil
	}

	fsStorage, err := files.NewFSStorage(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	logging.Internal.Printf("using local filesystem storage (%s)", cfg.StoragePath)
	return fsStorage, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Internal.Fatalf("failed to load config: %v", err)
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.StoragePath, "storage", cfg.StoragePath, "Image storage directory")
	flag.DurationVar(&cfg.SweepInterval, "sweep", cfg.SweepInterval, "How often expired stories are removed")
	showStats := flag.Bool("stats", false, "Show story statistics and exit")
	flag.BoolVar(&cfg.DevMode, "dev", cfg.DevMode, "Development mode: disables CORS restrictions and rate limiting")
	corsOrigins := flag.String("cors-origins", strings.Join(cfg.CORSOrigins, ","), "Comma-separated list of allowed CORS origins")
	flag.Parse()

	cfg.CORSOrigins = nil
	for _, o := range strings.Split(*corsOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	if err := cfg.Validate(); err != nil {
		logging.Internal.Fatalf("invalid config: %v", err)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logging.Internal.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	storage, err := newStorage(cfg)
	if err != nil {
		logging.Internal.Fatalf("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := stories.NewService(ctx, st, storage, imaging.NewConverter(cfg.MaxUploadBytes), stories.Options{})
	defer svc.Close()

	if *showStats {
		printStats(st, svc)
		return
	}

	// Sweeps once now to drop stories that expired while the server was down
	sweeper := svc.NewSweeper(cfg.SweepInterval)
	sweeper.Start(ctx)
	logging.Internal.Printf("expiration sweep every %s", cfg.SweepInterval)

	var corsConfig api.CORSConfig
	if cfg.DevMode {
		logging.Internal.Println("development mode: CORS allowing all origins")
	} else {
		corsConfig.AllowedOrigins = cfg.CORSOrigins
		logging.Internal.Printf("CORS restricted to origins: %v", cfg.CORSOrigins)
	}

	handler := api.NewHandler(svc, cfg.MaxUploadBytes, corsConfig)

	mux := http.NewServeMux()
	mux.Handle("/api/", handler)
	mux.Handle("/healthz", handler)

	// Apply middleware (order: Logger -> RateLimit -> CORS -> handler)
	var finalHandler http.Handler = mux
	finalHandler = api.CORS(corsConfig)(finalHandler)
	var rateLimiter *api.RateLimiterMiddleware
	if !cfg.DevMode {
		rateLimiter = api.NewRateLimiter(api.DefaultRateLimitConfig())
		finalHandler = rateLimiter.Middleware(finalHandler)
		logging.Internal.Println("rate limiting enabled")
	}
	finalHandler = api.Logger(finalHandler)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: finalHandler,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logging.Internal.Println("shutting down...")
		sweeper.Stop()
		svc.Close()
		cancel()

		if rateLimiter != nil {
			rateLimiter.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Internal.Printf("shutdown error: %v", err)
		}
	}()

	logging.Internal.Printf("starting server on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logging.Internal.Fatalf("server error: %v", err)
	}
}
