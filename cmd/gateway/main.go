// Command gateway runs the rotation gateway's HTTP server: it loads
// configuration, wires the identity manager, fulfillment engine, and
// background reactivator together, and serves the Gemini-compatible HTTP
// surface until signaled to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/antigravity-gateway/rotation-gateway/internal/config"
	"github.com/antigravity-gateway/rotation-gateway/internal/engine"
	"github.com/antigravity-gateway/rotation-gateway/internal/gate"
	"github.com/antigravity-gateway/rotation-gateway/internal/identity"
	"github.com/antigravity-gateway/rotation-gateway/internal/logging"
	"github.com/antigravity-gateway/rotation-gateway/internal/ratelimit"
	"github.com/antigravity-gateway/rotation-gateway/internal/reactivator"
	"github.com/antigravity-gateway/rotation-gateway/internal/cooldown"
	"github.com/antigravity-gateway/rotation-gateway/internal/server"
	"github.com/antigravity-gateway/rotation-gateway/internal/store"
	"github.com/antigravity-gateway/rotation-gateway/internal/upstream"
)

const codeAssistBaseURL = "https://cloudcode-pa.googleapis.com/v1internal"

func main() {
	var (
		debugMode  bool
		port       int
		host       string
		configPath string
		useRedis   bool
	)

	flag.BoolVar(&debugMode, "debug", false, "Enable debug logging")
	flag.IntVar(&port, "port", 0, "Server port (default: 8080)")
	flag.StringVar(&host, "host", "", "Bind address (default: 0.0.0.0)")
	flag.StringVar(&configPath, "config", "", "Path to an optional JSON config overlay")
	flag.BoolVar(&useRedis, "redis", false, "Use Redis instead of the in-memory store")
	flag.Parse()

	cfg := config.DefaultConfig()
	if err := cfg.Load(configPath); err != nil {
		logging.Warn("failed to load config: %v", err)
	}
	if debugMode {
		cfg.Debug = true
	}
	if port != 0 {
		cfg.Port = fmt.Sprintf("%d", port)
	}
	if host != "" {
		cfg.Host = host
	}
	logging.SetDebug(cfg.IsDebug())

	var primary store.Store
	if useRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logging.Error("failed to connect to Redis: %v", err)
			logging.Warn("starting with the in-memory store instead")
			primary = store.NewMemStore()
		} else {
			primary = store.NewRedisStore(rdb)
		}
	} else {
		primary = store.NewMemStore()
	}

	var st store.Store = primary
	if cfg.SQLiteAuditPath != "" {
		audit, err := store.OpenSQLiteAuditLog(cfg.SQLiteAuditPath)
		if err != nil {
			logging.Warn("failed to open sqlite audit log: %v", err)
		} else {
			st = store.WithAudit(primary, audit)
		}
	}

	refresher := identity.NewOAuthRefresher(cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthTokenURL)
	identities := identity.NewManager(st, refresher)

	warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := identities.Warm(warmCtx); err != nil {
		logging.Warn("initial identity load failed, will retry lazily: %v", err)
	}
	cancel()

	fulfillment := engine.New(
		identities,
		cooldown.New(),
		ratelimit.New(),
		gate.New(),
		upstream.New(config.UnaryTimeout, config.StreamingTimeout),
		st,
		engine.Endpoints{
			Generate:       codeAssistBaseURL + ":generateContent",
			StreamGenerate: codeAssistBaseURL + ":streamGenerateContent?alt=sse",
		},
	)

	httpServer := server.New(fulfillment, st, cfg.IsDebug())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reap := reactivator.New(st)
	go reap.Run(ctx)

	logging.Header("Rotation Gateway")
	logging.Info("version %s", config.Version)
	logging.Success("listening on %s", cfg.Addr())

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- httpServer.Run(ctx, cfg.Addr())
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrCh:
		if err != nil {
			logging.Error("server exited: %v", err)
			os.Exit(1)
		}
	case <-quit:
		logging.Info("shutting down...")
		cancel()
		if err := <-serverErrCh; err != nil {
			logging.Error("server forced to shutdown: %v", err)
			os.Exit(1)
		}
	}

	logging.Success("gateway stopped")
}
