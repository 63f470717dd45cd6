package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	server "pong-arena/server"
	servernet "pong-arena/server/internal/net"
	"pong-arena/server/internal/store"
	"pong-arena/server/internal/store/sqlite"
	"pong-arena/server/internal/telemetry"
	"pong-arena/server/logging"
	loggingSinks "pong-arena/server/logging/sinks"
)

type Config struct {
	Logger telemetry.Logger
}

// Run boots the server and blocks until ctx is cancelled or the
// listener fails. Environment knobs: PONG_ADDR, PONG_DB_PATH,
// PONG_LOG_SINKS, PONG_LOG_COLOR, PONG_LOG_JSON_PATH.
func Run(ctx context.Context, cfg Config) error {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	appLogger := cfg.Logger
	if appLogger == nil {
		appLogger = telemetry.WrapLogger(log.Default())
	}

	fallbackLogger := log.Default()
	if provider, ok := appLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	logConfig := logging.DefaultConfig()
	if raw := os.Getenv("PONG_LOG_SINKS"); raw != "" {
		logConfig.EnabledSinks = nil
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				logConfig.EnabledSinks = append(logConfig.EnabledSinks, name)
			}
		}
	}
	if raw := os.Getenv("PONG_LOG_COLOR"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			logConfig.Console.UseColor = value
		} else {
			appLogger.Printf("invalid PONG_LOG_COLOR=%q: %v", raw, err)
		}
	}
	if path := os.Getenv("PONG_LOG_JSON_PATH"); path != "" {
		logConfig.JSON.FilePath = path
	}

	var namedSinks []logging.NamedSink
	if logConfig.HasSink("console") {
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: "console",
			Sink: loggingSinks.NewConsole(os.Stdout, logConfig.Console),
		})
	}
	if logConfig.HasSink("json") && logConfig.JSON.FilePath != "" {
		file, err := os.OpenFile(logConfig.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open json log %s: %w", logConfig.JSON.FilePath, err)
		}
		defer file.Close()
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSON(file, logConfig.JSON.FlushInterval),
		})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, namedSinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			appLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	var hubStore store.Store
	if path := os.Getenv("PONG_DB_PATH"); path != "" {
		db, err := sqlite.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open database %s: %w", path, err)
		}
		hubStore = db
	} else {
		appLogger.Printf("PONG_DB_PATH unset, using in-memory store")
		hubStore = store.NewMemory()
	}
	defer hubStore.Close()

	hubCfg := server.DefaultHubConfig()
	hubCfg.Logger = appLogger
	hubCfg.Publisher = router
	hubCfg.Store = hubStore
	hub := server.NewHubWithConfig(hubCfg)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger: fallbackLogger,
	})

	addr := os.Getenv("PONG_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	appLogger.Printf("server listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}
