// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/trackbridge/internal/api/connect"
	"github.com/osa030/trackbridge/internal/app/broker"
	"github.com/osa030/trackbridge/internal/app/filter"
	"github.com/osa030/trackbridge/internal/app/session"
	"github.com/osa030/trackbridge/internal/infra/config"
	"github.com/osa030/trackbridge/internal/infra/logger"
	"github.com/osa030/trackbridge/internal/infra/metrics"
)

var (
	app        = kingpin.New("trackbridge-server", "trackbridge media playback bridge")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	noWatch    = app.Flag("no-watch", "Do not reload the config file when it changes").Bool()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Bootstrap logger so config loading is visible
	if err := logger.Init(loggerConfig("info", "")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := logger.Init(loggerConfig(cfg.Logging.Level, cfg.Logging.File)); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	err = run(cfg)
	if err != nil {
		zlog.Error().Msgf("Server error: %v", err)
	}
	_ = logger.Close()
	if err != nil {
		os.Exit(1)
	}
}

// loggerConfig merges config file logging settings with command-line flags.
func loggerConfig(level, file string) logger.Config {
	lc := logger.Config{Output: "stdout", Level: level}
	if *verbose {
		lc.Level = "debug"
	}
	if *logfile != "" {
		file = *logfile
	}
	if file != "" {
		lc.Output = file
		lc.File = file
	}
	return lc
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	if err := validateFilterConfig(cfg); err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	m := metrics.New()

	sessionMgr, err := session.NewManager(cfg, session.WithMetrics(m))
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}
	defer sessionMgr.Close()

	// Commands queue in the broker until the session binds on first use
	commands := broker.New(sessionMgr.Start, broker.Config{MaxPending: cfg.Broker.MaxPending})
	defer commands.Close()

	playerService := apiconnect.NewPlayerService(commands, m)

	var handlerOpts []connect.HandlerOption
	if cfg.Server.Token != "" {
		handlerOpts = append(handlerOpts, connect.WithInterceptors(apiconnect.NewAuthInterceptor(cfg.Server.Token)))
	} else {
		zlog.Warn().Msg("No bridge token configured, RPC authentication is disabled")
	}
	playerPath, playerHandler := apiconnect.NewPlayerServiceHandler(playerService, handlerOpts...)

	router := chi.NewRouter()
	router.Use(logger.RequestLogger())
	router.Use(metrics.RequestMiddleware(m))
	router.Handle(playerPath+"*", playerHandler)
	router.Handle("/metrics", m.Handler(func() {
		m.SetSubscribers(sessionMgr.SubscriberCount())
	}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if !*noWatch {
		go func() {
			err := config.Watch(watchCtx, *configPath, func(next *config.Config) {
				if !*verbose {
					logger.SetLevel(next.Logging.Level)
				}
				if err := validateFilterConfig(next); err != nil {
					zlog.Warn().Msgf("Ignoring filter changes: %v", err)
					return
				}
				sessionMgr.ApplyConfig(next)
			})
			if err != nil {
				zlog.Warn().Msgf("Config watcher stopped: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zlog.Info().Msgf("Received %s, shutting down...", sig)
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// End event streams first so Shutdown does not wait on them
	playerService.Close()
	if mgr, ok := commands.Disconnect(); ok {
		mgr.Destroy()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	registry := filter.GetRegistered()
	for _, name := range filter.Names() {
		f := registry[name](filter.Deps{})
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// validateFilterConfig validates filter configurations.
func validateFilterConfig(cfg *config.Config) error {
	registry := filter.GetRegistered()

	for filterName, filterCfg := range cfg.Filters {
		if !filterCfg.Enabled {
			continue
		}

		factory, exists := registry[filterName]
		if !exists {
			return errors.Newf("unknown filter: %s", filterName)
		}

		if err := factory(filter.Deps{}).ValidateConfig(filterCfg.Settings); err != nil {
			return errors.Wrapf(err, "filter %s", filterName)
		}
	}

	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
