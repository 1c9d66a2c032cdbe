package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/web-cache/pkg/cache"
	"github.com/Sternrassler/web-cache/pkg/config"
	"github.com/Sternrassler/web-cache/pkg/logging"
	"github.com/Sternrassler/web-cache/pkg/origin"
	"github.com/Sternrassler/web-cache/pkg/proxy"
	"github.com/Sternrassler/web-cache/pkg/store"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath string
	host       string
	port       int
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("web-cache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", os.Getenv("WEBCACHE_CONFIG"), "path to web-cache.yaml")
	fs.StringVar(&opts.host, "host", "", "listen host (overrides config)")
	fs.IntVar(&opts.port, "port", 0, "listen port (overrides config)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// loadConfig loads the file and environment with flag overrides on top.
func loadConfig(opts options) (config.Config, error) {
	return config.LoadWithOverrides(opts.configPath, config.Overrides{
		Host: opts.host,
		Port: opts.port,
	})
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "web-cache: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.LoggingConfig())

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.ListenAddr()).Msg("Failed to listen")
	}

	var adminLn net.Listener
	if cfg.Admin.Addr != "" {
		adminLn, err = net.Listen("tcp", cfg.Admin.Addr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Admin.Addr).Msg("Failed to listen for admin")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, ln, adminLn); err != nil {
		log.Error().Err(err).Msg("web-cache stopped")
		os.Exit(1)
	}
}

// run connects the store and serves on ln until ctx is done. A nil adminLn
// disables the admin endpoints.
func run(ctx context.Context, cfg config.Config, ln, adminLn net.Listener) error {
	storeLogger := logging.NewLogger(logging.ComponentStore)

	st, err := store.Connect(ctx, cfg.StoreOptions(), store.DefaultRetryConfig(), storeLogger)
	if err != nil {
		ln.Close()
		if adminLn != nil {
			adminLn.Close()
		}
		return fmt.Errorf("connect store: %w", err)
	}
	defer st.Close()
	storeLogger.Info().Str("backend", cfg.Store.Backend).Msg("Store connected")

	manager := cache.NewManager(st, time.Duration(cfg.Store.Timeout))

	originCfg := origin.DefaultConfig()
	originCfg.DialTimeout = time.Duration(cfg.Origin.DialTimeout)
	originCfg.IOTimeout = time.Duration(cfg.Origin.IOTimeout)
	fetcher := origin.New(originCfg, logging.NewLogger(logging.ComponentOrigin))

	proxyCfg := proxy.DefaultConfig()
	proxyCfg.ClientTimeout = time.Duration(cfg.Server.ClientTimeout)
	srv := proxy.New(proxyCfg, manager, fetcher, logging.NewLogger(logging.ComponentProxy))

	var admin *http.Server
	if adminLn != nil {
		adminLogger := logging.NewLogger(logging.ComponentAdmin)
		admin = &http.Server{
			Handler:           proxy.NewAdminRouter(manager),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			adminLogger.Info().Str("addr", adminLn.Addr().String()).Msg("Admin listening")
			if err := admin.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminLogger.Error().Err(err).Msg("Admin server error")
			}
		}()
	}

	serveErr := srv.Serve(ctx, ln)

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = admin.Shutdown(shutdownCtx)
	}

	return serveErr
}
