// Command bridge runs a bridge server exposing the bootstrap entry points.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"mini-bridge/dispatcher"
	"mini-bridge/middleware"
	"mini-bridge/registry"
	"mini-bridge/server"
)

type config struct {
	listen    string
	advertise string
	etcd      string
	service   string
	ttl       int64
	rate      float64
	burst     int
	bootstrap string
	logLevel  string
	dev       bool
	grace     time.Duration
}

func parseFlags(args []string) (*config, error) {
	cfg := &config{}
	fs := flag.NewFlagSet("bridge", flag.ContinueOnError)
	fs.StringVar(&cfg.listen, "listen", "127.0.0.1:25333", "address to listen on")
	fs.StringVar(&cfg.advertise, "advertise", "", "address advertised in etcd (default: listener address)")
	fs.StringVar(&cfg.etcd, "etcd", "", "comma-separated etcd endpoints; empty disables discovery")
	fs.StringVar(&cfg.service, "service", registry.DefaultService, "service name advertised in etcd")
	fs.Int64Var(&cfg.ttl, "ttl", 10, "etcd lease TTL in seconds")
	fs.Float64Var(&cfg.rate, "rate", 0, "requests per second allowed; 0 disables rate limiting")
	fs.IntVar(&cfg.burst, "burst", 100, "rate limiter burst")
	fs.StringVar(&cfg.bootstrap, "bootstrap", server.DefaultBootstrapClass, "class serving connectCallback and release")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level")
	fs.BoolVar(&cfg.dev, "dev", false, "human-readable development logging")
	fs.DurationVar(&cfg.grace, "grace", 10*time.Second, "time allowed for in-flight requests on shutdown")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %d", cfg.ttl)
	}
	return cfg, nil
}

func newLogger(cfg *config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.dev {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func main() {
	os.Exit(bridge(os.Args[1:]))
}

// bridge runs the command and returns the process exit code.
func bridge(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridge failed", zap.Error(err))
		return 1
	}
	return 0
}

// run serves until ctx is done, then shuts down gracefully.
func run(ctx context.Context, cfg *config, logger *zap.Logger) error {
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithBootstrapClass(cfg.bootstrap),
		server.WithMiddleware(middleware.Logging(logger)),
	}
	if cfg.rate > 0 {
		opts = append(opts, server.WithMiddleware(middleware.RateLimit(cfg.rate, cfg.burst)))
	}
	if cfg.etcd != "" {
		reg, err := registry.NewEtcdRegistry(strings.Split(cfg.etcd, ","), logger)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()
		opts = append(opts, server.WithRegistry(reg, cfg.advertise, cfg.ttl), server.WithService(cfg.service))
	}

	svr, err := server.NewServer(opts...)
	if err != nil {
		return err
	}
	if err := installIntrospection(svr.Dispatcher(), cfg.bootstrap); err != nil {
		return err
	}
	if err := svr.Start("tcp", cfg.listen); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := svr.Wait(); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.grace)
		defer cancel()
		return svr.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// installIntrospection exposes the catalog listing and the live handle count
// under the bootstrap class.
func installIntrospection(d *dispatcher.Dispatcher, class string) error {
	catalog := d.Catalog()
	if err := catalog.RegisterStatic(class, "describe", func() []string {
		infos := catalog.Describe()
		out := make([]string, len(infos))
		for i, info := range infos {
			out[i] = fmt.Sprintf("%s calls=%d", info.Signature, info.Calls)
		}
		return out
	}); err != nil {
		return err
	}
	return catalog.RegisterStatic(class, "liveHandles", func() int32 {
		return int32(d.Objects().Len())
	})
}
