// Command sequencer runs the layer-2 transaction sequencer: the priority
// queue, multi-level cache, dependency-aware worker pool, batch
// sequencer, circuit-broken L1 client, recovery engine, and HTTP/WS API,
// wired together from a single TOML config file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/l2labs/sequencer/config"
	"github.com/l2labs/sequencer/internal/api"
	"github.com/l2labs/sequencer/internal/breaker"
	"github.com/l2labs/sequencer/internal/cache"
	"github.com/l2labs/sequencer/internal/queue"
	"github.com/l2labs/sequencer/internal/recovery"
	"github.com/l2labs/sequencer/internal/rpcclient"
	"github.com/l2labs/sequencer/internal/sequencer"
	"github.com/l2labs/sequencer/internal/store"
	"github.com/l2labs/sequencer/internal/workerpool"
	"github.com/l2labs/sequencer/log"
	"github.com/l2labs/sequencer/metrics"
	"github.com/l2labs/sequencer/metrics/prometheusexp"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the TOML config file",
		Value:   "sequencer.toml",
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "override the API listen address from the config file",
	}
	l1Flag = &cli.StringFlag{
		Name:  "l1-endpoint",
		Usage: "base URL of the external L1/bridge HTTP adapter",
	}
)

const shutdownGrace = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "sequencer",
		Usage: "layer-2 transaction sequencer",
		Flags: []cli.Flag{configFlag, listenFlag, l1Flag},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:  "dump-config",
				Usage: "write the effective (defaults + file) config back out",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					return config.Save(c.String(configFlag.Name), cfg)
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("sequencer: fatal", "err", err)
		os.Exit(1)
	}
}

func configureLogging(cfg config.Config) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.LogFormat == "json" {
		log.SetDefault(log.NewJSONLogger(os.Stdout, level))
	} else {
		log.SetDefault(log.NewTerminalLogger(os.Stdout, level))
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String(configFlag.Name)
	if _, err := os.Stat(path); err != nil {
		log.Warn("sequencer: no config file found, using defaults", "path", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(c *cli.Context) error {
	if _, err := maxprocs.Set(maxprocs.Logger(func(f string, a ...interface{}) { log.Info(fmt.Sprintf(f, a...)) })); err != nil {
		log.Warn("sequencer: automaxprocs failed", "err", err)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr := c.String(listenFlag.Name); addr != "" {
		cfg.ListenAddr = addr
	}
	configureLogging(cfg)

	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c2 := cache.New(cfg.CacheConfigValue())
	defer c2.Close()
	c2.SetLoader(storeLoader(st))
	c2.StartPersistence(ctx)

	q := queue.New(cfg.QueueConfig())

	chainClient := rpcclient.New(c.String(l1Flag.Name))
	br := breaker.New(cfg.BreakerConfig(), chainClient)

	pool := workerpool.New(cfg.WorkerPoolConfig())
	defer pool.Close()

	seq := sequencer.New(cfg.SequencerConfig(), st, c2, q, br).WithPool(pool)
	rec := recovery.New(cfg.RecoveryConfigValue(), st, chainClient, seq)

	var auth api.Authenticator
	if cfg.JWTSecret != "" {
		auth = api.NewJWTAuthenticator([]byte(cfg.JWTSecret))
	}
	server := api.New(api.Deps{
		Sequencer: seq,
		Store:     st,
		Queue:     q,
		Breaker:   br,
		Pool:      pool,
		Recovery:  rec,
		Auth:      auth,
	})

	q.Start(ctx)
	defer q.Stop()
	seq.Start(ctx)
	rec.Start(ctx)
	server.Wire()

	mux := http.NewServeMux()
	mux.Handle("/v1/", server.Handler())
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		prometheusexp.Write(metrics.DefaultRegistry, w)
	})
	mux.Handle("/metrics/runtime", prometheusexp.NewRuntimeHandler())

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Info("sequencer: listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("sequencer: http server failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("sequencer: shutting down")
	seq.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
