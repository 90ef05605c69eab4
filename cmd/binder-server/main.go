// Command binder-server hosts IRemoteService under a name clients attach to.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"mini-binder/config"
	"mini-binder/logging"
	"mini-binder/middleware"
	"mini-binder/registry"
	"mini-binder/remoteservice"
	"mini-binder/server"
)

func main() {
	app := cli.NewApp()
	app.Name = "binder-server"
	app.Usage = "host IRemoteService for binder-client"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file",
		},
		cli.StringFlag{
			Name:  "network",
			Usage: "listen network, tcp or unix",
		},
		cli.StringFlag{
			Name:  "address, a",
			Usage: "listen address or socket path",
		},
		cli.StringFlag{
			Name:  "service",
			Usage: "endpoint name to register",
		},
		cli.IntFlag{
			Name:  "identity",
			Usage: "identity reported to clients instead of the process id",
		},
		cli.StringSliceFlag{
			Name:  "etcd",
			Usage: "etcd endpoint to publish the service in (repeatable)",
		},
		cli.StringFlag{
			Name:  "metrics",
			Usage: "address to serve Prometheus metrics on",
		},
	}
	app.Action = serveCommand

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Server, error) {
	cfg, err := config.LoadServer(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("network") {
		cfg.Network = c.String("network")
	}
	if c.IsSet("address") {
		cfg.Address = c.String("address")
	}
	if c.IsSet("service") {
		cfg.Service = c.String("service")
	}
	if c.IsSet("identity") {
		cfg.Identity = int32(c.Int("identity"))
	}
	if c.IsSet("etcd") {
		cfg.Registry.Etcd = c.StringSlice("etcd")
	}
	if c.IsSet("metrics") {
		cfg.MetricsAddr = c.String("metrics")
	}
	return cfg, cfg.Validate()
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg, closeRegistry, err := cfg.Registry.Open(logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithRegistry(reg, registry.ServiceInstance{
			Addr:    cfg.Advertise,
			Weight:  cfg.Weight,
			Version: cfg.Version,
		}, cfg.Registry.TTL),
	}
	if cfg.Identity != 0 {
		opts = append(opts, server.WithIdentity(cfg.Identity))
	}
	svr := server.NewServer(opts...)

	svc := remoteservice.NewService(svr.Identity(), logger.Named("RemoteService"))
	ep, err := server.NewEndpoint(cfg.Service, remoteservice.Descriptor, svc)
	if err != nil {
		return err
	}
	if err := svr.Register(ep); err != nil {
		return err
	}

	svr.Use(middleware.LoggingMiddleware(logger))
	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics, err := middleware.MetricsMiddleware(promReg)
		if err != nil {
			return err
		}
		svr.Use(metrics)
		go serveMetrics(cfg.MetricsAddr, promReg, logger)
	}
	if cfg.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.HandlerTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.HandlerTimeout))
	}

	errc := make(chan error, 1)
	go func() { errc <- svr.Serve(cfg.Network, cfg.Address) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case s := <-sig:
		logger.Info("shutting down", zap.Stringer("signal", s))
	}
	if err := svr.Shutdown(cfg.ShutdownAfter); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	if cfg.Network == "unix" {
		os.Remove(cfg.Address)
	}
	return <-errc
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server", zap.Error(errors.Wrap(err, "listen")))
	}
}
