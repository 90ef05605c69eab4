// Command binder-client attaches to a binder-server endpoint and exercises
// IRemoteService.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"mini-binder/client"
	"mini-binder/config"
	"mini-binder/loadbalance"
	"mini-binder/logging"
	"mini-binder/rect"
	"mini-binder/remoteservice"
)

func main() {
	app := cli.NewApp()
	app.Name = "binder-client"
	app.Usage = "call IRemoteService on a binder-server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file",
		},
		cli.StringFlag{
			Name:  "target, t",
			Usage: "endpoint name to attach to",
		},
		cli.StringFlag{
			Name:  "network",
			Value: "unix",
			Usage: "network of --address",
		},
		cli.StringFlag{
			Name:  "address, a",
			Usage: "server address; bypasses the configured registry",
		},
		cli.StringSliceFlag{
			Name:  "etcd",
			Usage: "etcd endpoint to discover the target in (repeatable)",
		},
		cli.DurationFlag{
			Name:  "call-timeout",
			Usage: "fail a call after this long (0 waits forever)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "connect, call getPid, basicTypes and addRectInOut, then disconnect",
			Action: runCommand,
		},
		{
			Name:   "pid",
			Usage:  "print the remote pid",
			Action: pidCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Client, error) {
	cfg, err := config.LoadClient(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if c.GlobalIsSet("target") {
		cfg.Target = c.GlobalString("target")
	}
	if c.GlobalIsSet("address") {
		cfg.Registry.Etcd = nil
		cfg.Registry.Static = []config.StaticService{{
			Name:    cfg.Target,
			Network: c.GlobalString("network"),
			Addr:    c.GlobalString("address"),
			Weight:  1,
		}}
	}
	if c.GlobalIsSet("etcd") {
		cfg.Registry.Etcd = c.GlobalStringSlice("etcd")
	}
	if c.GlobalIsSet("call-timeout") {
		cfg.CallTimeout = c.GlobalDuration("call-timeout")
	}
	return cfg, cfg.Validate()
}

// session is a connected client plus what it needs to tear down.
type session struct {
	logger *zap.Logger
	client *client.Client
	proxy  *remoteservice.Proxy
	close  func() error
}

func connect(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	reg, closeRegistry, err := cfg.Registry.Open(logger)
	if err != nil {
		return nil, err
	}
	bal, err := loadbalance.New(cfg.Balancer, cfg.HashKey)
	if err != nil {
		closeRegistry()
		return nil, err
	}

	cl := client.NewClient(remoteservice.Descriptor, reg, bal,
		client.WithLogger(logger),
		client.WithDialTimeout(cfg.DialTimeout),
		client.WithCallTimeout(cfg.CallTimeout),
		client.WithHeartbeat(cfg.Heartbeat))
	cl.SetObserver(client.ObserverFuncs{
		OnConnected: func(conn client.Connection) {
			logger.Info("onServiceConnected",
				zap.String("target", conn.Target),
				zap.Int32("remotePID", conn.Identity),
				zap.Int("currentPID", os.Getpid()))
		},
		OnConnectFailed: func(target string, err error) {
			logger.Warn("bind failed", zap.String("target", target), zap.Error(err))
		},
		OnDisconnected: func(conn client.Connection, err error) {
			logger.Info("onServiceDisconnected", zap.String("target", conn.Target), zap.Error(err))
		},
	})

	if err := cl.Connect(context.Background(), cfg.Target); err != nil {
		closeRegistry()
		return nil, err
	}
	return &session{
		logger: logger,
		client: cl,
		proxy:  remoteservice.NewProxy(cl),
		close: func() error {
			cl.Disconnect()
			logger.Sync()
			return closeRegistry()
		},
	}, nil
}

func runCommand(c *cli.Context) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	defer s.close()

	// Each call failure is logged and the remaining calls still run.
	pid, err := s.proxy.GetPid()
	if err != nil {
		s.logger.Error("getPid", zap.Error(err))
	} else {
		s.logger.Info("pids", zap.Int("currentPID", os.Getpid()), zap.Int32("remotePID", pid))
	}
	if err := s.proxy.BasicTypes(12, 123, true, 123.4, 123.45, "服务端你好，我是客户端"); err != nil {
		s.logger.Error("basicTypes", zap.Error(err))
	}
	out, err := s.proxy.AddRectInOut(rect.New(1, 2, 3, 4))
	if err != nil {
		s.logger.Error("addRectInOut", zap.Error(err))
	} else {
		s.logger.Info("addRectInOut", zap.Stringer("rect", out))
	}
	return nil
}

func pidCommand(c *cli.Context) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	defer s.close()

	pid, err := s.proxy.GetPid()
	if err != nil {
		return err
	}
	fmt.Println(pid)
	return nil
}
