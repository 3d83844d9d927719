package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkade-os/escrowd/internal/config"
	httpservice "github.com/arkade-os/escrowd/internal/interface/http"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version will be set during build time
var Version string

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "escrowd"
	app.Usage = "escrow claim engine for chat based transfers"
	app.UsageText = "Holds funds for unregistered recipients and settles or refunds them"
	app.Flags = config.Flags
	app.Action = mainAction

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainAction(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	svcConfig := httpservice.Config{
		Port:           cfg.Port,
		EnableMetrics:  cfg.EnableMetrics,
		RequestTimeout: cfg.RequestTimeout,
		WebhookSecret:  cfg.WebhookSecret,
	}

	svc, err := httpservice.NewService(svcConfig, cfg)
	if err != nil {
		return err
	}

	log.Infof("escrowd config: %s", cfg)

	log.RegisterExitHandler(svc.Stop)

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, os.Interrupt)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)

	return nil
}
