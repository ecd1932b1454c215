package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"gatebot/internal/app"
)

func main() {
	// .env is optional; real deployments use systemd environment files.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	a, err := app.New(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gatebot:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	runErr := a.Run(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Stop(shutdownCtx)

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "gatebot:", runErr)
		os.Exit(1)
	}
}
