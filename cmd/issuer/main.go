package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coolbank/cardflow/issuer"
	"golang.org/x/exp/slog"
)

func main() {
	configPath := flag.String("config", os.Getenv("CARDFLOW_CONFIG"), "path to a YAML config file")
	flag.Parse()

	config, err := issuer.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.SlogLevel()}))

	app := issuer.NewApp(logger, config)
	if err := app.Start(); err != nil {
		logger.Error("starting issuer", "err", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Shutdown()
}
