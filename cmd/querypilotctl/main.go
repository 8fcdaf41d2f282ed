package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/duckmesh/querypilot/internal/cli/querypilotctl"
)

type environment struct {
	BaseURL    string        `env:"QUERYPILOT_API_URL" envDefault:"http://localhost:8080"`
	APIKey     string        `env:"QUERYPILOT_API_KEY"`
	Token      string        `env:"QUERYPILOT_TOKEN"`
	Timeout    time.Duration `env:"QUERYPILOT_CLI_TIMEOUT" envDefault:"10s"`
	AskTimeout time.Duration `env:"QUERYPILOT_CLI_ASK_TIMEOUT" envDefault:"2m"`
}

func main() {
	var cfg environment
	if err := env.Parse(&cfg); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := querypilotctl.Run(ctx, os.Args[1:], querypilotctl.Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Token:      cfg.Token,
		Timeout:    cfg.Timeout,
		AskTimeout: cfg.AskTimeout,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	})
	stop()
	os.Exit(code)
}
