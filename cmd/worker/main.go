// Command worker runs maintenance against a gateway through its HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../../.env")
	}

	defaultURL := os.Getenv("GATEWAY_BASEURL")
	if defaultURL == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "2121"
		}
		defaultURL = "http://localhost:" + port
	}

	baseURL := pflag.String("base-url", defaultURL, "gateway base url")
	interval := pflag.Duration("interval", 5*time.Minute, "time between maintenance runs")
	cleanup := pflag.Bool("cleanup", true, "consolidate duplicate tenant sessions on every run")
	once := pflag.Bool("once", false, "run a single pass and exit")
	pflag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Str("component", "worker").Logger()

	apiKey := os.Getenv("AUTHENTICATION_API_KEY")
	if apiKey == "" {
		log.Fatal().Msg("AUTHENTICATION_API_KEY is not set")
	}

	w := NewWorker(NewGatewayClient(*baseURL, apiKey), *interval, *cleanup, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		w.Tick(ctx)
		return
	}
	log.Info().Str("gateway", *baseURL).Dur("interval", *interval).Msg("worker started")
	w.Run(ctx)
	log.Info().Msg("worker shutdown complete")
}
