// Command poctl is a tiny CLI for one-shot PocketOption operations —
// balance check, placing a single trade, fetching candle history — used
// in integration tests and manual smoke-testing. It is still programmatic,
// not a substitute for a human trading GUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/config"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/credstore"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/runner"
	"github.com/dkowalczyk/pocketoption-engine/internal/pocketoption"
	"github.com/dkowalczyk/pocketoption-engine/internal/pocketoption/modules"
)

const readyTimeout = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var err error
	switch cmd {
	case "balance":
		err = runBalance(args, logger)
	case "buy":
		err = runBuy(args, logger)
	case "candles":
		err = runCandles(args, logger)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "poctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: poctl <balance|buy|candles> -config=config.toml [flags]")
}

// connect loads cfg, builds a bare client with no admin surface or
// optional infra, and starts it in the background. The returned stop
// function cancels the session and waits for Run to return.
func connect(configPath string, logger *slog.Logger) (*pocketoption.Client, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	ssid, err := credstore.Load(credstore.Config{
		RawSSID:           cfg.Credential.RawSSID,
		EncryptedSSIDPath: cfg.Credential.EncryptedSSIDPath,
		Password:          cfg.Credential.EncryptedSSIDPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("resolving session credential: %w", err)
	}

	kind := domain.CredentialReal
	if cfg.Credential.Demo {
		kind = domain.CredentialDemo
	}
	cred := domain.Credential{Kind: kind, UID: cfg.Credential.UID, Demo: cfg.Credential.Demo}

	engineCfg := pocketoption.DefaultConfig()
	engineCfg.Endpoints = cfg.Connector.Endpoints
	engineCfg.EndpointOverride = cfg.Connector.EndpointOverride
	engineCfg.RegionListURL = cfg.Connector.RegionListURL
	engineCfg.HandshakeTimeout = cfg.Connector.HandshakeTimeout.Duration
	engineCfg.Backoff = runner.BackoffConfig{Base: cfg.Reconnect.Base.Duration, Cap: cfg.Reconnect.Cap.Duration}
	engineCfg.MinAmount = cfg.MinAmount
	engineCfg.MaxAmount = cfg.MaxAmount

	client := pocketoption.New(engineCfg, cred, ssid, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	select {
	case <-client.AssetsReady():
	case <-time.After(readyTimeout):
		cancel()
		<-done
		return nil, nil, fmt.Errorf("timed out after %s waiting for asset table", readyTimeout)
	}

	stop := func() {
		client.Shutdown()
		cancel()
		<-done
	}
	return client, stop, nil
}

func runBalance(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "path to configuration file")
	fs.Parse(args)

	client, stop, err := connect(*configPath, logger)
	if err != nil {
		return err
	}
	defer stop()

	balance, known := client.Balance()
	if !known {
		return fmt.Errorf("balance not yet reported by the server")
	}
	fmt.Printf("%.2f\n", balance)
	return nil
}

func runBuy(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("buy", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "path to configuration file")
	asset := fs.String("asset", "", "asset symbol, e.g. EURUSD_otc")
	amount := fs.Float64("amount", 1, "stake amount")
	durationS := fs.Int64("duration", 60, "option duration in seconds")
	direction := fs.String("direction", "call", "call or put")
	fs.Parse(args)

	if *asset == "" {
		return fmt.Errorf("-asset is required")
	}
	dir := domain.DirectionCall
	if *direction == "put" {
		dir = domain.DirectionPut
	}

	client, stop, err := connect(*configPath, logger)
	if err != nil {
		return err
	}
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deal, err := client.Trades().Buy(ctx, modules.BuyRequest{
		Asset:     *asset,
		Amount:    *amount,
		Direction: dir,
		DurationS: *durationS,
	})
	if err != nil {
		return err
	}
	fmt.Printf("trade %s opened: %s %.2f for %ds\n", deal.TradeID, *asset, *amount, *durationS)
	return nil
}

func runCandles(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("candles", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "path to configuration file")
	asset := fs.String("asset", "", "asset symbol, e.g. EURUSD_otc")
	period := fs.Int64("period", 60, "candle period in seconds")
	count := fs.Int("count", 100, "number of candles to request")
	fs.Parse(args)

	if *asset == "" {
		return fmt.Errorf("-asset is required")
	}

	client, stop, err := connect(*configPath, logger)
	if err != nil {
		return err
	}
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	candles, err := client.Candles().GetCandles(ctx, *asset, *period, *count)
	if err != nil {
		return err
	}
	for _, c := range candles {
		fmt.Printf("%d\t%.5f\t%.5f\t%.5f\t%.5f\n", c.Time, c.Open, c.High, c.Low, c.Close)
	}
	return nil
}
