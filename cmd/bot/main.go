package main

import (
	"context"
	"errors"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mcadmsolutions/MiBotBinance/internal/bot"
	"github.com/mcadmsolutions/MiBotBinance/internal/config"
	"github.com/mcadmsolutions/MiBotBinance/internal/exchange"
	"github.com/mcadmsolutions/MiBotBinance/internal/execution"
	"github.com/mcadmsolutions/MiBotBinance/internal/health"
	"github.com/mcadmsolutions/MiBotBinance/internal/paper"
	"github.com/mcadmsolutions/MiBotBinance/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(getEnv("BOT_CONFIG", "internal/config/config.yaml"))
	if err != nil {
		fallback := util.NewLogger("binance-bot", "info")
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.Name, cfg.App.LogLevel)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rest := exchange.NewBinanceClient(
		cfg.Exchange.BaseURL,
		os.Getenv("API_KEY"),
		os.Getenv("API_SECRET"),
		log,
		exchange.WithRequestTimeout(cfg.Exchange.RequestTimeout()),
	)

	var client exchange.Client = rest
	if cfg.Exchange.QuoteSource == "stream" {
		stream := exchange.NewQuoteStream(rest, cfg.Exchange.WSURL, cfg.Strategy.Symbol, log)
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("quote stream stopped")
			}
		}()
		client = stream
	}

	if cfg.Exchange.Mode == "paper" {
		account := paper.NewAccount(cfg.Paper.StartingCash)
		recorders := []paper.FillRecorder{}
		if cfg.Paper.FillsPath != "" {
			recorder, err := paper.NewJSONLRecorder(cfg.Paper.FillsPath)
			if err != nil {
				log.Fatal().Err(err).Msg("open fill recorder")
			}
			defer recorder.Close()
			recorders = append(recorders, recorder)
		}
		client = paper.NewExchange(client, account, log, recorders...)
		log.Info().Float64("starting_cash", cfg.Paper.StartingCash).Msg("paper mode enabled")
	}

	executor := execution.NewExecutor(client, execution.Params{
		Symbol:        cfg.Strategy.Symbol,
		Quantity:      cfg.Strategy.Quantity,
		TakeProfitPct: cfg.Strategy.TakeProfitPct,
		StopLossPct:   cfg.Strategy.StopLossPct,
	}, log)

	runner := bot.NewRunner(client, executor, cfg.Strategy, log)
	go runner.Run(ctx)

	server := health.NewServer(cfg.App.Name, runner, log)
	if err := server.Run(ctx, cfg.App.HealthAddr); err != nil {
		log.Fatal().Err(err).Msg("health server")
	}
	log.Info().Msg("shutting down")
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
