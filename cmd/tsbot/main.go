// Program entrypoint for the pair-trading core.
//
// Boot sequence:
//  1. config.LoadDotEnv()  – read .env (no shell exports required)
//  2. cfg := config.Load() – build runtime Config from TS_-prefixed vars
//  3) wire store/gateway/notifier/cipher/runner
//  4) run the position reconciler once
//  5) build and start the scheduler (jobs begin firing after reconciliation)
//  6) start the /healthz + /metrics HTTP server
//  7) block until SIGINT/SIGTERM, then shut everything down
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tscore/statarb/internal/config"
	"github.com/tscore/statarb/internal/cryptutil"
	"github.com/tscore/statarb/internal/cycle"
	"github.com/tscore/statarb/internal/emergency"
	"github.com/tscore/statarb/internal/exchange"
	"github.com/tscore/statarb/internal/marketdata"
	"github.com/tscore/statarb/internal/notify"
	"github.com/tscore/statarb/internal/reconciler"
	"github.com/tscore/statarb/internal/scheduler"
	"github.com/tscore/statarb/internal/store"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	configureLogging(cfg.LogLevel)

	cipher, err := cryptutil.NewAEAD(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	if err := st.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	gateway := marketdata.New(mockCandleSource{}, mockQuoteSource{})
	notifier := notify.New(cfg.TelegramBotToken, cfg.TelegramChatIDs)

	clientFactory := func(creds exchange.Credentials) *exchange.Client {
		return exchange.NewMockClient(creds)
	}
	activeClient := func() (*exchange.Client, error) {
		cred, err := st.GetActiveCredential()
		if err != nil {
			return nil, fmt.Errorf("load active credential: %w", err)
		}
		if cred == nil {
			return nil, fmt.Errorf("no active credential")
		}
		hexKey, err := cipher.DecryptHexString(cred.PrivateKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential: %w", err)
		}
		return clientFactory(exchange.Credentials{
			Host: cred.Host, PrivateKeyHex: hexKey,
			APIKeyIndex: cred.APIKeyIndex, AccountIndex: cred.AccountIndex,
		}), nil
	}

	settlementWait := time.Duration(cfg.SettlementConfirmWait) * time.Millisecond
	runner := cycle.NewRunner(st, gateway, notifier, cipher, clientFactory, settlementWait)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rec := reconciler.New(st, activeClient, notifier)
	if res, err := rec.Run(ctx); err != nil {
		log.Warn().Err(err).Msg("position reconciliation failed, continuing startup")
	} else {
		log.Info().
			Int("orphans_deleted", res.OrphansDeleted).
			Int("partial_warnings", res.PartialWarnings).
			Int("stale_deleted", res.StaleDeleted).
			Int("auto_recovered", res.AutoRecovered).
			Int("untracked_warned", res.UntrackedWarned).
			Msg("position reconciliation complete")
	}

	sched := scheduler.New(func(pairID uint) { runner.Run(ctx, pairID) })
	pairs, err := st.ListEnabledPairs()
	if err != nil {
		log.Fatal().Err(err).Msg("list enabled pairs")
	}
	for i := range pairs {
		if err := sched.AddOrReplace(pairs[i].ID, pairs[i].ScheduleInterval); err != nil {
			log.Error().Str("pair", pairs[i].Name).Err(err).Msg("schedule pair failed")
		}
	}
	sched.Start()
	defer sched.Stop()

	_ = emergency.New(st, gateway, activeClient, sched) // wired for operator-triggered stop, invoked by the (out-of-scope) REST surface

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}
	go func() {
		log.Info().Int("port", cfg.MetricsPort).Msg("serving /healthz and /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, stopping scheduler")

	shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

func configureLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// mockCandleSource/mockQuoteSource stand in for the real exchange-backed
// implementations of marketdata.CandleSource/QuoteSource, which depend on
// the native SDK this core treats as out of scope.
type mockCandleSource struct{}

func (mockCandleSource) FetchCandles(ctx context.Context, market int, interval string, n int) ([]exchange.Candle, error) {
	return nil, fmt.Errorf("no native candle source wired for market %d", market)
}

type mockQuoteSource struct{}

func (mockQuoteSource) FetchQuote(ctx context.Context, market int) (exchange.Quote, error) {
	return exchange.Quote{}, fmt.Errorf("no native quote source wired for market %d", market)
}
