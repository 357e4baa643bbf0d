package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentinelquant/tradegate/alert"
	"github.com/sentinelquant/tradegate/config"
	"github.com/sentinelquant/tradegate/engine"
	"github.com/sentinelquant/tradegate/storage"
)

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              TRADEGATE - DECISION RISK GATE")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().
		Strs("accounts", cfg.Accounts).
		Bool("dry_run", cfg.DryRun).
		Msg("✅ Configuration loaded")

	// 2. Journal (decision audit + crash recovery)
	var journal *storage.Journal
	journal, err = storage.New(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("Journal unavailable, continuing without persistence")
		journal = nil
	} else {
		log.Info().Msg("✅ Journal initialized")
	}

	// 3. Telegram alerts (optional)
	notifier, err := alert.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram unavailable, continuing without alerts")
		notifier = nil
	}

	// 4. Decision engine. Dry run confirms fills instantly; a live fill
	// acknowledger would be wired here in its place.
	var eng *engine.Engine
	if journal != nil {
		eng = engine.New(cfg, journal, notifier, nil)
		if err := eng.Recover(journal); err != nil {
			log.Fatal().Err(err).Msg("Failed to recover account state")
		}
	} else {
		eng = engine.New(cfg, nil, notifier, nil)
	}
	log.Info().Msg("✅ Decision engine initialized")

	log.Info().Msg("")
	log.Info().Msg("╔══════════════════════════════════════════════════════════════╗")
	log.Info().Msg("║              🛡  RISK GATE - ONE DECISION AT A TIME           ║")
	log.Info().Msg("╠══════════════════════════════════════════════════════════════╣")
	log.Info().Msgf("║  Max positions: %-3d  Max leverage: %-3dx                      ║",
		cfg.Risk.MaxPositions, cfg.Risk.MaxLeverage)
	log.Info().Msgf("║  Min R:R: %-6s  Throttle: %d/hour, %d/day                    ║",
		cfg.Risk.MinRiskReward, cfg.Throttle.MaxPerHour, cfg.Throttle.MaxPerDay)
	log.Info().Msgf("║  Loss-streak pause: %d consecutive losses                     ║",
		cfg.Throttle.LossStreakPause)
	log.Info().Msg("╚══════════════════════════════════════════════════════════════╝")
	log.Info().Msg("")

	// ═══════════════════════════════════════════════════════════════════════════════
	// RUN - JSON lines on stdin, one submission per line, outcomes on stdout
	// ═══════════════════════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	out := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var sub engine.Submission
		if err := json.Unmarshal(line, &sub); err != nil {
			log.Error().Err(err).Msg("Unparseable submission line")
			continue
		}

		outcome := eng.Submit(ctx, sub)
		if err := out.Encode(outcome); err != nil {
			log.Error().Err(err).Msg("Failed to write outcome")
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("stdin read failed")
	}

	stats := eng.Stats()
	log.Info().
		Int64("submitted", stats.Submitted).
		Int64("applied", stats.Applied).
		Msg("Session complete")
}
