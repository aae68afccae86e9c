// scoring-report evaluates one token through the scoring engine and prints
// the dimension table. It runs against the mock provider by default so
// weights changes can be sanity-checked without touching live endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"alpha-trade-engine/config"
	"alpha-trade-engine/internal/marketdata"
	"alpha-trade-engine/internal/scoring"
)

func main() {
	var (
		symbol   = flag.String("symbol", "", "token symbol to evaluate (required)")
		contract = flag.String("contract", "", "token contract address")
		chain    = flag.String("chain", "BSC", "chain name (BSC or BASE)")
		mode     = flag.String("mode", "SPOT", "vote mode: SPOT or FUTURES")
		live     = flag.Bool("live", false, "fetch live market data instead of the simulator")
	)
	flag.Parse()

	if *symbol == "" {
		fmt.Println("usage: scoring-report -symbol PEPE [-contract 0x...] [-chain BSC] [-mode SPOT] [-live]")
		os.Exit(1)
	}

	_ = godotenv.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var provider marketdata.Provider
	if *live {
		alpha := marketdata.NewAlphaClient(cfg.MarketDataConfig.AlphaAPIKey, cfg.MarketDataConfig.AlphaAPISecret, cfg.MarketDataConfig.AlphaBaseURL)
		dex := marketdata.NewDexScreenerClient(cfg.MarketDataConfig.DexScreenerBaseURL)
		provider = marketdata.NewService(alpha, dex, nil, logger)
	} else {
		provider = marketdata.NewMockProvider()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := provider.GetComprehensiveData(ctx, marketdata.TokenRef{
		Symbol:   *symbol,
		Contract: *contract,
		Chain:    *chain,
	})
	if err != nil {
		fmt.Printf("Failed to fetch market data for %s: %v\n", *symbol, err)
		os.Exit(1)
	}

	// Compiled-in weights; run against a database row set via the ops
	// server when tuning production values.
	loader := scoring.NewLoader(nil, logger)

	var knowledge scoring.KnowledgeProvider
	if cfg.AIConfig.Enabled && cfg.AIConfig.DeepSeekAPIKey != "" {
		knowledge = scoring.NewDeepSeekProvider(cfg.AIConfig.DeepSeekAPIKey, cfg.AIConfig.LLMModel, cfg.AIConfig.Timeout, logger)
	}

	engine := scoring.NewEngine(loader, knowledge, scoring.Mode(strings.ToUpper(*mode)), logger)

	eval, err := engine.Evaluate(ctx, data)
	if err != nil {
		fmt.Printf("Evaluation failed: %v\n", err)
		os.Exit(1)
	}

	printReport(eval, data)
}

func printReport(eval *scoring.Evaluation, data *marketdata.ComprehensiveData) {
	line := strings.Repeat("=", 78)

	fmt.Println(line)
	fmt.Printf("📊 SCORING REPORT  %s (%s)\n", eval.Symbol, eval.Chain)
	fmt.Println(line)
	fmt.Printf("Price:        %.8f\n", data.CurrentPrice)
	fmt.Printf("24h change:   %+.2f%%\n", data.PriceChange24hPct)
	fmt.Printf("Model:        %s\n", eval.ModelVersion)
	if eval.DEXVariant {
		fmt.Println("Variant:      DEX-only (leverage dimensions excluded)")
	}
	fmt.Println()

	fmt.Printf("%-22s %7s %7s %-8s %s\n", "DIMENSION", "SCORE", "WEIGHT", "SIGNAL", "DESCRIPTION")
	fmt.Println(strings.Repeat("-", 78))
	for _, d := range eval.Dimensions {
		fmt.Printf("%-22s %7.1f %7.3f %-8s %s\n", d.Name, d.Score, d.Weight, d.Signal, d.Description)
	}
	fmt.Println(strings.Repeat("-", 78))

	fmt.Printf("Votes:        %d long / %d short\n", eval.LongVotes, eval.ShortVotes)
	fmt.Printf("Signal:       %s\n", eval.SignalType)
	fmt.Printf("Confidence:   %.1f", eval.Confidence)
	if eval.Knowledge != nil {
		fmt.Printf("  (raw %.1f, knowledge %+.1f over %d cases)", eval.RawConfidence, eval.Knowledge.Adjustment, eval.Knowledge.CaseCount)
	}
	fmt.Println()

	if eval.SignalType != scoring.SignalNeutral {
		fmt.Println()
		fmt.Printf("Entry zone:   %.8f - %.8f\n", eval.Plan.EntryMin, eval.Plan.EntryMax)
		fmt.Printf("Stop loss:    %.8f\n", eval.Plan.StopLoss)
		for i, tp := range eval.Plan.TakeProfits {
			fmt.Printf("Take profit %d: %.8f\n", i+1, tp)
		}
	}
	fmt.Println(line)
}
