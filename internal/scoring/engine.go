package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/marketdata"
)

// Signal direction labels. They match the database constants so evaluations
// flow into Signal rows without mapping.
const (
	SignalLong    = database.SignalTypeLong
	SignalShort   = database.SignalTypeShort
	SignalNeutral = database.SignalTypeNeutral
	SignalBuy     = database.SignalTypeBuy
	SignalSell    = database.SignalTypeSell
)

// Mode selects how directional votes map onto a tradable signal type.
type Mode string

const (
	// ModeFutures emits LONG/SHORT with a three-vote threshold both ways.
	ModeFutures Mode = "FUTURES"
	// ModeSpot emits BUY/SELL. The buy side fires at two votes since spot
	// swaps are the only way into a position.
	ModeSpot Mode = "SPOT"
)

// Confidence bounds applied after a knowledge adjustment.
const (
	knowledgeFloorConfidence = 50.0
	knowledgeCeilConfidence  = 95.0
)

const knowledgeQueryTimeout = 15 * time.Second

// DimensionResult is one dimension's verdict on a token.
type DimensionResult struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Signal      string  `json:"signal"`
	Description string  `json:"description"`
}

// Evaluation is the full scoring output for one token at one price.
type Evaluation struct {
	Symbol        string            `json:"symbol"`
	Chain         string            `json:"chain"`
	SignalType    string            `json:"signal_type"`
	Confidence    float64           `json:"confidence"`
	RawConfidence float64           `json:"raw_confidence"`
	LongVotes     int               `json:"long_votes"`
	ShortVotes    int               `json:"short_votes"`
	Dimensions    []DimensionResult `json:"dimensions"`
	DEXVariant    bool              `json:"dex_variant"`
	Plan          TradingPlan       `json:"plan"`
	Knowledge     *KnowledgeResult  `json:"knowledge,omitempty"`
	ModelVersion  string            `json:"model_version"`
	EvaluatedAt   time.Time         `json:"evaluated_at"`
}

// Reasoning joins the directional dimension verdicts into one line.
func (ev *Evaluation) Reasoning() string {
	parts := make([]string, 0, 4)
	for _, d := range ev.Dimensions {
		if d.Signal == SignalLong || d.Signal == SignalShort ||
			d.Signal == SignalBuy || d.Signal == SignalSell {
			parts = append(parts, d.Description)
		}
	}
	if len(parts) == 0 {
		return "no directional dimensions"
	}
	return strings.Join(parts, "; ")
}

// Engine turns comprehensive market data into scored signals. Output is
// deterministic for a given (data, weights, thresholds) triple; the optional
// knowledge provider only adjusts the final confidence.
type Engine struct {
	loader    *Loader
	knowledge KnowledgeProvider
	mode      Mode
	logger    zerolog.Logger
}

// NewEngine builds a scoring engine. knowledge may be nil to skip
// augmentation entirely.
func NewEngine(loader *Loader, knowledge KnowledgeProvider, mode Mode, logger zerolog.Logger) *Engine {
	if mode == "" {
		mode = ModeFutures
	}
	return &Engine{
		loader:    loader,
		knowledge: knowledge,
		mode:      mode,
		logger:    logger.With().Str("component", "scoring_engine").Logger(),
	}
}

// Evaluate scores every dimension, blends them into a confidence, applies
// the vote rule and derives the trading plan. DEX-only tokens (no futures
// market) drop the two leverage dimensions and re-normalise over the rest.
func (e *Engine) Evaluate(ctx context.Context, data *marketdata.ComprehensiveData) (*Evaluation, error) {
	if data == nil {
		return nil, fmt.Errorf("no market data to evaluate")
	}
	if data.CurrentPrice <= 0 {
		return nil, fmt.Errorf("no current price for %s", data.Symbol)
	}

	weights := e.loader.Weights()
	thresholds := e.loader.Thresholds()

	dexVariant := !data.HasFutures

	dims := []DimensionResult{
		scoreOIFunding(data, thresholds),
		scoreTrend(data),
		scoreCandle(data),
		scoreVolume(data, thresholds),
		scoreKeyLevels(data, thresholds),
		scoreRSI(data, thresholds),
		scoreMACD(data),
		scorePullbackRisk(data, thresholds),
		scoreLiquidityRisk(data),
		scoreVolatilityRisk(data),
		scoreLiquidationRisk(data, thresholds),
		scoreNewTokenRisk(data),
		scoreWhaleRisk(data),
		scoreDivergence(data),
	}

	var weightSum, blended float64
	longVotes, shortVotes := 0, 0

	for i := range dims {
		d := &dims[i]

		if math.IsNaN(d.Score) || math.IsInf(d.Score, 0) {
			e.logger.Warn().
				Str("symbol", data.Symbol).
				Str("dimension", d.Key).
				Msg("Dimension produced a non-finite score, treating as 0")
			d.Score = 0
		}
		d.Score = clamp(d.Score, 0, 100)

		w := weights.Weight(d.Key)
		if dexVariant && (d.Key == DimOIFunding || d.Key == DimLiquidationRisk) {
			w = 0
		}
		d.Weight = w

		weightSum += w
		blended += w * d.Score

		switch d.Signal {
		case SignalLong:
			longVotes++
		case SignalShort:
			shortVotes++
		}
	}

	rawConfidence := 0.0
	if weightSum > 0 {
		rawConfidence = clamp(blended/weightSum, 0, 100)
	}

	signalType := e.voteSignal(longVotes, shortVotes, thresholds)

	eval := &Evaluation{
		Symbol:        data.Symbol,
		Chain:         data.Chain,
		SignalType:    signalType,
		Confidence:    rawConfidence,
		RawConfidence: rawConfidence,
		LongVotes:     longVotes,
		ShortVotes:    shortVotes,
		Dimensions:    dims,
		DEXVariant:    dexVariant,
		Plan:          BuildTradingPlan(signalType, data.CurrentPrice),
		ModelVersion:  weights.Version,
		EvaluatedAt:   data.FetchedAt,
	}

	if e.knowledge != nil && signalType != SignalNeutral {
		e.augment(ctx, eval)
	}

	e.logger.Info().
		Str("symbol", data.Symbol).
		Str("signal_type", signalType).
		Float64("confidence", eval.Confidence).
		Int("long_votes", longVotes).
		Int("short_votes", shortVotes).
		Bool("dex_variant", dexVariant).
		Msg("Token evaluated")

	return eval, nil
}

// voteSignal applies the dimension vote rule. A side needs the minimum vote
// count and strictly more votes than the other side.
func (e *Engine) voteSignal(longVotes, shortVotes int, th *ThresholdSet) string {
	longMin := int(th.Value(ThresholdVoteMin))
	shortMin := longMin
	if e.mode == ModeSpot {
		longMin = int(th.Value(ThresholdVoteMinSpot))
	}

	switch {
	case longVotes >= longMin && longVotes > shortVotes:
		if e.mode == ModeSpot {
			return SignalBuy
		}
		return SignalLong
	case shortVotes >= shortMin && shortVotes > longVotes:
		if e.mode == ModeSpot {
			return SignalSell
		}
		return SignalShort
	default:
		return SignalNeutral
	}
}

// augment queries the knowledge provider and folds its adjustment into the
// final confidence. Failures keep the raw confidence.
func (e *Engine) augment(ctx context.Context, eval *Evaluation) {
	kctx, cancel := context.WithTimeout(ctx, knowledgeQueryTimeout)
	defer cancel()

	result, err := e.knowledge.QueryHistoricalCases(kctx, eval.Symbol, eval.SignalType, marketCondition(eval.Dimensions))
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("symbol", eval.Symbol).
			Msg("Knowledge query failed, keeping raw confidence")
		return
	}

	eval.Knowledge = result
	eval.Confidence = clamp(eval.RawConfidence+result.Adjustment, knowledgeFloorConfidence, knowledgeCeilConfidence)
}

// marketCondition labels the market from the trend dimension's verdict.
func marketCondition(dims []DimensionResult) string {
	for _, d := range dims {
		if d.Key != DimTrend {
			continue
		}
		switch d.Signal {
		case SignalLong:
			return "UPTREND"
		case SignalShort:
			return "DOWNTREND"
		}
	}
	return "SIDEWAYS"
}

// BuildSignal converts an evaluation into an ACTIVE signal row expiring 24h
// from now. Non-finite numerics are stored as zero with a warning.
func (e *Engine) BuildSignal(eval *Evaluation, data *marketdata.ComprehensiveData, source string, now time.Time) *database.Signal {
	expires := now.Add(24 * time.Hour)

	signal := &database.Signal{
		ID:                 "sig_" + uuid.NewString(),
		TokenSymbol:        data.Symbol,
		Chain:              data.Chain,
		ContractAddress:    data.ContractAddress,
		SignalType:         eval.SignalType,
		Confidence:         e.sanitize(eval.Confidence, "confidence", data.Symbol),
		EntryPriceMin:      e.sanitize(eval.Plan.EntryMin, "entry_price_min", data.Symbol),
		EntryPriceMax:      e.sanitize(eval.Plan.EntryMax, "entry_price_max", data.Symbol),
		StopLoss:           e.sanitize(eval.Plan.StopLoss, "stop_loss", data.Symbol),
		TakeProfits:        make([]float64, len(eval.Plan.TakeProfits)),
		CurrentPrice:       e.sanitize(data.CurrentPrice, "current_price", data.Symbol),
		PredictedDirection: predictedDirection(eval.SignalType),
		PredictedReturn:    e.sanitize(predictedReturn(eval.Plan, data.CurrentPrice), "predicted_return", data.Symbol),
		Reasoning:          eval.Reasoning(),
		Source:             source,
		IsAlphaToken:       true,
		ModelVersion:       eval.ModelVersion,
		Status:             database.SignalStatusActive,
		ExpiresAt:          &expires,
	}

	for i, tp := range eval.Plan.TakeProfits {
		signal.TakeProfits[i] = e.sanitize(tp, "take_profit", data.Symbol)
	}

	if eval.Knowledge != nil {
		answer := eval.Knowledge.Answer
		adjustment := eval.Knowledge.Adjustment
		caseCount := eval.Knowledge.CaseCount
		signal.KnowledgeAnswer = &answer
		signal.KnowledgeAdjustment = &adjustment
		signal.KnowledgeCaseCount = &caseCount
	}

	return signal
}

func predictedDirection(signalType string) string {
	switch signalType {
	case SignalLong, SignalBuy:
		return "UP"
	case SignalShort, SignalSell:
		return "DOWN"
	default:
		return "SIDEWAYS"
	}
}

// predictedReturn is the percentage move to the first take-profit.
func predictedReturn(plan TradingPlan, price float64) float64 {
	if len(plan.TakeProfits) == 0 || price <= 0 {
		return 0
	}
	return (plan.TakeProfits[0] - price) / price * 100
}

func (e *Engine) sanitize(v float64, field, symbol string) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		e.logger.Warn().
			Str("symbol", symbol).
			Str("field", field).
			Msg("Non-finite value in signal field, storing zero")
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
