package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/database"
)

// Dimension keys. They name weight entries in the active WEIGHTS config and
// the Key field of every DimensionResult.
const (
	DimOIFunding       = "oi_funding"
	DimTrend           = "trend"
	DimCandle          = "candle"
	DimVolume          = "volume"
	DimKeyLevels       = "key_levels"
	DimRSI             = "rsi"
	DimMACD            = "macd"
	DimPullbackRisk    = "pullback_risk"
	DimLiquidityRisk   = "liquidity_risk"
	DimVolatilityRisk  = "volatility_risk"
	DimLiquidationRisk = "liquidation_risk"
	DimNewTokenRisk    = "new_token_risk"
	DimWhaleRisk       = "whale_risk"
	DimDivergence      = "divergence"
)

// Threshold keys in the active THRESHOLDS config.
const (
	ThresholdRSIOversold        = "rsi_oversold"
	ThresholdRSIOverbought      = "rsi_overbought"
	ThresholdVolumeSurge        = "volume_surge_ratio"
	ThresholdVolumeModerate     = "volume_moderate_ratio"
	ThresholdVolumeDecline      = "volume_decline_ratio"
	ThresholdOIChangePct        = "oi_change_pct"
	ThresholdFundingRateHigh    = "funding_rate_high"
	ThresholdPullbackExtremePct = "pullback_extreme_pct"
	ThresholdKeyLevelProximity  = "key_level_proximity_pct"
	ThresholdVoteMin            = "vote_min"
	ThresholdVoteMinSpot        = "vote_min_spot"
)

const defaultsVersion = "v2.0-defaults"

// DefaultWeights returns the compiled-in dimension weights. They do not sum
// to exactly 1.0; the engine normalises at use time.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		DimOIFunding:       0.16,
		DimTrend:           0.16,
		DimCandle:          0.12,
		DimVolume:          0.08,
		DimKeyLevels:       0.06,
		DimRSI:             0.08,
		DimMACD:            0.02,
		DimPullbackRisk:    0.08,
		DimLiquidityRisk:   0.10,
		DimVolatilityRisk:  0.06,
		DimLiquidationRisk: 0.04,
		DimNewTokenRisk:    0.03,
		DimWhaleRisk:       0.02,
		DimDivergence:      0.02,
	}
}

// DefaultThresholds returns the compiled-in dimension cutoffs.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		ThresholdRSIOversold:        30,
		ThresholdRSIOverbought:      70,
		ThresholdVolumeSurge:        2.0,
		ThresholdVolumeModerate:     1.5,
		ThresholdVolumeDecline:      0.5,
		ThresholdOIChangePct:        10,
		ThresholdFundingRateHigh:    0.001,
		ThresholdPullbackExtremePct: 30,
		ThresholdKeyLevelProximity:  2.0,
		ThresholdVoteMin:            3,
		ThresholdVoteMinSpot:        2,
	}
}

// WeightSet is one immutable snapshot of dimension weights.
type WeightSet struct {
	Version string
	Values  map[string]float64
}

// Weight returns the configured weight for a dimension key, falling back to
// the compiled-in default when the active config omits it.
func (w *WeightSet) Weight(key string) float64 {
	if v, ok := w.Values[key]; ok {
		return v
	}
	return DefaultWeights()[key]
}

// ThresholdSet is one immutable snapshot of dimension cutoffs.
type ThresholdSet struct {
	Version string
	Values  map[string]float64
}

// Value returns the configured threshold, falling back to the compiled-in
// default when the active config omits it.
func (t *ThresholdSet) Value(key string) float64 {
	if v, ok := t.Values[key]; ok {
		return v
	}
	return DefaultThresholds()[key]
}

// ConfigStore reads active scoring config rows.
type ConfigStore interface {
	GetActiveModelConfig(ctx context.Context, configType string) (*database.ModelConfig, error)
}

// Loader holds the active weight and threshold sets and swaps them
// atomically on reload. Readers never block.
type Loader struct {
	store  ConfigStore
	logger zerolog.Logger

	weights    atomic.Pointer[WeightSet]
	thresholds atomic.Pointer[ThresholdSet]
}

// NewLoader seeds the loader with the compiled-in defaults. Call Reload to
// pick up the active database rows.
func NewLoader(store ConfigStore, logger zerolog.Logger) *Loader {
	l := &Loader{
		store:  store,
		logger: logger.With().Str("component", "weights_loader").Logger(),
	}
	l.weights.Store(&WeightSet{Version: defaultsVersion, Values: DefaultWeights()})
	l.thresholds.Store(&ThresholdSet{Version: defaultsVersion, Values: DefaultThresholds()})
	return l
}

// Weights returns the active weight snapshot.
func (l *Loader) Weights() *WeightSet {
	return l.weights.Load()
}

// Thresholds returns the active threshold snapshot.
func (l *Loader) Thresholds() *ThresholdSet {
	return l.thresholds.Load()
}

// Reload reads the active WEIGHTS and THRESHOLDS rows and swaps both
// snapshots. A missing row falls back to the compiled-in defaults; a store
// error keeps the current snapshots and is returned to the caller.
func (l *Loader) Reload(ctx context.Context) error {
	weights, err := l.loadWeights(ctx)
	if err != nil {
		return err
	}

	thresholds, err := l.loadThresholds(ctx)
	if err != nil {
		return err
	}

	l.weights.Store(weights)
	l.thresholds.Store(thresholds)

	l.logger.Info().
		Str("weights_version", weights.Version).
		Str("thresholds_version", thresholds.Version).
		Msg("Scoring config reloaded")

	return nil
}

func (l *Loader) loadWeights(ctx context.Context) (*WeightSet, error) {
	cfg, err := l.store.GetActiveModelConfig(ctx, database.ModelConfigWeights)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			l.logger.Warn().Msg("No active WEIGHTS config, using compiled-in defaults")
			return &WeightSet{Version: defaultsVersion, Values: DefaultWeights()}, nil
		}
		return nil, fmt.Errorf("failed to load weights config: %w", err)
	}

	return &WeightSet{Version: cfg.Version, Values: cfg.ConfigData}, nil
}

func (l *Loader) loadThresholds(ctx context.Context) (*ThresholdSet, error) {
	cfg, err := l.store.GetActiveModelConfig(ctx, database.ModelConfigThresholds)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			l.logger.Warn().Msg("No active THRESHOLDS config, using compiled-in defaults")
			return &ThresholdSet{Version: defaultsVersion, Values: DefaultThresholds()}, nil
		}
		return nil, fmt.Errorf("failed to load thresholds config: %w", err)
	}

	return &ThresholdSet{Version: cfg.Version, Values: cfg.ConfigData}, nil
}
