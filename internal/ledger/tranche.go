package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"go.uber.org/zap"

	"lendscope/internal/fixed"
	"lendscope/internal/model"
	"lendscope/internal/store"
)

// Yield reference windows in seconds.
const (
	window30Days = 30 * 24 * 3600
	window90Days = 90 * 24 * 3600
)

// updateTranchePrice applies a freshly observed token price. A price that
// is nil or not strictly positive is rejected and the prior price kept.
func (l *Ledger) updateTranchePrice(tranche *model.Tranche, price *big.Int) {
	if price == nil || price.Sign() <= 0 {
		l.logger.Warn("rejecting non-positive tranche price",
			zap.String("tranche", tranche.ID),
			zap.Stringer("price", price))
		return
	}
	tranche.TokenPrice = price
}

// ComputeTrancheYields refreshes a tranche's yield figures at a period
// boundary. The since-inception yield references the launch price of one
// ray; the windowed yields reference the snapshot taken at the period that
// started a window length earlier. A missing reference snapshot is normal
// while the tranche is younger than the window and is skipped.
func (l *Ledger) ComputeTrancheYields(ctx context.Context, tranche *model.Tranche, periodStart uint64) {
	tranche.YieldSinceInception = fixed.Yield(tranche.TokenPrice, fixed.Ray)

	tranche.Yield30DaysAnnualized = l.windowedYield(ctx, tranche, periodStart, window30Days)
	tranche.Yield90DaysAnnualized = l.windowedYield(ctx, tranche, periodStart, window90Days)
}

func (l *Ledger) windowedYield(ctx context.Context, tranche *model.Tranche, periodStart uint64, window uint64) *big.Int {
	if periodStart < window {
		return nil
	}
	referenceStart := periodStart - window
	reference, err := l.trancheSnapshotAt(ctx, tranche.ID, referenceStart)
	if err != nil {
		l.logger.Warn("yield computation failed",
			zap.String("tranche", tranche.ID),
			zap.Uint64("reference_period", referenceStart),
			zap.Error(err))
		return nil
	}
	if reference == nil {
		l.logger.Debug("no reference snapshot for yield window",
			zap.String("tranche", tranche.ID),
			zap.Uint64("reference_period", referenceStart))
		return nil
	}
	if reference.TokenPrice == nil || reference.TokenPrice.Sign() <= 0 {
		return nil
	}
	return fixed.AnnualizedYield(tranche.TokenPrice, reference.TokenPrice, periodStart, reference.PeriodStart)
}

// trancheSnapshotAt finds the tranche's snapshot for the period starting at
// periodStart, or nil if none was taken.
func (l *Ledger) trancheSnapshotAt(ctx context.Context, trancheID string, periodStart uint64) (*model.TrancheSnapshot, error) {
	var found *model.TrancheSnapshot
	value := strconv.FormatUint(periodStart, 10)
	err := store.QueryAll(ctx, l.store, model.KindTrancheSnapshot, "period_start", value, func(s *model.TrancheSnapshot) error {
		if s.Tranche.ID == trancheID {
			found = s
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query tranche snapshots at %d: %w", periodStart, err)
	}
	return found, nil
}
