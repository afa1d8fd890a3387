package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"lendscope/internal/fixed"
	"lendscope/internal/model"
)

// HandlePoolCreated registers a new pool, its currency and tranches, and
// opens epoch 1.
func (l *Ledger) HandlePoolCreated(ctx context.Context, ev *model.EventRecord) error {
	var data model.PoolCreatedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("decode poolCreated: %w", err)
	}
	maxReserve, err := model.ParseAmount(data.MaxReserve)
	if err != nil {
		return fmt.Errorf("poolCreated max reserve: %w", err)
	}

	currency := &model.Currency{ID: data.CurrencyID, Digits: data.CurrencyDigits}
	if err := l.store.Set(ctx, model.KindCurrency, currency.ID, currency); err != nil {
		return err
	}

	pool := model.NewPool(ev.PoolID, data.CurrencyID, maxReserve, ev.Timestamp, ev.BlockNumber)
	if err := l.savePool(ctx, pool); err != nil {
		return err
	}

	tranches := make([]*model.Tranche, 0, len(data.Tranches))
	for _, setup := range data.Tranches {
		tranche, err := newTrancheFromSetup(pool.ID, setup)
		if err != nil {
			return err
		}
		if err := l.saveTranche(ctx, tranche); err != nil {
			return err
		}
		tranches = append(tranches, tranche)
	}

	l.logger.Info("pool created",
		zap.String("pool", pool.ID),
		zap.String("currency", currency.ID),
		zap.Int("tranches", len(tranches)),
		zap.Uint64("block", ev.BlockNumber))

	return l.openEpoch(ctx, pool, 1, ev.Timestamp, tranches, nil)
}

// HandlePoolUpdated reconciles the pool's parameters and tranche set with
// the latest protocol configuration. Tranches absent from the update are
// deactivated, not deleted, so their history survives.
func (l *Ledger) HandlePoolUpdated(ctx context.Context, ev *model.EventRecord) error {
	var data model.PoolCreatedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("decode poolUpdated: %w", err)
	}
	pool, err := l.getPool(ctx, ev.PoolID)
	if err != nil {
		return err
	}
	if data.MaxReserve != "" {
		maxReserve, err := model.ParseAmount(data.MaxReserve)
		if err != nil {
			return fmt.Errorf("poolUpdated max reserve: %w", err)
		}
		pool.MaxReserve = maxReserve
	}
	if err := l.savePool(ctx, pool); err != nil {
		return err
	}

	existing, err := l.tranchesByPool(ctx, pool.ID)
	if err != nil {
		return err
	}
	byTrancheID := make(map[string]*model.Tranche, len(existing))
	for _, t := range existing {
		byTrancheID[t.TrancheID] = t
	}

	kept := make(map[string]bool, len(data.Tranches))
	for _, setup := range data.Tranches {
		kept[setup.TrancheID] = true
		tranche, ok := byTrancheID[setup.TrancheID]
		if !ok {
			tranche, err = newTrancheFromSetup(pool.ID, setup)
			if err != nil {
				return err
			}
			// A tranche added mid-pool joins order matching in the
			// currently open epoch.
			state := newEpochState(pool.ID, pool.CurrentEpoch, setup.TrancheID)
			if err := l.saveEpochState(ctx, state); err != nil {
				return err
			}
		} else {
			if err := applyTrancheSetup(tranche, setup); err != nil {
				return err
			}
			tranche.IsActive = true
		}
		if err := l.saveTranche(ctx, tranche); err != nil {
			return err
		}
	}
	for _, t := range existing {
		if kept[t.TrancheID] || !t.IsActive {
			continue
		}
		t.IsActive = false
		if err := l.saveTranche(ctx, t); err != nil {
			return err
		}
		l.logger.Info("tranche deactivated",
			zap.String("pool", pool.ID), zap.String("tranche", t.TrancheID))
	}
	return nil
}

// RefreshPoolState pulls the pool's reserves and valuation plus each active
// tranche's supply, price and debt from the protocol. Missing data is
// skipped, not fatal.
func (l *Ledger) RefreshPoolState(ctx context.Context, poolID string) error {
	pool, err := l.getPool(ctx, poolID)
	if err != nil {
		return err
	}
	details, ok, err := l.source.PoolDetails(ctx, poolID)
	if err != nil {
		return fmt.Errorf("pool details %s: %w", poolID, err)
	}
	if !ok {
		l.logger.Warn("pool details unavailable, keeping previous state",
			zap.String("pool", poolID))
		return nil
	}
	pool.TotalReserve = details.TotalReserve
	pool.AvailableReserve = details.AvailableReserve
	pool.MaxReserve = details.MaxReserve
	pool.NetAssetValue = details.NetAssetValue
	pool.ComputeValue()
	if err := l.savePool(ctx, pool); err != nil {
		return err
	}

	tranches, err := l.activeTranches(ctx, poolID)
	if err != nil {
		return err
	}
	for _, tranche := range tranches {
		supply, ok, err := l.source.TrancheSupply(ctx, poolID, tranche.TrancheID)
		if err != nil {
			return fmt.Errorf("tranche supply %s: %w", tranche.ID, err)
		}
		if ok {
			tranche.TokenSupply = supply
		}
		price, ok, err := l.source.TranchePrice(ctx, poolID, tranche.TrancheID)
		if err != nil {
			return fmt.Errorf("tranche price %s: %w", tranche.ID, err)
		}
		if ok {
			l.updateTranchePrice(tranche, price)
		}
		debt, ok, err := l.source.TrancheDebt(ctx, poolID, tranche.TrancheID)
		if err != nil {
			return fmt.Errorf("tranche debt %s: %w", tranche.ID, err)
		}
		if ok {
			tranche.Debt = debt
		}
		if err := l.saveTranche(ctx, tranche); err != nil {
			return err
		}
	}
	return nil
}

func newTrancheFromSetup(poolID string, setup model.TrancheSetup) (*model.Tranche, error) {
	tranche := &model.Tranche{
		ID:        model.TrancheEntityID(poolID, setup.TrancheID),
		PoolID:    poolID,
		TrancheID: setup.TrancheID,
		IsActive:  true,

		TokenPrice:  new(big.Int).Set(fixed.Ray),
		TokenSupply: big.NewInt(0),
		Debt:        big.NewInt(0),
	}
	tranche.ResetPeriodValues()
	if err := applyTrancheSetup(tranche, setup); err != nil {
		return nil, err
	}
	return tranche, nil
}

func applyTrancheSetup(tranche *model.Tranche, setup model.TrancheSetup) error {
	tranche.Index = setup.Index
	tranche.Seniority = setup.Seniority
	tranche.IsResidual = setup.IsResidual
	if setup.IsResidual {
		tranche.InterestRatePerSec = nil
		tranche.MinRiskBuffer = nil
		return nil
	}
	rate, err := model.ParseAmount(setup.InterestRatePerSec)
	if err != nil {
		return fmt.Errorf("tranche %s interest rate: %w", setup.TrancheID, err)
	}
	buffer, err := model.ParseAmount(setup.MinRiskBuffer)
	if err != nil {
		return fmt.Errorf("tranche %s risk buffer: %w", setup.TrancheID, err)
	}
	tranche.InterestRatePerSec = rate
	tranche.MinRiskBuffer = buffer
	return nil
}
