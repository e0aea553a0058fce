package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentory/internal/domain"
	"rentory/internal/logging"
	"rentory/internal/stock"
	"rentory/internal/store"
	"rentory/internal/validation"
	"rentory/internal/xid"
)

// AdjustStock records a manual ADJUSTMENT movement with no transaction
// behind it. The manager PIN is checked by the caller.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustmentRequest) (domain.StockMovement, error) {
	ctx, span := s.tracer.Start(ctx, "service.AdjustStock", trace.WithAttributes(
		attribute.String("item_id", req.ItemID),
		attribute.String("location_id", req.LocationID),
	))
	defer span.End()

	v := s.check(req)
	change, _ := v.decimal(req.QuantityChange, "quantity_change")
	if err := v.err(); err != nil {
		return domain.StockMovement{}, err
	}
	if err := s.requireLocation(ctx, req.LocationID); err != nil {
		return domain.StockMovement{}, err
	}
	if _, err := s.loadItems(ctx, []string{req.ItemID}); err != nil {
		return domain.StockMovement{}, err
	}

	key := domain.StockKey{ItemID: req.ItemID, LocationID: req.LocationID}
	release, err := s.locker.Acquire(ctx, []domain.StockKey{key})
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("acquire stock locks: %w", err)
	}
	defer release()

	var movement domain.StockMovement
	err = s.runUnitOfWork(ctx, func(uow store.UnitOfWork, _ int) error {
		var err error
		movement, err = s.reconciler.ApplyMovement(ctx, uow, stock.MovementRequest{
			Key:           key,
			Type:          domain.MovementAdjustment,
			Quantity:      change,
			ReferenceType: domain.ReferenceManual,
			Notes:         strings.TrimSpace(req.Reason),
			CreatedBy:     actorName(ctx),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return domain.StockMovement{}, err
	}
	s.refreshCache(ctx, []domain.StockKey{key})

	s.logger.WithFields(logrus.Fields{
		"module":      "service",
		"item_id":     key.ItemID,
		"location_id": key.LocationID,
		"change":      change.String(),
		"actor":       movement.CreatedBy,
	}).Info("stock adjusted")
	return movement, nil
}

// RebuildStock replays the movement ledger for one key and, unless DryRun is
// set, rewrites a drifted level from it.
func (s *Service) RebuildStock(ctx context.Context, req domain.RebuildRequest) (domain.RebuildResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.RebuildStock", trace.WithAttributes(
		attribute.String("item_id", req.ItemID),
		attribute.String("location_id", req.LocationID),
		attribute.Bool("dry_run", req.DryRun),
	))
	defer span.End()

	if err := requireRole(ctx, "admin"); err != nil {
		return domain.RebuildResult{}, err
	}
	if err := s.validate(req); err != nil {
		return domain.RebuildResult{}, err
	}

	key := domain.StockKey{ItemID: req.ItemID, LocationID: req.LocationID}
	release, err := s.locker.Acquire(ctx, []domain.StockKey{key})
	if err != nil {
		return domain.RebuildResult{}, fmt.Errorf("acquire stock locks: %w", err)
	}
	defer release()

	var result domain.RebuildResult
	err = s.runUnitOfWork(ctx, func(uow store.UnitOfWork, _ int) error {
		var err error
		result, err = s.reconciler.Rebuild(ctx, uow, key, req.DryRun)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return domain.RebuildResult{}, err
	}
	if result.Repaired {
		s.refreshCache(ctx, []domain.StockKey{key})
	}
	if result.Drift || len(result.ChainBreaks) > 0 {
		logging.LogError(s.logger, "service", "RebuildStock", "ledger drift", result, store.ErrInvariantViolation)
	}
	return result, nil
}

// RebuildAll runs RebuildStock for every stored key and stops on the first
// hard failure.
func (s *Service) RebuildAll(ctx context.Context, dryRun bool) ([]domain.RebuildResult, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return nil, err
	}
	keys, err := s.repo.ListStockKeys(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]domain.RebuildResult, 0, len(keys))
	for _, key := range keys {
		result, err := s.RebuildStock(ctx, domain.RebuildRequest{ItemID: key.ItemID, LocationID: key.LocationID, DryRun: dryRun})
		if err != nil {
			return results, fmt.Errorf("rebuild %s: %w", key, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// GetStockLevel reads through the stock level cache. The level loaded on a
// miss only lands in the cache if no newer version was stored meanwhile.
func (s *Service) GetStockLevel(ctx context.Context, key domain.StockKey) (domain.StockLevel, error) {
	if details := keyDetails(key); len(details) > 0 {
		return domain.StockLevel{}, &ValidationError{Details: details}
	}

	cached, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WithField("module", "service").WithError(err).Warn("stock level cache read failed")
	}
	if hit {
		return *cached, nil
	}

	level, err := s.repo.GetStockLevel(ctx, key)
	if err != nil {
		return domain.StockLevel{}, notFound("Stock level", key.String(), err)
	}
	if err := s.cache.Set(ctx, *level, s.cacheTTL); err != nil {
		s.logger.WithField("module", "service").WithError(err).Warn("stock level cache write failed")
	}
	return *level, nil
}

// ListStockLevels returns a single cached level when both item and location
// are given, otherwise every matching level from storage.
func (s *Service) ListStockLevels(ctx context.Context, filter store.StockFilter) ([]domain.StockLevel, error) {
	if filter.ItemID != "" && filter.LocationID != "" {
		level, err := s.GetStockLevel(ctx, domain.StockKey{ItemID: filter.ItemID, LocationID: filter.LocationID})
		if errors.Is(err, store.ErrNotFound) {
			return []domain.StockLevel{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []domain.StockLevel{level}, nil
	}
	return s.repo.ListStockLevels(ctx, filter)
}

func (s *Service) ListMovements(ctx context.Context, filter store.MovementFilter) ([]domain.StockMovement, error) {
	return s.repo.ListMovements(ctx, filter)
}

func keyDetails(key domain.StockKey) []validation.Detail {
	var details []validation.Detail
	if !xid.Valid(key.ItemID) {
		details = append(details, validation.Detail{Type: "uuid_parsing", Loc: []any{"query", "item_id"}, Msg: "Input should be a valid UUID", Input: key.ItemID})
	}
	if !xid.Valid(key.LocationID) {
		details = append(details, validation.Detail{Type: "uuid_parsing", Loc: []any{"query", "location_id"}, Msg: "Input should be a valid UUID", Input: key.LocationID})
	}
	return details
}
