package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentory/internal/domain"
	"rentory/internal/logging"
	"rentory/internal/store"
	"rentory/internal/xid"
)

type MovementRequest struct {
	Key               domain.StockKey
	Type              domain.MovementType
	Quantity          decimal.Decimal
	TransactionID     string
	TransactionLineID string
	ReferenceType     domain.ReferenceType
	Notes             string
	CreatedBy         string
}

type Reconciler struct {
	logger *logrus.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewReconciler(logger *logrus.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{
		logger: logger,
		tracer: otel.Tracer("rentory/stock"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ApplyMovement locks the level for req.Key inside uow, checks it against the
// ledger, applies the movement and writes both the level and the movement.
// Nothing is written when an error is returned; the caller's unit of work
// decides whether earlier writes survive.
func (r *Reconciler) ApplyMovement(ctx context.Context, uow store.UnitOfWork, req MovementRequest) (domain.StockMovement, error) {
	ctx, span := r.tracer.Start(ctx, "stock.ApplyMovement", trace.WithAttributes(
		attribute.String("item_id", req.Key.ItemID),
		attribute.String("location_id", req.Key.LocationID),
		attribute.String("movement_type", string(req.Type)),
	))
	defer span.End()

	level, err := uow.LockStockLevel(ctx, req.Key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		level = &domain.StockLevel{
			ID:                xid.New(),
			ItemID:            req.Key.ItemID,
			LocationID:        req.Key.LocationID,
			QuantityOnHand:    decimal.Zero,
			QuantityAvailable: decimal.Zero,
			QuantityOnRent:    decimal.Zero,
		}
	case err != nil:
		span.RecordError(err)
		return domain.StockMovement{}, err
	}

	sequence := int64(1)
	if level.Version > 0 {
		last, err := r.verifyLedger(ctx, uow, *level)
		if err != nil {
			span.RecordError(err)
			return domain.StockMovement{}, err
		}
		if last != nil {
			sequence = last.Sequence + 1
		}
	}

	next, delta, err := Transition(*level, req.Type, req.Quantity)
	if err != nil {
		return domain.StockMovement{}, err
	}

	referenceType := req.ReferenceType
	if referenceType == "" {
		referenceType = domain.ReferenceTransaction
	}
	movement := domain.StockMovement{
		ID:                xid.New(),
		StockLevelID:      level.ID,
		Sequence:          sequence,
		ItemID:            req.Key.ItemID,
		LocationID:        req.Key.LocationID,
		TransactionID:     req.TransactionID,
		TransactionLineID: req.TransactionLineID,
		MovementType:      req.Type,
		ReferenceType:     referenceType,
		QuantityChange:    delta.OnHand,
		QuantityBefore:    level.QuantityOnHand,
		QuantityAfter:     next.QuantityOnHand,
		AvailableChange:   delta.Available,
		OnRentChange:      delta.OnRent,
		Notes:             req.Notes,
		CreatedBy:         req.CreatedBy,
		CreatedAt:         r.now(),
	}
	if !movement.QuantityBefore.Add(movement.QuantityChange).Equal(movement.QuantityAfter) || !next.Balanced() {
		err := fmt.Errorf("%w: computed movement does not balance for %s", store.ErrInvariantViolation, req.Key)
		logging.LogError(r.logger, "stock", "ApplyMovement", "post-transition check", movement, err)
		return domain.StockMovement{}, err
	}

	if err := uow.SaveStockLevel(ctx, &next); err != nil {
		span.RecordError(err)
		return domain.StockMovement{}, err
	}
	if err := uow.InsertMovement(ctx, movement); err != nil {
		span.RecordError(err)
		return domain.StockMovement{}, err
	}
	return movement, nil
}

// verifyLedger checks that the stored level matches the end of its movement
// chain. A mismatch means a write bypassed the reconciler.
func (r *Reconciler) verifyLedger(ctx context.Context, uow store.UnitOfWork, level domain.StockLevel) (*domain.StockMovement, error) {
	last, err := uow.LastMovement(ctx, level.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var problem string
	switch {
	case !level.Balanced():
		problem = fmt.Sprintf("on_hand %s != available %s + on_rent %s", level.QuantityOnHand, level.QuantityAvailable, level.QuantityOnRent)
	case last == nil && !level.QuantityOnHand.IsZero():
		problem = fmt.Sprintf("on_hand %s with no movements", level.QuantityOnHand)
	case last != nil && !last.QuantityAfter.Equal(level.QuantityOnHand):
		problem = fmt.Sprintf("on_hand %s != last movement quantity_after %s", level.QuantityOnHand, last.QuantityAfter)
	}
	if problem == "" {
		return last, nil
	}

	err = fmt.Errorf("%w: %s: %s", store.ErrInvariantViolation, level.Key(), problem)
	logging.LogError(r.logger, "stock", "ApplyMovement", "ledger check", map[string]any{
		"stock_level_id": level.ID,
		"item_id":        level.ItemID,
		"location_id":    level.LocationID,
		"version":        level.Version,
	}, err)
	return nil, err
}

// Rebuild replays every movement recorded for key and compares the result
// with the stored level. Unless dryRun is set, a drifted level is rewritten
// from the replay. Movements are never modified; broken links in the chain
// are reported.
func (r *Reconciler) Rebuild(ctx context.Context, uow store.UnitOfWork, key domain.StockKey, dryRun bool) (domain.RebuildResult, error) {
	ctx, span := r.tracer.Start(ctx, "stock.Rebuild", trace.WithAttributes(
		attribute.String("item_id", key.ItemID),
		attribute.String("location_id", key.LocationID),
	))
	defer span.End()

	result := domain.RebuildResult{Key: key}

	stored, err := uow.LockStockLevel(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return result, err
	}
	result.Stored = stored

	movements, err := uow.ListMovementsForKey(ctx, key)
	if err != nil {
		return result, err
	}
	result.Movements = len(movements)

	replayed := domain.StockLevel{
		ItemID:            key.ItemID,
		LocationID:        key.LocationID,
		QuantityOnHand:    decimal.Zero,
		QuantityAvailable: decimal.Zero,
		QuantityOnRent:    decimal.Zero,
	}
	for _, m := range movements {
		if !m.QuantityBefore.Equal(replayed.QuantityOnHand) {
			result.ChainBreaks = append(result.ChainBreaks, fmt.Sprintf(
				"movement %s (seq %d): quantity_before %s, expected %s", m.ID, m.Sequence, m.QuantityBefore, replayed.QuantityOnHand))
		}
		if !m.QuantityBefore.Add(m.QuantityChange).Equal(m.QuantityAfter) {
			result.ChainBreaks = append(result.ChainBreaks, fmt.Sprintf(
				"movement %s (seq %d): %s + %s != %s", m.ID, m.Sequence, m.QuantityBefore, m.QuantityChange, m.QuantityAfter))
		}
		replayed.QuantityOnHand = replayed.QuantityOnHand.Add(m.QuantityChange)
		replayed.QuantityAvailable = replayed.QuantityAvailable.Add(m.AvailableChange)
		replayed.QuantityOnRent = replayed.QuantityOnRent.Add(m.OnRentChange)
	}

	if stored == nil {
		result.Drift = len(movements) > 0
	} else {
		replayed.ID = stored.ID
		replayed.Version = stored.Version
		result.Drift = !stored.QuantityOnHand.Equal(replayed.QuantityOnHand) ||
			!stored.QuantityAvailable.Equal(replayed.QuantityAvailable) ||
			!stored.QuantityOnRent.Equal(replayed.QuantityOnRent)
	}
	if replayed.ID == "" && len(movements) > 0 {
		replayed.ID = movements[0].StockLevelID
	}
	result.Replayed = replayed

	if result.Drift {
		r.logger.WithFields(logrus.Fields{
			"item_id":      key.ItemID,
			"location_id":  key.LocationID,
			"movements":    len(movements),
			"chain_breaks": len(result.ChainBreaks),
			"dry_run":      dryRun,
		}).Warn("stock level drifted from movement ledger")
	}
	if !result.Drift || dryRun {
		return result, nil
	}

	if err := uow.SaveStockLevel(ctx, &replayed); err != nil {
		return result, err
	}
	result.Replayed = replayed
	result.Repaired = true
	return result, nil
}
