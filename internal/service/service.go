package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"rentory/internal/cache"
	"rentory/internal/domain"
	"rentory/internal/logging"
	"rentory/internal/stock"
	"rentory/internal/store"
	"rentory/internal/validation"
)

var ErrForbidden = errors.New("insufficient role")

// ErrSequenceExhausted means a day already holds MaxDailySequence
// transactions of one type.
var ErrSequenceExhausted = errors.New("daily transaction number sequence exhausted")

// MaxDailySequence is the last sequence number that fits NNNN.
const MaxDailySequence = 9999

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ValidationError carries every field violation found in a request.
type ValidationError struct {
	Details []validation.Detail
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 1 {
		return "validation failed: " + e.Details[0].Msg
	}
	return fmt.Sprintf("validation failed: %d errors", len(e.Details))
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return store.ErrNotFound
}

type Dependencies struct {
	Locker     stock.Locker
	Cache      cache.StockLevelCache
	CacheTTL   time.Duration
	Logger     *logrus.Logger
	MaxRetries int
	Now        func() time.Time
}

type Service struct {
	repo       store.Repository
	reconciler *stock.Reconciler
	validator  *validation.Validator
	locker     stock.Locker
	cache      cache.StockLevelCache
	cacheTTL   time.Duration
	logger     *logrus.Logger
	tracer     trace.Tracer
	maxRetries int
	now        func() time.Time
}

func New(repo store.Repository, deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Locker == nil {
		deps.Locker = stock.NewLocalLocker()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NoopStockLevelCache{}
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 30 * time.Second
	}
	if deps.MaxRetries < 1 {
		deps.MaxRetries = 5
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:       repo,
		reconciler: stock.NewReconciler(deps.Logger),
		validator:  validation.New(),
		locker:     deps.Locker,
		cache:      deps.Cache,
		cacheTTL:   deps.CacheTTL,
		logger:     deps.Logger,
		tracer:     otel.Tracer("rentory"),
		maxRetries: deps.MaxRetries,
		now:        deps.Now,
	}
}

func (s *Service) validate(req any) error {
	if details := s.validator.Struct(req); len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

// runUnitOfWork retries fn in a fresh unit of work while the store reports a
// lost race. attempt starts at 0.
func (s *Service) runUnitOfWork(ctx context.Context, fn func(uow store.UnitOfWork, attempt int) error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.repo.WithinUnitOfWork(ctx, func(uow store.UnitOfWork) error {
			return fn(uow, attempt)
		})
		if !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrDuplicateNumber) {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"module":  "service",
			"attempt": attempt + 1,
		}).Warn("unit of work lost a race, retrying")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", s.maxRetries, err)
}

// commit persists header and one movement of movementType per line as a
// single unit. keys are locked for the duration. prepare, when set, runs first
// inside every attempt and may rewrite header.Lines from state read through
// the unit of work. Movements are applied in line_number order.
func (s *Service) commit(ctx context.Context, header *domain.TransactionHeader, keys []domain.StockKey, movementType domain.MovementType, prepare func(ctx context.Context, uow store.UnitOfWork) error) error {
	release, err := s.locker.Acquire(ctx, keys)
	if err != nil {
		return fmt.Errorf("acquire stock locks: %w", err)
	}
	defer release()

	err = s.runUnitOfWork(ctx, func(uow store.UnitOfWork, attempt int) error {
		if prepare != nil {
			if err := prepare(ctx, uow); err != nil {
				return err
			}
		}
		number, err := nextTransactionNumber(ctx, uow, header.TransactionType, header.TransactionDate, attempt)
		if err != nil {
			return err
		}
		header.TransactionNumber = number
		if err := uow.InsertTransaction(ctx, *header); err != nil {
			return err
		}
		for _, line := range header.Lines {
			_, err := s.reconciler.ApplyMovement(ctx, uow, stock.MovementRequest{
				Key:               domain.StockKey{ItemID: line.ItemID, LocationID: header.LocationID},
				Type:              movementType,
				Quantity:          line.Quantity,
				TransactionID:     header.ID,
				TransactionLineID: line.ID,
				ReferenceType:     domain.ReferenceTransaction,
				Notes:             header.TransactionNumber,
				CreatedBy:         header.CreatedBy,
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", line.LineNumber, err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrInvariantViolation) {
			logging.LogError(s.logger, "service", "commit", "transaction rolled back", map[string]any{
				"transaction_id":   header.ID,
				"transaction_type": header.TransactionType,
			}, err)
		}
		return err
	}
	s.refreshCache(ctx, keys)
	return nil
}

// nextTransactionNumber builds PREFIX-YYYYMMDD-NNNN. The candidate is checked
// against stored numbers and bumped until free; the unique constraint on
// commit catches anything that raced past the check. Numbers never roll over
// to five digits.
func nextTransactionNumber(ctx context.Context, uow store.UnitOfWork, txType domain.TransactionType, date domain.Date, attempt int) (string, error) {
	prefix := fmt.Sprintf("%s-%s-", txType.NumberPrefix(), date.Format("20060102"))
	count, err := uow.CountTransactionNumbers(ctx, prefix)
	if err != nil {
		return "", err
	}
	seq := count + 1 + attempt
	for i := 0; i < 50; i++ {
		if seq > MaxDailySequence {
			return "", fmt.Errorf("%w: prefix %s", ErrSequenceExhausted, prefix)
		}
		candidate := fmt.Sprintf("%s%04d", prefix, seq)
		taken, err := uow.TransactionNumberTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		seq++
	}
	return "", fmt.Errorf("%w: no free number for prefix %s", store.ErrDuplicateNumber, prefix)
}

func lineKeys(locationID string, lines []domain.TransactionLine) []domain.StockKey {
	keys := make([]domain.StockKey, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if seen[line.ItemID] {
			continue
		}
		seen[line.ItemID] = true
		keys = append(keys, domain.StockKey{ItemID: line.ItemID, LocationID: locationID})
	}
	return keys
}

// refreshCache stores the committed level of every key. A key whose level
// cannot be read is dropped from the cache instead.
func (s *Service) refreshCache(ctx context.Context, keys []domain.StockKey) {
	var stale []domain.StockKey
	for _, key := range keys {
		level, err := s.repo.GetStockLevel(ctx, key)
		if err == nil {
			err = s.cache.Set(ctx, *level, s.cacheTTL)
		}
		if err != nil {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, stale...); err != nil {
		s.logger.WithFields(logrus.Fields{
			"module": "service",
			"keys":   len(stale),
		}).WithError(err).Warn("stock level cache invalidation failed")
	}
}

func actorName(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return "system"
	}
	return actor.Username
}

func requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ErrForbidden
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrForbidden, strings.Join(roles, " or "))
}
