package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentory/internal/domain"
	"rentory/internal/store"
	"rentory/internal/validation"
	"rentory/internal/xid"
)

// RecordPayment adds amount to paid_amount. Paying more than the outstanding
// balance is rejected.
func (s *Service) RecordPayment(ctx context.Context, transactionID string, req domain.PaymentRequest) (domain.TransactionHeader, error) {
	ctx, span := s.tracer.Start(ctx, "service.RecordPayment", trace.WithAttributes(attribute.String("transaction_id", transactionID)))
	defer span.End()

	if err := pathID(transactionID); err != nil {
		return domain.TransactionHeader{}, err
	}
	v := s.check(req)
	amount, _ := v.decimal(req.Amount, "amount")
	if err := v.err(); err != nil {
		return domain.TransactionHeader{}, err
	}

	err := s.runUnitOfWork(ctx, func(uow store.UnitOfWork, _ int) error {
		tx, err := uow.LockTransaction(ctx, transactionID)
		if err != nil {
			return notFound("Transaction", transactionID, err)
		}
		if tx.Status == domain.StatusCancelled {
			return fmt.Errorf("%w: transaction %s is cancelled", store.ErrInvalidState, tx.ID)
		}
		outstanding := tx.TotalAmount.Sub(tx.PaidAmount)
		if amount.GreaterThan(outstanding) {
			return &ValidationError{Details: []validation.Detail{
				validation.Field("value_error", fmt.Sprintf("Payment exceeds outstanding balance %s", outstanding.StringFixed(2)), req.Amount.Raw(), "amount"),
			}}
		}
		paid := tx.PaidAmount.Add(amount)
		status := domain.PaymentPartial
		if paid.Equal(tx.TotalAmount) {
			status = domain.PaymentPaid
		}
		return uow.UpdateTransactionPayment(ctx, tx.ID, paid, status)
	})
	if err != nil {
		return domain.TransactionHeader{}, err
	}
	return s.GetTransaction(ctx, transactionID)
}

// CancelTransaction marks a transaction CANCELLED. Stock is not touched;
// goods that moved come back through a return. The manager PIN is checked by
// the caller.
func (s *Service) CancelTransaction(ctx context.Context, transactionID string, req domain.CancelRequest) (domain.TransactionHeader, error) {
	ctx, span := s.tracer.Start(ctx, "service.CancelTransaction", trace.WithAttributes(attribute.String("transaction_id", transactionID)))
	defer span.End()

	if err := pathID(transactionID); err != nil {
		return domain.TransactionHeader{}, err
	}
	if err := s.validate(req); err != nil {
		return domain.TransactionHeader{}, err
	}

	err := s.runUnitOfWork(ctx, func(uow store.UnitOfWork, _ int) error {
		tx, err := uow.LockTransaction(ctx, transactionID)
		if err != nil {
			return notFound("Transaction", transactionID, err)
		}
		if tx.Status == domain.StatusCancelled {
			return fmt.Errorf("%w: transaction %s is already cancelled", store.ErrInvalidState, tx.ID)
		}
		return uow.UpdateTransactionStatus(ctx, tx.ID, domain.StatusCancelled)
	})
	if err != nil {
		return domain.TransactionHeader{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"module":         "service",
		"transaction_id": transactionID,
		"reason":         req.Reason,
		"actor":          actorName(ctx),
	}).Info("transaction cancelled")
	return s.GetTransaction(ctx, transactionID)
}

func (s *Service) GetTransaction(ctx context.Context, transactionID string) (domain.TransactionHeader, error) {
	if err := pathID(transactionID); err != nil {
		return domain.TransactionHeader{}, err
	}
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return domain.TransactionHeader{}, notFound("Transaction", transactionID, err)
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.TransactionHeader, error) {
	switch filter.Type {
	case "", domain.TransactionTypePurchase, domain.TransactionTypeSale, domain.TransactionTypeRental, domain.TransactionTypeReturn:
	default:
		return nil, &ValidationError{Details: []validation.Detail{{
			Type:  "enum",
			Loc:   []any{"query", "type"},
			Msg:   "Input should be 'PURCHASE', 'SALE', 'RENTAL' or 'RETURN'",
			Input: string(filter.Type),
		}}}
	}
	return s.repo.ListTransactions(ctx, filter)
}

func pathID(id string) error {
	if xid.Valid(id) {
		return nil
	}
	return &ValidationError{Details: []validation.Detail{{
		Type:  "uuid_parsing",
		Loc:   []any{"path", "transaction_id"},
		Msg:   "Input should be a valid UUID",
		Input: id,
	}}}
}
