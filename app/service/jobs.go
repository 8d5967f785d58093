package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

// RunReconcileBatch re-fetches payments still pending at the provider that
// were not checked for ReconcileStaleAfter, covering lost webhooks. Every
// candidate is marked checked, whatever the outcome, so a payment stuck at
// the provider does not starve the rest of the queue.
func (s *PaymentService) RunReconcileBatch(ctx context.Context) error {
	now := s.now()
	before := now.Add(-s.paymentsCfg.ReconcileStaleAfter)
	items, err := s.statusRepo.ListForReconcile(ctx, before, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	reconciled := 0
	for _, record := range items {
		if err := ctx.Err(); err != nil {
			return keepFirstErr(firstErr, err)
		}
		if record == nil || strings.TrimSpace(record.ExternalPaymentID) == "" {
			continue
		}

		paymentID := strings.TrimSpace(record.ExternalPaymentID)
		changed, err := s.reconcileOne(ctx, record, paymentID, now)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
		if changed {
			reconciled++
		}
		if err := s.statusRepo.MarkChecked(ctx, paymentID, now); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"candidates": len(items),
		"reconciled": reconciled,
	}).Debug("Reconcile batch finished")

	return firstErr
}

func (s *PaymentService) reconcileOne(ctx context.Context, record *entity.PaymentStatusRecord, paymentID string, now time.Time) (bool, error) {
	details, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil || details == nil {
		return false, err
	}

	update := statusUpdateFromDetails(details, paymentID, now)
	applied, err := s.statusRepo.UpdateStatus(ctx, update)
	if err != nil {
		return false, err
	}
	if !applied || update.Status == record.Status {
		return false, nil
	}

	oldStatus := record.Status
	s.recordEvent(ctx, &entity.PaymentEvent{
		ExternalPaymentID: paymentID,
		EventType:         "payment_reconciled",
		OldStatus:         &oldStatus,
		NewStatus:         update.Status,
		CreatedAt:         now,
	})
	return true, nil
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
