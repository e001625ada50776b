/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"entitlement-engine-go/internal/metrics"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/notify"
	"entitlement-engine-go/internal/store"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// PayoutGateway moves money to a referrer's bank account. The outcome is
// reported later through HandleTransferResult.
type PayoutGateway interface {
	InitiateTransfer(ctx context.Context, bank models.BankDetails, amount int64, reference string) (string, error)
}

// Store is the persistence the workflow needs: payout requests plus the
// commission balance they draw on.
type Store interface {
	store.WithdrawalStore
	GetCommissionBalance(ctx context.Context, ownerId string) (*models.CommissionBalance, error)
}

type Workflow struct {
	store     Store
	payouts   PayoutGateway
	cfg       models.WithdrawalConfig
	validate  *validator.Validate
	publisher notify.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewWorkflow(s Store, payouts PayoutGateway, cfg models.WithdrawalConfig, publisher notify.Publisher, m *metrics.Metrics) *Workflow {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Workflow{
		store:     s,
		payouts:   payouts,
		cfg:       cfg,
		validate:  validator.New(),
		publisher: publisher,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RequestWithdrawal locks amount of the owner's available commission for a
// payout. The balance check and the lock happen in one transaction.
func (w *Workflow) RequestWithdrawal(ctx context.Context, ownerId string, amount int64, bank models.BankDetails) (*models.WithdrawalRequest, error) {
	if ownerId == "" {
		return nil, fmt.Errorf("%w: owner is required", models.ErrInvalidArgument)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidArgument)
	}
	if amount < w.cfg.MinimumAmount {
		return nil, fmt.Errorf("%w: %d is below the minimum of %d", models.ErrBelowMinimum, amount, w.cfg.MinimumAmount)
	}
	if err := w.validate.Struct(bank); err != nil {
		return nil, fmt.Errorf("%w: bank details: %v", models.ErrInvalidArgument, err)
	}

	request, err := w.store.CreateWithdrawal(ctx, store.CreateWithdrawalParams{
		OwnerId:   ownerId,
		Amount:    amount,
		Bank:      bank,
		CreatedAt: w.now(),
	})
	if err != nil {
		var insufficient *models.InsufficientBalanceError
		switch {
		case errors.As(err, &insufficient):
			zap.L().Info("Withdrawal rejected for insufficient balance",
				zap.String("owner_id", ownerId),
				zap.Int64("requested", insufficient.Requested),
				zap.Int64("available", insufficient.Available))
		case errors.Is(err, models.ErrConflictingRequest):
			zap.L().Info("Withdrawal rejected, request already open", zap.String("owner_id", ownerId))
		}
		return nil, err
	}

	w.metrics.ObserveWithdrawal(string(models.WithdrawalPending))
	return request, nil
}

// Approve moves a pending request to processing and asks the payout gateway
// to send the money. If the gateway refuses synchronously the request fails
// and its lock is released.
func (w *Workflow) Approve(ctx context.Context, requestId string) (*models.WithdrawalRequest, error) {
	request, err := w.store.TransitionWithdrawal(ctx, requestId,
		models.WithdrawalPending, models.WithdrawalProcessing, "", "", w.now())
	if err != nil {
		return nil, fmt.Errorf("failed to approve withdrawal %s: %w", requestId, err)
	}
	w.metrics.ObserveWithdrawal(string(models.WithdrawalProcessing))

	transferRef, err := w.payouts.InitiateTransfer(ctx, request.Bank, request.Amount, request.Id)
	if err != nil {
		zap.L().Error("Transfer initiation failed",
			zap.String("withdrawal_id", requestId),
			zap.Error(err))
		failed, failErr := w.store.TransitionWithdrawal(ctx, requestId,
			models.WithdrawalProcessing, models.WithdrawalFailed, "", err.Error(), w.now())
		if failErr != nil {
			return nil, fmt.Errorf("transfer initiation failed (%v) and request could not be failed: %w", err, failErr)
		}
		w.metrics.ObserveWithdrawal(string(models.WithdrawalFailed))
		return failed, fmt.Errorf("transfer initiation failed: %w", err)
	}

	zap.L().Info("Transfer initiated",
		zap.String("withdrawal_id", requestId),
		zap.String("transfer_ref", transferRef),
		zap.Int64("amount", request.Amount))
	return request, nil
}

// HandleTransferResult settles a processing request. Repeated deliveries of
// the same outcome return the settled request unchanged.
func (w *Workflow) HandleTransferResult(ctx context.Context, requestId string, success bool, bankRef, reason string) (*models.WithdrawalRequest, error) {
	current, err := w.store.GetWithdrawal(ctx, requestId)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return settled(current, success)
	}

	var request *models.WithdrawalRequest
	if success {
		request, err = w.store.CompleteWithdrawal(ctx, requestId, bankRef, w.now())
	} else {
		request, err = w.store.TransitionWithdrawal(ctx, requestId,
			models.WithdrawalProcessing, models.WithdrawalFailed, bankRef, reason, w.now())
	}
	if errors.Is(err, models.ErrInvalidTransition) {
		// a concurrent delivery may have settled it first
		if latest, getErr := w.store.GetWithdrawal(ctx, requestId); getErr == nil && latest.Status.Terminal() {
			return settled(latest, success)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to settle withdrawal %s: %w", requestId, err)
	}

	w.metrics.ObserveWithdrawal(string(request.Status))
	if request.Status == models.WithdrawalCompleted {
		w.publisher.Publish(notify.Event{
			Type:       notify.WithdrawalCompleted,
			OwnerId:    request.OwnerId,
			OccurredAt: request.UpdatedAt,
			Data: map[string]string{
				"withdrawal_id": request.Id,
				"amount":        strconv.FormatInt(request.Amount, 10),
				"bank_ref":      bankRef,
			},
		})
	} else {
		zap.L().Warn("Withdrawal failed",
			zap.String("withdrawal_id", requestId),
			zap.String("reason", reason))
	}
	return request, nil
}

func settled(request *models.WithdrawalRequest, success bool) (*models.WithdrawalRequest, error) {
	if (request.Status == models.WithdrawalCompleted) == success {
		zap.L().Info("Transfer result already applied",
			zap.String("withdrawal_id", request.Id),
			zap.String("status", string(request.Status)))
		return request, nil
	}
	zap.L().Warn("Transfer result contradicts settled withdrawal",
		zap.String("withdrawal_id", request.Id),
		zap.String("status", string(request.Status)),
		zap.Bool("success", success))
	return nil, fmt.Errorf("%w: withdrawal %s is already %s", models.ErrInvalidTransition, request.Id, request.Status)
}

// Reject declines a pending request and releases its lock.
func (w *Workflow) Reject(ctx context.Context, requestId, reason string) (*models.WithdrawalRequest, error) {
	request, err := w.store.TransitionWithdrawal(ctx, requestId,
		models.WithdrawalPending, models.WithdrawalFailed, "", reason, w.now())
	if err != nil {
		return nil, fmt.Errorf("failed to reject withdrawal %s: %w", requestId, err)
	}
	w.metrics.ObserveWithdrawal(string(models.WithdrawalFailed))
	return request, nil
}

func (w *Workflow) Get(ctx context.Context, requestId string) (*models.WithdrawalRequest, error) {
	return w.store.GetWithdrawal(ctx, requestId)
}

func (w *Workflow) List(ctx context.Context, ownerId string) ([]models.WithdrawalRequest, error) {
	return w.store.ListWithdrawals(ctx, ownerId)
}

// Balance is Earned - Withdrawn - Locked for ownerId.
func (w *Workflow) Balance(ctx context.Context, ownerId string) (*models.CommissionBalance, error) {
	balance, err := w.store.GetCommissionBalance(ctx, ownerId)
	if err != nil {
		return nil, fmt.Errorf("failed to compute balance of %s: %w", ownerId, err)
	}
	return balance, nil
}
