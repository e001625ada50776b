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

// Package billing turns payment gateway events into subscription, commission
// and payout transitions, and prices plan changes.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"entitlement-engine-go/internal/catalog"
	"entitlement-engine-go/internal/gateway"
	"entitlement-engine-go/internal/metrics"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/proration"
	"entitlement-engine-go/internal/subscription"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gateway event types.
const (
	EventChargeSuccess    = "charge.success"
	EventChargeRefunded   = "charge.refunded"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

// WebhookEvent is the payload posted by the payment gateway.
type WebhookEvent struct {
	EventType   string    `json:"event_type" validate:"required,oneof=charge.success charge.refunded transfer.success transfer.failed transfer.reversed"`
	Reference   string    `json:"reference" validate:"required,max=128"`
	OwnerId     string    `json:"owner_id" validate:"required_if=EventType charge.success"`
	Plan        string    `json:"plan" validate:"required_if=EventType charge.success"`
	Amount      int64     `json:"amount" validate:"gte=0"`
	PaidThrough time.Time `json:"paid_through"`
	PaidAt      time.Time `json:"paid_at"`
	PeriodIndex int       `json:"period_index" validate:"gte=0"`
	BankRef     string    `json:"bank_ref"`
	Reason      string    `json:"reason"`
}

type PaymentVerifier interface {
	Verify(ctx context.Context, reference string) (*gateway.Verification, error)
}

type CheckoutProvider interface {
	Initialize(ctx context.Context, email string, amount int64, reference string, metadata map[string]string) (*gateway.Checkout, error)
}

type Subscriptions interface {
	GetState(ctx context.Context, ownerId string) (*models.SubscriptionState, error)
	ApplyPurchase(ctx context.Context, params subscription.PurchaseParams) (*models.PurchaseResult, error)
}

type Commissions interface {
	CreditIfEligible(ctx context.Context, evt models.BillingEvent) (*models.CommissionEntry, error)
	VoidForBillingEvent(ctx context.Context, billingEventId string) (int64, error)
}

type Payouts interface {
	HandleTransferResult(ctx context.Context, requestId string, success bool, bankRef, reason string) (*models.WithdrawalRequest, error)
}

type AccountReader interface {
	GetAccount(ctx context.Context, accountId string) (*models.Account, error)
}

// Options switches optional collaborators. A nil Verifier skips payment
// verification.
type Options struct {
	Verifier  PaymentVerifier
	Checkouts CheckoutProvider
}

type Service struct {
	subscriptions Subscriptions
	commissions   Commissions
	payouts       Payouts
	accounts      AccountReader
	catalog       *catalog.Catalog
	opts          Options
	validate      *validator.Validate
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewService(subs Subscriptions, commissions Commissions, payouts Payouts, accounts AccountReader, c *catalog.Catalog, opts Options, m *metrics.Metrics) *Service {
	return &Service{
		subscriptions: subs,
		commissions:   commissions,
		payouts:       payouts,
		accounts:      accounts,
		catalog:       c,
		opts:          opts,
		validate:      validator.New(),
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent applies one gateway event. Every branch is idempotent so the
// gateway may redeliver freely.
func (s *Service) HandleEvent(ctx context.Context, evt WebhookEvent) error {
	if err := s.validate.Struct(evt); err != nil {
		s.metrics.ObserveBillingEvent(evt.EventType, "invalid")
		return fmt.Errorf("%w: webhook: %v", models.ErrInvalidArgument, err)
	}

	zap.L().Info("Handling gateway event",
		zap.String("event_type", evt.EventType),
		zap.String("reference", evt.Reference))

	var outcome string
	var err error
	switch evt.EventType {
	case EventChargeSuccess:
		outcome, err = s.handleChargeSuccess(ctx, evt)
	case EventChargeRefunded:
		outcome, err = s.handleRefund(ctx, evt)
	case EventTransferSuccess:
		outcome, err = s.handleTransfer(ctx, evt, true)
	case EventTransferFailed, EventTransferReversed:
		outcome, err = s.handleTransfer(ctx, evt, false)
	}
	if err != nil {
		s.metrics.ObserveBillingEvent(evt.EventType, "error")
		return err
	}
	s.metrics.ObserveBillingEvent(evt.EventType, outcome)
	return nil
}

func (s *Service) handleChargeSuccess(ctx context.Context, evt WebhookEvent) (string, error) {
	plan, err := models.ParsePlan(evt.Plan)
	if err != nil || !plan.Paid() {
		return "", fmt.Errorf("%w: plan %q cannot be purchased", models.ErrInvalidArgument, evt.Plan)
	}
	if _, err := s.requireOwner(ctx, evt.OwnerId); err != nil {
		return "", err
	}

	paidAt := evt.PaidAt
	if s.opts.Verifier != nil {
		v, err := s.opts.Verifier.Verify(ctx, evt.Reference)
		if err != nil {
			return "", err
		}
		if !v.Paid() {
			return "", fmt.Errorf("%w: payment %s is %s", models.ErrInvalidArgument, evt.Reference, v.Status)
		}
		if v.Amount != evt.Amount {
			zap.L().Warn("Payment amount mismatch",
				zap.String("reference", evt.Reference),
				zap.Int64("webhook_amount", evt.Amount),
				zap.Int64("verified_amount", v.Amount))
			return "", fmt.Errorf("%w: payment %s amount %d does not match verified %d",
				models.ErrInvalidArgument, evt.Reference, evt.Amount, v.Amount)
		}
		if paidAt.IsZero() {
			paidAt = v.PaidAt
		}
	}
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	paidThrough := evt.PaidThrough
	if paidThrough.IsZero() {
		paidThrough, err = s.renewalEnd(ctx, evt.OwnerId, plan, paidAt)
		if err != nil {
			return "", err
		}
	}

	result, err := s.subscriptions.ApplyPurchase(ctx, subscription.PurchaseParams{
		OwnerId:     evt.OwnerId,
		Plan:        plan,
		Amount:      evt.Amount,
		Reference:   evt.Reference,
		PaidAt:      paidAt,
		PaidThrough: paidThrough,
	})
	if err != nil {
		return "", err
	}

	// Credit even on a replayed purchase: the first delivery may have stopped
	// between the two steps, and crediting is itself idempotent.
	_, err = s.commissions.CreditIfEligible(ctx, models.BillingEvent{
		Id:          evt.Reference,
		OwnerId:     evt.OwnerId,
		Plan:        plan,
		Amount:      evt.Amount,
		PaidThrough: paidThrough,
		PaidAt:      paidAt,
		PeriodIndex: evt.PeriodIndex,
	})
	if err != nil {
		return "", err
	}

	if result.Duplicate {
		return "duplicate", nil
	}
	return "applied", nil
}

// renewalEnd extends a running period of the same plan, otherwise starts a
// fresh cycle at paidAt.
func (s *Service) renewalEnd(ctx context.Context, ownerId string, plan models.Plan, paidAt time.Time) (time.Time, error) {
	state, err := s.subscriptions.GetState(ctx, ownerId)
	if err != nil {
		return time.Time{}, err
	}
	from := paidAt
	if state.Status == models.StatusActive && state.Plan == plan && state.PeriodEnd.After(paidAt) {
		from = state.PeriodEnd
	}
	return s.catalog.PaidThrough(plan, from), nil
}

func (s *Service) handleRefund(ctx context.Context, evt WebhookEvent) (string, error) {
	n, err := s.commissions.VoidForBillingEvent(ctx, evt.Reference)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "noop", nil
	}
	return "voided", nil
}

func (s *Service) handleTransfer(ctx context.Context, evt WebhookEvent, success bool) (string, error) {
	reason := evt.Reason
	if !success && reason == "" {
		reason = evt.EventType
	}
	request, err := s.payouts.HandleTransferResult(ctx, evt.Reference, success, evt.BankRef, reason)
	if err != nil {
		return "", err
	}
	return string(request.Status), nil
}

// QuoteUpgrade prices moving ownerId onto newPlan now. Unused days of a
// running paid plan are credited against the new price; renewing the same
// plan costs the full price and extends the current period.
func (s *Service) QuoteUpgrade(ctx context.Context, ownerId string, newPlan models.Plan) (*models.UpgradeQuote, error) {
	if !newPlan.Paid() {
		return nil, fmt.Errorf("%w: %q is not a purchasable plan", models.ErrInvalidArgument, newPlan)
	}

	if _, err := s.requireOwner(ctx, ownerId); err != nil {
		return nil, err
	}
	state, err := s.subscriptions.GetState(ctx, ownerId)
	if err != nil {
		return nil, err
	}

	now := s.now()
	current := subscription.EffectivePlan(state, now)
	quote := &models.UpgradeQuote{
		OwnerId:     ownerId,
		CurrentPlan: current,
		NewPlan:     newPlan,
		CycleDays:   s.catalog.CycleDays(current),
	}

	if current == newPlan {
		quote.Charge = s.catalog.Price(newPlan)
		quote.PaidThrough = s.catalog.PaidThrough(newPlan, state.PeriodEnd)
		return quote, nil
	}

	if current.Paid() {
		quote.DaysRemaining = proration.DaysRemaining(state.PeriodEnd, now)
		quote.CycleDays = s.cycleLength(current, state)
	}
	quote.Credit = proration.Credit(s.catalog.Price(current), quote.DaysRemaining, quote.CycleDays)
	quote.Charge = proration.ProratePlans(s.catalog, current, newPlan, quote.DaysRemaining, quote.CycleDays)
	quote.PaidThrough = s.catalog.PaidThrough(newPlan, now)
	return quote, nil
}

// cycleLength is the calendar length in days of the running cycle, which
// ends at the stored period end. A period shorter than one cycle counts from
// its own start.
func (s *Service) cycleLength(plan models.Plan, state *models.SubscriptionState) int {
	if state.PeriodEnd.IsZero() {
		return s.catalog.CycleDays(plan)
	}
	start := s.catalog.CycleStart(plan, state.PeriodEnd)
	if state.PeriodStart.After(start) && state.PeriodStart.Before(state.PeriodEnd) {
		start = state.PeriodStart
	}
	return proration.DaysRemaining(state.PeriodEnd, start)
}

// StartCheckout quotes the change and opens a hosted payment page for it.
func (s *Service) StartCheckout(ctx context.Context, ownerId string, newPlan models.Plan) (*models.CheckoutSession, error) {
	if s.opts.Checkouts == nil {
		return nil, errors.New("checkout is not configured")
	}

	account, err := s.requireOwner(ctx, ownerId)
	if err != nil {
		return nil, err
	}

	quote, err := s.QuoteUpgrade(ctx, ownerId, newPlan)
	if err != nil {
		return nil, err
	}

	reference := "sub_" + uuid.New().String()
	checkout, err := s.opts.Checkouts.Initialize(ctx, account.Email, quote.Charge, reference, map[string]string{
		"owner_id":     ownerId,
		"plan":         string(newPlan),
		"paid_through": quote.PaidThrough.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Checkout started",
		zap.String("owner_id", ownerId),
		zap.String("plan", string(newPlan)),
		zap.Int64("charge", quote.Charge),
		zap.String("reference", checkout.Reference))
	return &models.CheckoutSession{
		Quote:            *quote,
		Reference:        checkout.Reference,
		AuthorizationURL: checkout.AuthorizationURL,
	}, nil
}

// requireOwner loads accountId and rejects anything but an owner.
func (s *Service) requireOwner(ctx context.Context, accountId string) (*models.Account, error) {
	account, err := s.accounts.GetAccount(ctx, accountId)
	if err != nil {
		return nil, err
	}
	if account.Role != models.RoleOwner {
		return nil, fmt.Errorf("%w: account %s is a %s; only owners can purchase plans",
			models.ErrInvalidArgument, accountId, account.Role)
	}
	return account, nil
}
