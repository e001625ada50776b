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

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"entitlement-engine-go/internal/models"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("%w: malformed body: %v", models.ErrInvalidArgument, err)
	}
	return nil
}

// canPerform handles POST /v1/accounts/{id}/entitlements/{feature}
func (s *Service) canPerform(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	feature, err := models.ParseFeature(vars["feature"])
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err))
		return
	}

	decision, err := s.entitlements.CanPerform(r.Context(), vars["id"], feature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusPaymentRequired, decision)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// getEntitlements handles GET /v1/accounts/{id}/entitlements
func (s *Service) getEntitlements(w http.ResponseWriter, r *http.Request) {
	summary, err := s.entitlements.Entitlements(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// getSubscription handles GET /v1/owners/{id}/subscription
func (s *Service) getSubscription(w http.ResponseWriter, r *http.Request) {
	state, err := s.subscriptions.GetState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// cancelSubscription handles POST /v1/owners/{id}/cancel
func (s *Service) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	state, err := s.subscriptions.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func planParam(raw string) (models.Plan, error) {
	plan, err := models.ParsePlan(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	return plan, nil
}

// quoteUpgrade handles GET /v1/owners/{id}/upgrade-quote?plan=
func (s *Service) quoteUpgrade(w http.ResponseWriter, r *http.Request) {
	plan, err := planParam(r.URL.Query().Get("plan"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	quote, err := s.billing.QuoteUpgrade(r.Context(), mux.Vars(r)["id"], plan)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

// startCheckout handles POST /v1/owners/{id}/checkout
func (s *Service) startCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	plan, err := planParam(req.Plan)
	if err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.billing.StartCheckout(r.Context(), mux.Vars(r)["id"], plan)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// getBalance handles GET /v1/owners/{id}/balance
func (s *Service) getBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.withdrawals.Balance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type withdrawalRequest struct {
	Amount int64              `json:"amount"`
	Bank   models.BankDetails `json:"bank"`
}

// requestWithdrawal handles POST /v1/owners/{id}/withdrawals
func (s *Service) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	request, err := s.withdrawals.RequestWithdrawal(r.Context(), mux.Vars(r)["id"], req.Amount, req.Bank)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

// approveWithdrawal handles POST /v1/withdrawals/{id}/approve. A transfer the
// gateway refuses outright still answers with the failed request.
func (s *Service) approveWithdrawal(w http.ResponseWriter, r *http.Request) {
	request, err := s.withdrawals.Approve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if request != nil {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":      err.Error(),
				"code":       "transfer_failed",
				"withdrawal": request,
			})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, request)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// rejectWithdrawal handles POST /v1/withdrawals/{id}/reject
func (s *Service) rejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	request, err := s.withdrawals.Reject(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// confirmCommission handles POST /v1/commissions/{id}/confirm
func (s *Service) confirmCommission(w http.ResponseWriter, r *http.Request) {
	entry, err := s.commissions.Confirm(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// voidCommission handles POST /v1/commissions/{id}/void
func (s *Service) voidCommission(w http.ResponseWriter, r *http.Request) {
	entry, err := s.commissions.Void(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
