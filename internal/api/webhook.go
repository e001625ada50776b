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
	"errors"
	"io"
	"net/http"

	"entitlement-engine-go/internal/billing"
	"entitlement-engine-go/internal/gateway"
	"entitlement-engine-go/internal/models"

	"go.uber.org/zap"
)

// handleWebhook handles POST /webhooks/gateway. The body must carry a valid
// signature before it is parsed. Redeliveries are answered with 200.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unable to read body", Code: "invalid_argument"})
		return
	}

	if !gateway.VerifySignature(s.webhookSecret, body, r.Header.Get(gateway.SignatureHeader)) {
		zap.L().Warn("Rejected webhook with invalid signature",
			zap.String("remote_addr", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature", Code: "invalid_signature"})
		return
	}

	var evt billing.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed event: " + err.Error(), Code: "invalid_argument"})
		return
	}

	err = s.billing.HandleEvent(r.Context(), evt)
	switch {
	case err == nil, errors.Is(err, models.ErrDuplicateEvent):
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case models.IsRetryable(err):
		zap.L().Warn("Webhook failed with a transient error, gateway will retry",
			zap.String("reference", evt.Reference),
			zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "temporarily unavailable", Code: "retry"})
	default:
		writeError(w, r, err)
	}
}
