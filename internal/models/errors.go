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

package models

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors. Expected denials are distinguishable from integrity faults
// with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrBrokenReference     = errors.New("broken ownership reference")
	ErrLimitExceeded       = errors.New("usage limit exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimum        = errors.New("amount below platform minimum")
	ErrConflictingRequest  = errors.New("conflicting withdrawal request in progress")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrIneligible          = errors.New("not eligible for commission")
)

// LimitExceededError carries the counter values behind a denial.
type LimitExceededError struct {
	Feature Feature
	Used    int64
	Limit   int64
	Period  string
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d of %d used this %s", e.Feature, e.Used, e.Limit, e.Period)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// InsufficientBalanceError reports how much could have been withdrawn.
type InsufficientBalanceError struct {
	Requested int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// IsRetryable reports whether err is a transient storage failure the caller
// may retry. Integrity faults and expected denials are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, permanent := range []error{
		ErrNotFound, ErrBrokenReference, ErrLimitExceeded, ErrInsufficientBalance,
		ErrBelowMinimum, ErrConflictingRequest, ErrDuplicateEvent, ErrInvalidTransition,
		ErrInvalidArgument, ErrIneligible,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database is busy") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "bad connection") ||
		strings.Contains(msg, "i/o timeout")
}
