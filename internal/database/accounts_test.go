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

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/store"
)

func TestCreateOwnerStartsTrial(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	owner := createTestOwner(t, s, "owner1")

	if owner.Role != models.RoleOwner {
		t.Errorf("Expected role owner, got %s", owner.Role)
	}
	if owner.OwnerRef != "" {
		t.Errorf("Expected no owner ref, got %s", owner.OwnerRef)
	}
	if !owner.Active {
		t.Errorf("Expected active account")
	}

	state, err := s.GetSubscriptionState(ctx, "owner1")
	if err != nil {
		t.Fatalf("GetSubscriptionState failed: %v", err)
	}
	if state.Plan != models.PlanFree || state.Status != models.StatusTrial {
		t.Errorf("Expected free/trial, got %s/%s", state.Plan, state.Status)
	}
	if state.TrialEnd.IsZero() {
		t.Errorf("Expected trial end to be set")
	}
}

func TestCreateOwnerDuplicateEmail(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	createTestOwner(t, s, "owner1")
	_, err := s.CreateOwner(context.Background(), store.CreateAccountParams{
		Id: "owner2", Name: "Other", Email: "owner1@example.com",
	}, time.Now().UTC())

	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}

	// The failed insert must not leave a subscription row behind.
	if _, err := s.GetSubscriptionState(context.Background(), "owner2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected no subscription for owner2, got %v", err)
	}
}

func TestMembersAndDeactivation(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOwner(t, s, "owner1")

	admin, err := s.CreateMember(ctx, store.CreateAccountParams{
		Id: "admin1", Name: "Admin", Email: "admin1@example.com", Role: models.RoleAdmin, OwnerRef: "owner1",
	})
	if err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}
	if admin.OwnerRef != "owner1" {
		t.Errorf("Expected owner ref owner1, got %q", admin.OwnerRef)
	}

	if _, err := s.CreateMember(ctx, store.CreateAccountParams{
		Id: "sales1", Name: "Sales", Email: "sales1@example.com", Role: models.RoleSalesperson, OwnerRef: "owner1",
	}); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	members, err := s.ListMembers(ctx, "owner1")
	if err != nil {
		t.Fatalf("ListMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}

	if err := s.DeactivateAccount(ctx, "sales1"); err != nil {
		t.Fatalf("DeactivateAccount failed: %v", err)
	}
	if _, err := s.GetAccount(ctx, "sales1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected deactivated account to be not found, got %v", err)
	}
	if err := s.DeactivateAccount(ctx, "sales1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected second deactivation to report not found, got %v", err)
	}

	members, err = s.ListMembers(ctx, "owner1")
	if err != nil {
		t.Fatalf("ListMembers failed: %v", err)
	}
	if len(members) != 1 {
		t.Errorf("Expected 1 active member, got %d", len(members))
	}
}

func TestUpdateAccountRole(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOwner(t, s, "owner1")
	createTestOwner(t, s, "owner2")
	if _, err := s.CreateMember(ctx, store.CreateAccountParams{
		Id: "member", Name: "M", Email: "m@example.com", Role: models.RoleSalesperson, OwnerRef: "owner1",
	}); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	if err := s.UpdateAccountRole(ctx, "member", models.RoleAdmin, "owner2"); err != nil {
		t.Fatalf("UpdateAccountRole failed: %v", err)
	}

	account, err := s.GetAccountByEmail(ctx, "m@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail failed: %v", err)
	}
	if account.Role != models.RoleAdmin || account.OwnerRef != "owner2" {
		t.Errorf("Expected admin of owner2, got %s of %s", account.Role, account.OwnerRef)
	}

	if err := s.UpdateAccountRole(ctx, "ghost", models.RoleAdmin, "owner2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown account, got %v", err)
	}
}
