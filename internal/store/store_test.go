package store

import (
	"errors"
	"testing"

	"entitlement-engine-go/internal/models"
)

// Storage sentinels must match the domain taxonomy so services can return
// them unchanged.
func TestSentinelsMatchDomainErrors(t *testing.T) {
	if !errors.Is(ErrNotFound, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound to match models.ErrNotFound")
	}
	if !errors.Is(ErrDuplicate, models.ErrDuplicateEvent) {
		t.Errorf("Expected ErrDuplicate to match models.ErrDuplicateEvent")
	}
	if !errors.Is(ErrConflict, models.ErrConflictingRequest) {
		t.Errorf("Expected ErrConflict to match models.ErrConflictingRequest")
	}
	if errors.Is(ErrConcurrentModification, models.ErrNotFound) {
		t.Errorf("Expected ErrConcurrentModification to be distinct")
	}

	var _ Store
}
