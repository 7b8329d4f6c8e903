package market

import (
	"errors"
	"testing"
)

func TestAuthorityOwnerIsImplicitModerator(t *testing.T) {
	a, err := NewAuthority("owner")
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsModerator("owner") {
		t.Fatal("owner must be an implicit moderator")
	}
	if a.IsModerator("mod_1") {
		t.Fatal("unexpected moderator")
	}
}

func TestAuthorityAddRemoveModerator(t *testing.T) {
	a, _ := NewAuthority("owner")

	if err := a.AddModerator("owner", "mod_1"); err != nil {
		t.Fatalf("AddModerator: %v", err)
	}
	if !a.IsModerator("mod_1") {
		t.Fatal("moderator not recorded")
	}
	if err := a.AddModerator("owner", "mod_1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := a.RemoveModerator("owner", "mod_1"); err != nil {
		t.Fatalf("RemoveModerator: %v", err)
	}
	if a.IsModerator("mod_1") {
		t.Fatal("moderator not removed")
	}
	if err := a.RemoveModerator("owner", "mod_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthorityOwnerCannotBeRemoved(t *testing.T) {
	a, _ := NewAuthority("owner")
	if err := a.RemoveModerator("owner", "owner"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAuthorityOnlyOwnerManagesModerators(t *testing.T) {
	a, _ := NewAuthority("owner")
	_ = a.AddModerator("owner", "mod_1")

	if err := a.AddModerator("mod_1", "mod_2"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := a.RemoveModerator("mod_1", "mod_1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
