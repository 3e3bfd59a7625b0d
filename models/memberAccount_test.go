package models_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sinanisler/gumroad-api/models"
	"github.com/sinanisler/gumroad-api/utils"
)

func TestMemberAccountRoleLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	acc, err := models.CreateMemberAccount(ctx, db, &models.NewMemberAccount{
		Username: "buyer@example.com",
		Email:    "buyer@example.com",
		Name:     "Buyer",
		Password: "hashed",
		Roles:    []string{"member", "downloads"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !acc.HasRole("member") || !acc.HasRole("downloads") {
		t.Fatalf("roles = %v, want member and downloads", acc.Roles())
	}
	if acc.HasRole("editor") {
		t.Fatal("unexpected role")
	}

	if err := models.AddMemberAccountRole(ctx, db, acc.ID, "editor"); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Adding an already-held role is a no-op, not a duplicate.
	if err := models.AddMemberAccountRole(ctx, db, acc.ID, "editor"); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	acc, _ = models.GetMemberAccountByID(ctx, db, acc.ID)
	if got := acc.Roles(); len(got) != 3 || !acc.HasRole("editor") {
		t.Fatalf("roles = %v, want three with editor", got)
	}

	if err := models.SetMemberAccountPrimaryRole(ctx, db, acc.ID, "editor"); err != nil {
		t.Fatalf("set primary: %v", err)
	}
	acc, _ = models.GetMemberAccountByID(ctx, db, acc.ID)
	if got := acc.Roles(); got[0] != "editor" {
		t.Fatalf("roles = %v, want editor first", got)
	}

	if err := models.RemoveMemberAccountRole(ctx, db, acc.ID, "member"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	acc, _ = models.GetMemberAccountByID(ctx, db, acc.ID)
	if acc.HasRole("member") {
		t.Fatalf("roles = %v, member should be gone", acc.Roles())
	}
}

func TestMemberAccountRoleChange_MissingAccount(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := models.AddMemberAccountRole(ctx, db, 9999, "member")
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("err = %v, want ErrorRecordNotFound", err)
	}
}

func TestDeleteMemberAccount_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	acc, err := models.CreateMemberAccount(ctx, db, &models.NewMemberAccount{
		Username: "gone@example.com",
		Email:    "gone@example.com",
		Password: "hashed",
		Roles:    []string{"member"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := models.DeleteMemberAccount(ctx, db, acc.ID); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	got, err := models.GetMemberAccountByID(ctx, db, acc.ID)
	if err != nil || got != nil {
		t.Fatalf("lookup after delete = %v, %v, want nil, nil", got, err)
	}
}
