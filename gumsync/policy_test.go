package gumsync_test

import (
	"errors"
	"testing"

	"github.com/sinanisler/gumroad-api/gumsync"
)

func TestResolvePolicy(t *testing.T) {
	settings := gumsync.DefaultSettings()
	settings.DefaultRoles = []string{"subscriber"}
	settings.ProductRoles = map[string]gumsync.ProductPolicy{
		"P1": {AutoProvision: true, Roles: []string{"member", "member", " downloads "}},
		"P2": {AutoProvision: true},
		"P3": {AutoProvision: false, Roles: []string{"member"}},
	}

	policy, err := gumsync.ResolvePolicy(settings, "P1")
	if err != nil {
		t.Fatalf("P1: %v", err)
	}
	if len(policy.Roles) != 2 || policy.Roles[0] != "member" || policy.Roles[1] != "downloads" {
		t.Fatalf("P1 roles = %v, want deduped and trimmed", policy.Roles)
	}

	policy, err = gumsync.ResolvePolicy(settings, "P2")
	if err != nil {
		t.Fatalf("P2: %v", err)
	}
	if len(policy.Roles) != 1 || policy.Roles[0] != "subscriber" {
		t.Fatalf("P2 roles = %v, want default fallback", policy.Roles)
	}

	if _, err := gumsync.ResolvePolicy(settings, "P3"); !errors.Is(err, gumsync.ErrPolicyDisabled) {
		t.Fatalf("P3: %v, want ErrPolicyDisabled", err)
	}
	if _, err := gumsync.ResolvePolicy(settings, "UNKNOWN"); !errors.Is(err, gumsync.ErrPolicyDisabled) {
		t.Fatalf("unknown product: %v, want ErrPolicyDisabled", err)
	}
	if _, err := gumsync.ResolvePolicy(settings, ""); !errors.Is(err, gumsync.ErrPolicyDisabled) {
		t.Fatalf("empty product: %v, want ErrPolicyDisabled", err)
	}
}

func TestResolvePolicy_NoRolesAnywhere(t *testing.T) {
	settings := gumsync.DefaultSettings()
	settings.DefaultRoles = nil
	settings.ProductRoles = map[string]gumsync.ProductPolicy{
		"P1": {AutoProvision: true},
	}
	if _, err := gumsync.ResolvePolicy(settings, "P1"); !errors.Is(err, gumsync.ErrNoRolesConfigured) {
		t.Fatalf("got %v, want ErrNoRolesConfigured", err)
	}
}

func TestSettingsDecodeAndNormalize(t *testing.T) {
	s := gumsync.DecodeSettings(nil)
	if s.SalesLimit != 50 || s.SyncInterval != 120 || s.LogLimit != 500 || s.LogRotationDays != 30 {
		t.Fatalf("defaults = %+v", s)
	}
	if !s.SendWelcomeEmail || s.RefundAction != gumsync.ActionRemoveRoles {
		t.Fatalf("defaults = %+v", s)
	}

	s = gumsync.DecodeSettings([]byte(`{"salesLimit":9999,"syncInterval":5,"refundAction":"explode"}`))
	if s.SalesLimit != 50 {
		t.Fatalf("out-of-range sales limit not clamped: %d", s.SalesLimit)
	}
	if s.SyncInterval != 120 {
		t.Fatalf("sub-minimum interval not clamped: %d", s.SyncInterval)
	}
	if s.RefundAction != gumsync.ActionRemoveRoles {
		t.Fatalf("invalid action not reset: %q", s.RefundAction)
	}

	s = gumsync.DecodeSettings([]byte(`not json`))
	if s.SalesLimit != 50 {
		t.Fatal("bad json should fall back to defaults")
	}
}

func TestValidateSettings(t *testing.T) {
	s := gumsync.DefaultSettings()
	if err := gumsync.ValidateSettings(s); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	s.SalesLimit = 500
	if err := gumsync.ValidateSettings(s); err == nil {
		t.Fatal("sales limit above 200 should fail validation")
	}
}
