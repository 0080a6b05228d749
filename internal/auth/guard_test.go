package auth

import "testing"

func TestGuardIdentity(t *testing.T) {
	g := NewGuard(424242)
	if !g.IsAuthorized(424242) {
		t.Fatal("expected allowed id to match")
	}
	if g.IsAuthorized(1) {
		t.Fatal("expected different id to fail")
	}
}

func TestGuardZeroNeverMatches(t *testing.T) {
	g := NewGuard(0)
	if g.IsAuthorized(0) {
		t.Fatal("unset identity must not authorize anonymous senders")
	}
}

func TestGuardSwap(t *testing.T) {
	g := NewGuard(1)
	g.SetAllowedID(2)
	if g.IsAuthorized(1) || !g.IsAuthorized(2) {
		t.Fatal("expected swapped identity to apply")
	}
	if g.AllowedID() != 2 {
		t.Fatalf("AllowedID() = %d, want 2", g.AllowedID())
	}
}
