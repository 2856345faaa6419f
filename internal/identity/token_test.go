package identity

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "https://custody.test", time.Minute)
	tenant := uuid.New()
	actor := uuid.New()

	signed, err := issuer.Issue(tenant, &actor)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.TenantID != tenant.String() {
		t.Errorf("tenant_id = %q, want %q", claims.TenantID, tenant)
	}
	if claims.ActorID != actor.String() {
		t.Errorf("actor_id = %q, want %q", claims.ActorID, actor)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a := NewTokenIssuer([]byte("secret-a"), "https://custody.test", time.Minute)
	b := NewTokenIssuer([]byte("secret-b"), "https://custody.test", time.Minute)

	signed, err := a.Issue(uuid.New(), nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(signed); err == nil {
		t.Error("expected verification failure with wrong secret")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "https://custody.test", -time.Minute)
	signed, err := issuer.Issue(uuid.New(), nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(signed); err == nil {
		t.Error("expected verification failure for expired token")
	}
}
